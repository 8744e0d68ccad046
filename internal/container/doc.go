// Package container provides a small token-keyed dependency container.
//
// Components are registered as factories under a Token and built lazily on
// first resolution. Each token yields one instance per container. Bootstrap
// registers the production wiring; tests replace individual tokens with
// doubles before resolving.
package container
