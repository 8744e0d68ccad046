// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/sessionguard/internal/infra/buildinfo.Version=v1.0.0"
//
// Commit and GoVersion fall back to the module build info when not set.
package buildinfo
