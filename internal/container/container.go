package container

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Token names a registered dependency.
type Token string

// Well-known tokens.
const (
	ITokenValidator       Token = "ITokenValidator"
	IProfileStore         Token = "IProfileStore"
	IRetryCoordinator     Token = "IRetryCoordinator"
	IAuthStateManager     Token = "IAuthStateManager"
	IIdentityAuthority    Token = "IIdentityAuthority"
	IProfileDocumentStore Token = "IProfileDocumentStore"
	IMetrics              Token = "IMetrics"
	ILogger               Token = "ILogger"
)

var (
	// ErrNotRegistered is returned when no factory exists for a token.
	ErrNotRegistered = errors.New("container: token not registered")

	// ErrCycle is returned when resolving a token requires itself.
	ErrCycle = errors.New("container: dependency cycle")

	// ErrClosed is returned by Resolve after Close.
	ErrClosed = errors.New("container: closed")
)

// Resolver resolves tokens. Factories receive one scoped to the resolution
// in progress so they can pull their own dependencies.
type Resolver interface {
	Resolve(token Token) (any, error)
}

// Factory builds the instance for a token.
type Factory func(r Resolver) (any, error)

// Container holds factories and the singletons they produced.
//
// Resolution runs under a single lock. Factories must only resolve through
// the Resolver they are given.
type Container struct {
	mu        sync.Mutex
	factories map[Token]Factory
	instances map[Token]any
	order     []Token
	closed    bool
}

// New creates an empty container.
func New() *Container {
	return &Container{
		factories: make(map[Token]Factory),
		instances: make(map[Token]any),
	}
}

// Register installs factory for token, replacing any previous registration.
// A cached instance of the token is dropped; the caller owns closing it.
func (c *Container) Register(token Token, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[token] = factory
	if _, ok := c.instances[token]; ok {
		delete(c.instances, token)
		c.order = slices.DeleteFunc(c.order, func(t Token) bool { return t == token })
	}
}

// RegisterInstance registers a pre-built value for token.
func (c *Container) RegisterInstance(token Token, v any) {
	c.Register(token, func(Resolver) (any, error) { return v, nil })
}

// Registered reports whether token has a factory.
func (c *Container) Registered(token Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.factories[token]
	return ok
}

// Resolve returns the instance for token, building it on first use.
func (c *Container) Resolve(token Token) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.resolveLocked(token, nil)
}

func (c *Container) resolveLocked(token Token, path []Token) (any, error) {
	if v, ok := c.instances[token]; ok {
		return v, nil
	}
	if slices.Contains(path, token) {
		return nil, fmt.Errorf("%w: %s", ErrCycle, formatPath(append(path, token)))
	}
	factory, ok := c.factories[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, token)
	}

	v, err := factory(&scope{c: c, path: append(path, token)})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", token, err)
	}
	c.instances[token] = v
	c.order = append(c.order, token)
	return v, nil
}

// Close closes every resolved instance implementing io.Closer, in reverse
// creation order, and rejects further resolution.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for i := len(c.order) - 1; i >= 0; i-- {
		token := c.order[i]
		if closer, ok := c.instances[token].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", token, err))
			}
		}
	}
	c.instances = make(map[Token]any)
	c.order = nil
	return errors.Join(errs...)
}

// scope is the Resolver handed to a factory. It resolves under the lock
// already held by the outer Resolve and carries the token path for cycle
// detection.
type scope struct {
	c    *Container
	path []Token
}

func (s *scope) Resolve(token Token) (any, error) {
	return s.c.resolveLocked(token, slices.Clip(s.path))
}

// ResolveAs resolves token and asserts the instance to T.
func ResolveAs[T any](r Resolver, token Token) (T, error) {
	var zero T
	v, err := r.Resolve(token)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: %s is %T, not %v", token, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// MustResolveAs is ResolveAs for process wiring; it panics on error.
func MustResolveAs[T any](r Resolver, token Token) T {
	t, err := ResolveAs[T](r, token)
	if err != nil {
		panic(err)
	}
	return t
}

func formatPath(path []Token) string {
	parts := make([]string, len(path))
	for i, t := range path {
		parts[i] = string(t)
	}
	return strings.Join(parts, " -> ")
}
