package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// Executor runs a canonical process request and produces a digest-referenced
// outcome. Implementations are polymorphic over local, remote and cached
// strategies; a backend is selected by configuration at construction time,
// never by runtime type inspection. An executor never returns an outcome
// whose digests are not retrievable from the content store it wrote to.
type Executor interface {
	Execute(ctx context.Context, req *models.Request) (*models.Outcome, error)
}

// ErrorKind classifies executor-level failures.
type ErrorKind string

const (
	KindLaunch         ErrorKind = "launch"
	KindTimeout        ErrorKind = "timeout"
	KindUnavailable    ErrorKind = "unavailable"
	KindOutputMismatch ErrorKind = "output-mismatch"
)

// ExecutionError is an executor-level failure. Retry policy, if any, lives
// with the backend that produced it, not with callers.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErrorf(kind ErrorKind, format string, args ...any) error {
	return &ExecutionError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Options configures backend construction for a Selector.
type Options struct {
	Store storage.ContentStore
	// Cache enables the cached decorator around every backend; whether a
	// given request reads or writes it is the request's cache posture.
	// Nil disables action caching entirely.
	Cache storage.ActionCache
	// RemoteEndpoint is the base URL of a peer engine. Empty disables the
	// remote strategy.
	RemoteEndpoint string
	RunID          uuid.UUID
}

// Selector owns the executor stacks, built once at construction. Local
// execution shares one slot pool across all requests; remote execution
// shares one circuit breaker.
type Selector struct {
	local  Executor
	remote Executor // nil when no endpoint is configured
}

func NewSelector(opts Options) *Selector {
	var local Executor = NewLocalExecutor(opts.Store, opts.RunID)
	var remote Executor
	if opts.RemoteEndpoint != "" {
		remote = NewRemoteExecutor(opts.RemoteEndpoint)
	}
	if opts.Cache != nil {
		local = NewCachedExecutor(local, opts.Cache, opts.Store)
		if remote != nil {
			remote = NewCachedExecutor(remote, opts.Cache, opts.Store)
		}
	}
	return &Selector{local: local, remote: remote}
}

// For resolves the backend for a policy. StrategyAuto prefers remote when a
// peer is configured.
func (s *Selector) For(policy models.ExecutionPolicy) (Executor, error) {
	switch policy.Strategy {
	case models.StrategyLocal:
		return s.local, nil
	case models.StrategyRemote:
		if s.remote == nil {
			return nil, execErrorf(KindUnavailable, "remote strategy requested but no remote endpoint configured")
		}
		return s.remote, nil
	case models.StrategyAuto:
		if s.remote != nil {
			return s.remote, nil
		}
		return s.local, nil
	default:
		return nil, execErrorf(KindUnavailable, "unknown execution strategy %q", policy.Strategy)
	}
}

// Local returns the local stack regardless of policy. The peer execute
// endpoint uses it so two engines cannot bounce a request between them.
func (s *Selector) Local() Executor { return s.local }
