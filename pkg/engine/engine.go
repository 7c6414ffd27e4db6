// Package engine orchestrates the execution pipeline: lift a raw process
// description into a canonical request, dispatch it through the memo table
// to an executor backend, and materialize the digest-referenced outcome into
// a byte-inlined result.
package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kiln/pkg/executor"
	"kiln/pkg/logger"
	"kiln/pkg/metrics"
	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// Config wires an Engine's collaborators.
type Config struct {
	Store storage.ContentStore
	// Cache is optional; nil disables action caching regardless of policy.
	Cache storage.ActionCache
	// Runs is optional; nil disables provenance recording.
	Runs storage.RunStore
	// RemoteEndpoint enables the remote execution strategy when non-empty.
	RemoteEndpoint string
}

// Engine is the execution core. It owns the memo table, the content store
// handle, and a RunID identifying this instance in provenance metadata.
type Engine struct {
	store    storage.ContentStore
	runs     storage.RunStore
	selector *executor.Selector
	runID    uuid.UUID
	memo     *Memo
}

func New(cfg Config) *Engine {
	runID := uuid.New()
	return &Engine{
		store: cfg.Store,
		runs:  cfg.Runs,
		selector: executor.NewSelector(executor.Options{
			Store:          cfg.Store,
			Cache:          cfg.Cache,
			RemoteEndpoint: cfg.RemoteEndpoint,
			RunID:          runID,
		}),
		runID: runID,
		memo:  NewMemo(),
	}
}

// RunID identifies this engine instance.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Submit is the single caller-facing operation: lift, execute (memoized),
// materialize. Every error carries a stage label so the caller can tell
// which stage failed; partial results are never returned.
func (e *Engine) Submit(ctx context.Context, desc models.Description, policy models.ExecutionPolicy) (*models.ProcessResult, error) {
	ctx, span := otel.Tracer("kiln/engine").Start(ctx, "engine.Submit")
	defer span.End()

	req, err := models.Lift(desc, policy)
	if err != nil {
		return nil, models.Enrich(err, "Error lifting Process")
	}
	span.SetAttributes(
		attribute.String("process.argv0", req.Argv[0]),
		attribute.String("process.fingerprint", string(req.Fingerprint())),
	)

	exec, err := e.selector.For(policy)
	if err != nil {
		return nil, models.Enrich(err, "Error selecting executor")
	}

	outcome, err := e.memo.Do(ctx, req, e.recording(exec))
	if err != nil {
		return nil, models.Enrich(err, "Error executing Process")
	}

	result, err := Materialize(ctx, e.store, outcome)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Execute runs an already-lifted request through the memo table, without
// materialization. The API server's peer execute endpoint uses this; it
// always runs on the local stack so two engines cannot bounce a request
// between them.
func (e *Engine) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	return e.memo.Do(ctx, req, e.recording(e.selector.Local()))
}

// Runs exposes provenance history, if a run store is configured.
func (e *Engine) Runs(ctx context.Context, fp models.Fingerprint, limit int) ([]models.RunRecord, error) {
	if e.runs == nil {
		return nil, nil
	}
	return e.runs.ListRuns(ctx, fp, limit)
}

// execFunc adapts a closure to executor.Executor.
type execFunc func(context.Context, *models.Request) (*models.Outcome, error)

func (f execFunc) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	return f(ctx, req)
}

// recording wraps a backend so provenance and execution metrics are emitted
// exactly once per execution, on the memo's node-completion side. Attached
// callers that dedup onto the same node never record again.
func (e *Engine) recording(exec executor.Executor) executor.Executor {
	return execFunc(func(ctx context.Context, req *models.Request) (*models.Outcome, error) {
		outcome, err := exec.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		e.record(ctx, req, outcome)
		metrics.RecordExecution(string(outcome.Metadata.Source), exitStatus(outcome.ExitCode), outcome.Metadata.Elapsed.Seconds())
		return outcome, nil
	})
}

// record persists one provenance row. Best-effort: a run store failure is
// logged, never surfaced to the submitter.
func (e *Engine) record(ctx context.Context, req *models.Request, outcome *models.Outcome) {
	if e.runs == nil {
		return
	}
	rec := &models.RunRecord{
		Fingerprint: string(req.Fingerprint()),
		Argv:        strings.Join(req.Argv, " "),
		ExitCode:    outcome.ExitCode,
		Stdout:      outcome.StdoutDigest.String(),
		Stderr:      outcome.StderrDigest.String(),
		OutputRoot:  outcome.OutputRoot.String(),
		Source:      outcome.Metadata.Source,
		Platform:    outcome.Metadata.Platform,
		ElapsedMS:   outcome.Metadata.Elapsed.Milliseconds(),
		RunID:       outcome.Metadata.RunID,
	}
	if err := e.runs.RecordRun(ctx, rec); err != nil {
		logger.Warn("failed to record run provenance", zap.Error(err))
	}
}

func exitStatus(code int) string {
	if code == 0 {
		return "success"
	}
	return "failed"
}
