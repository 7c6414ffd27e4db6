package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"kiln/pkg/executor/runner"
	"kiln/pkg/logger"
	"kiln/pkg/metrics"
	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// LocalExecutor runs processes on this host. Each invocation gets a fresh
// sandbox directory with the request's input tree materialized into it;
// stdout, stderr and declared outputs are captured into the content store
// before the outcome is returned, so every digest in an outcome is loadable.
type LocalExecutor struct {
	store  storage.ContentStore
	runner runner.Runner
	runID  uuid.UUID
	slots  chan struct{}
}

// NewLocalExecutor sizes its concurrency to the host: one slot per CPU,
// halved when the machine has little memory to spare.
func NewLocalExecutor(store storage.ContentStore, runID uuid.UUID) *LocalExecutor {
	n := runtime.NumCPU()
	if detectTotalMemoryMB() < 2048 && n > 1 {
		n = n / 2
	}
	return &LocalExecutor{
		store:  store,
		runner: runner.NewSandboxRunner(),
		runID:  runID,
		slots:  make(chan struct{}, n),
	}
}

func detectTotalMemoryMB() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("failed to detect memory, assuming 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Execute runs the request in a sandbox and returns its outcome.
func (e *LocalExecutor) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, execErrorf(KindLaunch, "cancelled while waiting for an execution slot: %v", ctx.Err())
	}

	metrics.ExecutionsRunning.Inc()
	defer metrics.ExecutionsRunning.Dec()

	sandbox, err := os.MkdirTemp("", "kiln-sandbox-*")
	if err != nil {
		return nil, execErrorf(KindLaunch, "failed to create sandbox: %v", err)
	}
	defer os.RemoveAll(sandbox)

	if err := storage.MaterializeTree(ctx, e.store, req.InputRoot, sandbox); err != nil {
		return nil, execErrorf(KindLaunch, "failed to materialize input root: %v", err)
	}

	workDir := sandbox
	if req.WorkingDir != "" {
		workDir = filepath.Join(sandbox, req.WorkingDir)
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return nil, execErrorf(KindLaunch, "failed to create working dir: %v", err)
		}
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result := e.runner.Run(runCtx, workDir, req.Argv, req.Env)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, execErrorf(KindTimeout, "process exceeded timeout of %v", req.Timeout)
	}
	// An ExitError means the process actually ran; a signal-terminated run
	// surfaces as an outcome with exit code -1, not a launch failure.
	var exitErr *exec.ExitError
	if result.Err != nil && !errors.As(result.Err, &exitErr) {
		return nil, execErrorf(KindLaunch, "failed to launch %q: %v", req.Argv[0], result.Err)
	}

	stdoutDigest, err := e.store.Put(ctx, result.Stdout)
	if err != nil {
		return nil, execErrorf(KindLaunch, "failed to store stdout: %v", err)
	}
	stderrDigest, err := e.store.Put(ctx, result.Stderr)
	if err != nil {
		return nil, execErrorf(KindLaunch, "failed to store stderr: %v", err)
	}

	outputRoot, err := storage.WriteTree(ctx, e.store, sandbox, req.OutputPaths)
	if err != nil {
		return nil, execErrorf(KindOutputMismatch, "declared outputs not produced: %v", err)
	}

	logger.Debug("local execution finished",
		zap.Strings("argv", req.Argv),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("elapsed", result.Duration),
	)

	return &models.Outcome{
		ExitCode:     result.ExitCode,
		StdoutDigest: stdoutDigest,
		StderrDigest: stderrDigest,
		OutputRoot:   outputRoot,
		Metadata: models.Metadata{
			Elapsed:  result.Duration,
			Platform: req.Policy.Platform,
			Source:   models.SourceLocal,
			RunID:    e.runID,
		},
	}, nil
}
