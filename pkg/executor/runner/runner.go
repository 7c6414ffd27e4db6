package runner

import (
	"context"
	"time"
)

// Result captures the raw outcome of running a process in a sandbox.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	Err      error // detailed go error if any
}

// Runner executes a single process inside a prepared working directory.
type Runner interface {
	// Run executes argv in dir with exactly the given environment. The
	// context carries the request's timeout, if any.
	Run(ctx context.Context, dir string, argv []string, env map[string]string) Result
}
