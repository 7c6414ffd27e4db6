package runner

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// SandboxRunner runs processes with an explicit environment and working
// directory. The host environment is never inherited: the process sees only
// the variables the request declared.
type SandboxRunner struct{}

func NewSandboxRunner() *SandboxRunner {
	return &SandboxRunner{}
}

func (s *SandboxRunner) Run(ctx context.Context, dir string, argv []string, env map[string]string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = flattenEnv(env)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	// Setpgid gives the child its own process group so the whole tree can
	// be killed on cancellation, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			// Other error (e.g. failed to start, caught signal)
			exitCode = -1
		}
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		Duration: duration,
		Err:      err,
	}
}

// flattenEnv renders the map as sorted KEY=VALUE pairs. Sorting keeps
// process spawns reproducible for the same request.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
