// Command run executes a single process through the engine with an in-memory
// content store and prints the materialized result. Useful for smoke-testing
// an executor setup without standing up the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"kiln/pkg/engine"
	"kiln/pkg/logger"
	"kiln/pkg/models"
	"kiln/pkg/storage"
)

func main() {
	var (
		env     = flag.String("env", "", "comma-separated KEY=VALUE pairs")
		timeout = flag.Duration("timeout", 0, "process timeout (0 = none)")
		outputs = flag.String("outputs", "", "comma-separated declared output paths")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: run [flags] -- <argv...>")
		os.Exit(2)
	}

	cfg := logger.DefaultConfig("kiln-run")
	cfg.Encoding = "console"
	cfg.Level = "warn"
	if _, err := logger.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	desc := models.Description{
		Argv:        flag.Args(),
		Env:         splitList(*env),
		OutputPaths: splitList(*outputs),
		Timeout:     *timeout,
	}
	policy := models.ExecutionPolicy{
		Platform: "local",
		Strategy: models.StrategyLocal,
	}

	eng := engine.New(engine.Config{
		Store: storage.NewMemoryContentStore(),
	})

	start := time.Now()
	result, err := eng.Submit(context.Background(), desc, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	os.Stdout.Write(result.Stdout)
	os.Stderr.Write(result.Stderr)
	fmt.Fprintf(os.Stderr, "\nexit=%d source=%s elapsed=%v total=%v output_root=%s\n",
		result.ExitCode, result.Metadata.Source, result.Metadata.Elapsed,
		time.Since(start), result.OutputRoot)
	os.Exit(result.ExitCode)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
