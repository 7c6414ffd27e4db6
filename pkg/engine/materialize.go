package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// RetrievalError is a content store failure during materialization, naming
// the stream that failed.
type RetrievalError struct {
	Stream string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("failed to retrieve %s content: %v", e.Stream, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Materialize turns an outcome into a ProcessResult by loading the stdout
// and stderr bytes from the store. The two loads race concurrently; the
// first failure cancels the group and propagates immediately without waiting
// for the sibling. Either both streams load or the caller gets an error —
// partial results are never produced. No retries happen here.
func Materialize(ctx context.Context, store storage.ContentStore, outcome *models.Outcome) (*models.ProcessResult, error) {
	var stdout, stderr []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := store.Load(gctx, outcome.StdoutDigest)
		if err != nil {
			return models.Enrich(&RetrievalError{Stream: "stdout", Err: err}, "Bytes from stdout")
		}
		stdout = data
		return nil
	})
	g.Go(func() error {
		data, err := store.Load(gctx, outcome.StderrDigest)
		if err != nil {
			return models.Enrich(&RetrievalError{Stream: "stderr", Err: err}, "Bytes from stderr")
		}
		stderr = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.ProcessResult{
		Stdout:       stdout,
		StdoutDigest: outcome.StdoutDigest,
		Stderr:       stderr,
		StderrDigest: outcome.StderrDigest,
		ExitCode:     outcome.ExitCode,
		OutputRoot:   outcome.OutputRoot,
		Metadata:     outcome.Metadata,
	}, nil
}
