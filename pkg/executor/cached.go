package executor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"kiln/pkg/logger"
	"kiln/pkg/metrics"
	"kiln/pkg/models"
	"kiln/pkg/storage"
)

// CachedExecutor decorates a backend with an action cache, honoring the
// request's cache posture. A hit is only served when the cached stdout and
// stderr digests are still present in the content store; otherwise the
// request falls through to the backend. Cache failures degrade to execution,
// never to a submit failure.
type CachedExecutor struct {
	inner Executor
	cache storage.ActionCache
	store storage.ContentStore
}

func NewCachedExecutor(inner Executor, cache storage.ActionCache, store storage.ContentStore) *CachedExecutor {
	return &CachedExecutor{inner: inner, cache: cache, store: store}
}

func (c *CachedExecutor) Execute(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	fp := req.Fingerprint()

	if req.Policy.CacheRead {
		if outcome := c.lookup(ctx, fp); outcome != nil {
			metrics.ActionCacheHits.Inc()
			// Provenance must say where the result actually came from.
			hit := *outcome
			hit.Metadata.Source = models.SourceCacheHit
			return &hit, nil
		}
		metrics.ActionCacheMisses.Inc()
	}

	outcome, err := c.inner.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Policy.CacheWrite && outcome.ExitCode == 0 {
		if err := c.cache.Put(ctx, fp, outcome); err != nil {
			logger.Warn("action cache write failed", zap.String("fingerprint", string(fp)), zap.Error(err))
		}
	}
	return outcome, nil
}

// lookup returns a verified cached outcome, or nil on any kind of miss.
func (c *CachedExecutor) lookup(ctx context.Context, fp models.Fingerprint) *models.Outcome {
	outcome, err := c.cache.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("action cache read failed", zap.String("fingerprint", string(fp)), zap.Error(err))
		}
		return nil
	}

	digests := []models.Digest{outcome.StdoutDigest, outcome.StderrDigest}
	// The empty tree decodes without a store read, so only a real output
	// root needs its manifest present.
	if outcome.OutputRoot != models.EmptyDigest {
		digests = append(digests, outcome.OutputRoot)
	}
	for _, d := range digests {
		ok, err := c.store.Contains(ctx, d)
		if err != nil || !ok {
			logger.Warn("cached outcome has unretrievable digest, treating as miss",
				zap.String("fingerprint", string(fp)),
				zap.String("digest", d.String()),
			)
			return nil
		}
	}
	return outcome
}
