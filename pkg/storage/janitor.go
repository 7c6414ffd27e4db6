package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kiln/pkg/logger"
	"kiln/pkg/metrics"
)

// Janitor evicts blobs from a local blob root that have not been touched
// within the retention window. It runs on a cron schedule so a long-lived
// engine does not grow its local CAS without bound.
type Janitor struct {
	root      string
	retention time.Duration
	cron      *cron.Cron
}

// NewJanitor sweeps root on the given cron spec (e.g. "@hourly"), evicting
// blobs older than retention.
func NewJanitor(root string, spec string, retention time.Duration) (*Janitor, error) {
	j := &Janitor{
		root:      root,
		retention: retention,
		cron:      cron.New(),
	}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduled sweeps.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling; an in-progress sweep finishes.
func (j *Janitor) Stop() { j.cron.Stop() }

// sweep removes expired blob files. Removal errors are logged and skipped;
// a blob that survives one sweep is picked up by the next.
func (j *Janitor) sweep() {
	cutoff := time.Now().Add(-j.retention)
	var evicted int

	err := filepath.Walk(j.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("janitor failed to evict blob", zap.String("path", path), zap.Error(err))
			return nil
		}
		evicted++
		return nil
	})
	if err != nil {
		logger.Warn("janitor sweep failed", zap.String("root", j.root), zap.Error(err))
		return
	}

	metrics.BlobsEvicted.Add(float64(evicted))
	logger.Info("janitor sweep complete",
		zap.String("root", j.root),
		zap.Int("evicted", evicted),
	)
}
