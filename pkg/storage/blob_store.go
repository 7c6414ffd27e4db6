package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kiln/pkg/metrics"
	"kiln/pkg/models"
)

// MemoryContentStore keeps blobs in memory. Used by tests and cmd/run.
type MemoryContentStore struct {
	mu    sync.RWMutex
	blobs map[models.Digest][]byte
}

// NewMemoryContentStore creates an empty in-memory store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{blobs: make(map[models.Digest][]byte)}
}

// Put stores the bytes under their digest.
func (m *MemoryContentStore) Put(ctx context.Context, data []byte) (models.Digest, error) {
	d := models.NewDigest(data)
	m.mu.Lock()
	if _, ok := m.blobs[d]; !ok {
		m.blobs[d] = append([]byte(nil), data...)
	}
	m.mu.Unlock()
	metrics.StoreWriteBytes.Add(float64(len(data)))
	return d, nil
}

// Load returns a copy of the bytes for the digest.
func (m *MemoryContentStore) Load(ctx context.Context, d models.Digest) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[d]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d)
	}
	metrics.StoreReadBytes.Add(float64(len(data)))
	return append([]byte(nil), data...), nil
}

// Contains reports whether the digest is present.
func (m *MemoryContentStore) Contains(ctx context.Context, d models.Digest) (bool, error) {
	m.mu.RLock()
	_, ok := m.blobs[d]
	m.mu.RUnlock()
	return ok, nil
}

// LocalContentStore stores blobs on the local filesystem, sharded by the
// first two hash characters:
//
//	{root}/
//	  {hash[0:2]}/
//	    {hash}
//
// Blobs are written via a temp file + rename so a concurrent reader never
// observes a partial blob. Content is re-hashed on read; a mismatch (e.g. a
// corrupted blob file) surfaces as ErrIntegrity, never as garbage bytes.
type LocalContentStore struct {
	root string
}

// NewLocalContentStore creates the blob root if needed.
func NewLocalContentStore(root string) (*LocalContentStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &LocalContentStore{root: root}, nil
}

// Root returns the blob root directory. The janitor sweeps it.
func (l *LocalContentStore) Root() string { return l.root }

func (l *LocalContentStore) blobPath(d models.Digest) string {
	return filepath.Join(l.root, d.Hash[:2], d.Hash)
}

// Put writes the bytes to their blob path. Writing content that already
// exists is a no-op, which makes concurrent identical writes idempotent.
func (l *LocalContentStore) Put(ctx context.Context, data []byte) (models.Digest, error) {
	d := models.NewDigest(data)
	path := l.blobPath(d)

	if _, err := os.Stat(path); err == nil {
		return d, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.Digest{}, fmt.Errorf("failed to create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return models.Digest{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return models.Digest{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return models.Digest{}, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return models.Digest{}, fmt.Errorf("failed to publish blob: %w", err)
	}
	metrics.StoreWriteBytes.Add(float64(len(data)))
	return d, nil
}

// Load reads and verifies the blob for the digest.
func (l *LocalContentStore) Load(ctx context.Context, d models.Digest) ([]byte, error) {
	data, err := os.ReadFile(l.blobPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, d)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", d, err)
	}
	if !d.Verify(data) {
		return nil, fmt.Errorf("%w: blob %s failed verification", ErrIntegrity, d)
	}
	metrics.StoreReadBytes.Add(float64(len(data)))
	return data, nil
}

// Contains reports whether the blob file exists.
func (l *LocalContentStore) Contains(ctx context.Context, d models.Digest) (bool, error) {
	_, err := os.Stat(l.blobPath(d))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", d, err)
}
