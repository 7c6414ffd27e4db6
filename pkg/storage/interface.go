package storage

import (
	"context"
	"errors"

	"kiln/pkg/models"
)

var (
	// ErrNotFound is returned when a digest has no content in the store.
	ErrNotFound = errors.New("digest not found")
	// ErrIntegrity is returned when loaded bytes do not match their digest.
	ErrIntegrity = errors.New("content integrity violation")
)

// ContentStore is addressable blob storage keyed by digest. Writes of
// identical content are idempotent and reads of the same digest are
// data-race-free by construction, so no locking is required above an
// implementation.
type ContentStore interface {
	// Put stores the bytes and returns their digest.
	Put(ctx context.Context, data []byte) (models.Digest, error)

	// Load returns the bytes for the digest. The returned bytes always
	// hash back to the digest; a mismatch is reported as ErrIntegrity,
	// never as garbage bytes.
	Load(ctx context.Context, d models.Digest) ([]byte, error)

	// Contains reports whether the digest is present without loading it.
	Contains(ctx context.Context, d models.Digest) (bool, error)
}

// ActionCache maps a request fingerprint to a previously computed outcome.
// It backs the cached executor's read/write posture.
type ActionCache interface {
	Get(ctx context.Context, fp models.Fingerprint) (*models.Outcome, error)
	Put(ctx context.Context, fp models.Fingerprint, outcome *models.Outcome) error
}

// RunStore persists provenance records for executed requests. Recording is
// best-effort: the engine logs failures and never fails a submit over them.
type RunStore interface {
	RecordRun(ctx context.Context, rec *models.RunRecord) error
	ListRuns(ctx context.Context, fp models.Fingerprint, limit int) ([]models.RunRecord, error)
}
