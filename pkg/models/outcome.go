package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Source tags where an outcome came from.
type Source string

const (
	SourceLocal    Source = "local-executed"
	SourceRemote   Source = "remote-executed"
	SourceCacheHit Source = "cache-hit"
)

// Metadata describes the provenance of an outcome, not its content.
type Metadata struct {
	// Elapsed is the wall time the process ran for. Zero for cache hits
	// where the original duration was not recorded.
	Elapsed  time.Duration `json:"elapsed"`
	Platform string        `json:"platform"`
	Source   Source        `json:"source"`
	// RunID identifies the engine instance that originally produced the
	// outcome.
	RunID uuid.UUID `json:"run_id"`
}

// Outcome is the raw, digest-referenced result of executing a Request. It is
// produced at most once per distinct request and immutable after creation.
type Outcome struct {
	ExitCode     int      `json:"exit_code"`
	StdoutDigest Digest   `json:"stdout_digest"`
	StderrDigest Digest   `json:"stderr_digest"`
	OutputRoot   Digest   `json:"output_root"`
	Metadata     Metadata `json:"metadata"`
}

// ProcessResult is the terminal, caller-visible value: an Outcome with the
// stdout and stderr byte content inlined. It is assembled once by the
// materializer, all-or-nothing.
type ProcessResult struct {
	Stdout       []byte
	StdoutDigest Digest
	Stderr       []byte
	StderrDigest Digest
	ExitCode     int
	OutputRoot   Digest
	Metadata     Metadata
}

// RunRecord is a persisted provenance row for one executed request.
type RunRecord struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Fingerprint string         `json:"fingerprint" gorm:"type:varchar(64);not null;index"`
	Argv        string         `json:"argv" gorm:"not null"`
	ExitCode    int            `json:"exit_code"`
	Stdout      string         `json:"stdout_digest"`
	Stderr      string         `json:"stderr_digest"`
	OutputRoot  string         `json:"output_root_digest"`
	Source      Source         `json:"source" gorm:"type:varchar(20)"`
	Platform    string         `json:"platform"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	RunID       uuid.UUID      `json:"run_id" gorm:"type:uuid;index"`
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate hook to generate UUID if not present
func (r *RunRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}
