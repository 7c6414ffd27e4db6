package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kiln/pkg/models"
)

// PostgresRunStore persists one provenance row per execution to Postgres.
type PostgresRunStore struct {
	db *gorm.DB
}

// NewPostgresRunStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresRunStore(connString string) (*PostgresRunStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true, // Cache prepared statements for performance
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Optimize Connection Pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresRunStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresRunStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRun inserts a provenance row.
func (s *PostgresRunStore) RecordRun(ctx context.Context, rec *models.RunRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a fingerprint, newest first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, fp models.Fingerprint, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []models.RunRecord
	err := s.db.WithContext(ctx).
		Where("fingerprint = ?", string(fp)).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return recs, nil
}
