package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"kiln/pkg/metrics"
	"kiln/pkg/models"
)

// S3ContentStore keeps blobs in S3-compatible storage, keyed by digest hash.
// An optional local cache directory serves repeated reads without a round
// trip; cached files are verified against their digest before use.
type S3ContentStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3ContentStoreConfig holds S3 configuration
type S3ContentStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "cas/blobs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string // Local cache for frequently loaded blobs
}

// NewS3ContentStore creates a new S3-backed content store
func NewS3ContentStore(cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	// Custom credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3ContentStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

func (s *S3ContentStore) key(d models.Digest) string {
	return fmt.Sprintf("%s%s/%s", s.prefix, d.Hash[:2], d.Hash)
}

// Put uploads the bytes under their digest key. Re-uploading identical
// content overwrites the object with the same bytes, so concurrent writes
// are idempotent.
func (s *S3ContentStore) Put(ctx context.Context, data []byte) (models.Digest, error) {
	d := models.NewDigest(data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(d)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return models.Digest{}, fmt.Errorf("failed to upload blob to S3: %w", err)
	}

	// Also cache locally for fast loads
	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, d.Hash), data, 0644)
	}
	metrics.StoreWriteBytes.Add(float64(len(data)))
	return d, nil
}

// Load fetches and verifies the blob for the digest.
func (s *S3ContentStore) Load(ctx context.Context, d models.Digest) ([]byte, error) {
	// Check local cache first
	if s.localCache != "" {
		if data, err := os.ReadFile(filepath.Join(s.localCache, d.Hash)); err == nil && d.Verify(data) {
			metrics.StoreReadBytes.Add(float64(len(data)))
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(d)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, d)
		}
		return nil, fmt.Errorf("failed to get blob from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}
	if !d.Verify(data) {
		return nil, fmt.Errorf("%w: blob %s failed verification", ErrIntegrity, d)
	}

	// Update cache
	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, d.Hash), data, 0644)
	}
	metrics.StoreReadBytes.Add(float64(len(data)))
	return data, nil
}

// Contains issues a HEAD request for the digest key.
func (s *S3ContentStore) Contains(ctx context.Context, d models.Digest) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(d)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head blob %s: %w", d, err)
	}
	return true, nil
}
