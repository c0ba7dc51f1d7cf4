package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the archive backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an archive store based on environment variables.
//
// Environment variables:
//   - ACCORD_ARCHIVE_STORAGE: "fs" (default), "s3", or "gcs"
//   - ACCORD_DATA_DIR: Base directory for filesystem archive (default: "data")
//
// For S3:
//   - ACCORD_ARCHIVE_S3_BUCKET (required)
//   - ACCORD_ARCHIVE_S3_REGION or AWS_REGION
//   - ACCORD_ARCHIVE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - ACCORD_ARCHIVE_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - ACCORD_ARCHIVE_GCS_BUCKET (required)
//   - ACCORD_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("ACCORD_ARCHIVE_STORAGE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("ACCORD_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "archive"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ACCORD_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ACCORD_ARCHIVE_S3_BUCKET is required for S3 archiving")
	}

	region := os.Getenv("ACCORD_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ACCORD_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("ACCORD_ARCHIVE_S3_PREFIX"),
	})
}
