//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ACCORD_ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ACCORD_ARCHIVE_GCS_BUCKET is required for GCS archiving")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ACCORD_ARCHIVE_GCS_PREFIX"),
	})
}
