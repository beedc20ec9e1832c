package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/flightlog/internal/config"
)

// Provider names accepted in STORAGE_PROVIDER.
const (
	ProviderGCS   = "gcs"
	ProviderS3    = "s3"
	ProviderLocal = "local"
)

// Open creates the uploader selected by cfg.Provider. For the local provider
// the bucket is the base directory objects are written beneath.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (Uploader, error) {
	var (
		u   Uploader
		err error
	)

	switch cfg.Provider {
	case ProviderGCS, "":
		u, err = NewGCSUploader(ctx, log, cfg.Bucket, cfg.CredentialsPath)
	case ProviderS3:
		u, err = NewS3Uploader(ctx, log, S3Config{
			Bucket:          cfg.Bucket,
			CredentialsPath: cfg.CredentialsPath,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
		})
	case ProviderLocal:
		u, err = NewLocalUploader(log, cfg.Bucket)
	default:
		return nil, fmt.Errorf("storage: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
