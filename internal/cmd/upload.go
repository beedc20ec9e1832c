package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/flightlog/internal/config"
	"github.com/tomasbasham/flightlog/internal/logfile"
	"github.com/tomasbasham/flightlog/internal/storage"
	"github.com/tomasbasham/flightlog/internal/upload"
)

// UploadOptions configures a single pipeline run.
type UploadOptions struct {
	*FlightlogOptions

	// DiscoverMounts adds flight-controller volumes found under the usual
	// removable media roots to the directories searched.
	DiscoverMounts bool
}

func NewUploadOptions(o *FlightlogOptions) *UploadOptions {
	return &UploadOptions{FlightlogOptions: o}
}

func (o *UploadOptions) Validate() error {
	return nil
}

func (o *UploadOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	selector := logfile.NewSelector(o.fs, o.log)

	pipeline := &upload.Pipeline{
		LoadConfig: func() (*config.Config, error) {
			return config.LoadUpload(o.EnvFile)
		},
		Select: func(cfg *config.Config) (logfile.LogFile, error) {
			if !o.DiscoverMounts {
				return selector.SelectLatest(cfg.LogsDir, logfile.Suffix)
			}
			dirs := append([]string{cfg.LogsDir}, logfile.DiscoverMounts(o.fs, logfile.MountRoots(os.Getenv("USER")))...)
			o.log.WithField("dirs", dirs).Info("Searching log directories")
			return selector.SelectLatestFrom(dirs, logfile.Suffix)
		},
		OpenUploader: func(ctx context.Context, cfg *config.Config) (storage.Uploader, error) {
			return storage.Open(ctx, cfg, o.log)
		},
		Log: o.log,
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		var stageErr *upload.StageError
		if errors.As(err, &stageErr) {
			o.log.WithFields(logrus.Fields{
				"stage": stageErr.Stage,
				"error": stageErr.Err,
			}).Error("Upload failed")
		}
		return err
	}

	fmt.Fprintf(o.Out, "Uploaded %s to %s\n", result.Request.SourcePath, result.URI)
	return nil
}
