// Package upload composes the uploader pipeline:
//
//	config → select → upload
//
// Each stage runs once and a failure ends the invocation. The error of the
// failing stage is returned unchanged, wrapped in a StageError naming the
// stage.
package upload

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/flightlog/internal/config"
	"github.com/tomasbasham/flightlog/internal/logfile"
	"github.com/tomasbasham/flightlog/internal/storage"
)

// KeyPrefix is the directory flight logs are stored under in the bucket.
const KeyPrefix = "logs/"

// ObjectKey returns the destination key for a task: logs/{taskID}.bin.
func ObjectKey(taskID string) string {
	return KeyPrefix + taskID + logfile.Suffix
}

// Stage identifies a step of the pipeline.
type Stage string

const (
	StageConfig Stage = "config"
	StageSelect Stage = "select"
	StageUpload Stage = "upload"
)

// StageError tags an error with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Request describes a single upload. It is built immediately before the
// upload and never persisted.
type Request struct {
	TaskID         string
	SourcePath     string
	DestinationKey string
}

// NewRequest builds the request uploading sourcePath for taskID.
func NewRequest(taskID, sourcePath string) Request {
	return Request{
		TaskID:         taskID,
		SourcePath:     sourcePath,
		DestinationKey: ObjectKey(taskID),
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Success bool

	// Request is the zero value when the pipeline failed before the upload
	// stage.
	Request Request

	// URI is the canonical identifier of the uploaded object.
	URI string

	// Err is the StageError of a failed run.
	Err error
}

// Transfer uploads the file named by req using u.
func Transfer(ctx context.Context, u storage.Uploader, req Request) (*storage.UploadResult, error) {
	return storage.UploadFile(ctx, u, req.SourcePath, req.DestinationKey)
}

// Pipeline wires the stages together. Each field is a capability so tests
// can substitute any stage.
type Pipeline struct {
	// LoadConfig returns the validated configuration.
	LoadConfig func() (*config.Config, error)

	// Select returns the log file to upload.
	Select func(cfg *config.Config) (logfile.LogFile, error)

	// OpenUploader creates the object store client for cfg.
	OpenUploader func(ctx context.Context, cfg *config.Config) (storage.Uploader, error)

	Log logrus.FieldLogger
}

// Run executes the pipeline once. The returned Result is never nil; on
// failure its Err is also returned.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg, err := p.LoadConfig()
	if err != nil {
		return fail(&Result{}, StageConfig, err)
	}

	latest, err := p.Select(cfg)
	if err != nil {
		return fail(&Result{}, StageSelect, err)
	}

	result := &Result{Request: NewRequest(cfg.TaskID, latest.Path)}
	log := p.Log.WithFields(logrus.Fields{
		"source": result.Request.SourcePath,
		"key":    result.Request.DestinationKey,
		"bucket": cfg.Bucket,
	})

	uploader, err := p.OpenUploader(ctx, cfg)
	if err != nil {
		return fail(result, StageUpload, err)
	}
	defer func() {
		if err := storage.Close(uploader); err != nil {
			log.WithError(err).Warn("Failed to close uploader")
		}
	}()

	log.Info("Uploading log file")
	uploaded, err := Transfer(ctx, uploader, result.Request)
	if err != nil {
		return fail(result, StageUpload, err)
	}

	result.Success = true
	result.URI = uploaded.URI
	log.WithField("uri", uploaded.URI).Info("Upload completed")

	return result, nil
}

func fail(result *Result, stage Stage, err error) (*Result, error) {
	result.Err = &StageError{Stage: stage, Err: err}
	return result, result.Err
}
