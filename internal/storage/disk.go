package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalUploader writes objects to a directory on the local filesystem. It is
// intended for development and for hosts that sync a directory elsewhere.
// The signed URL returned is a file:// URL; local files never expire.
type LocalUploader struct {
	log     logrus.FieldLogger
	baseDir string
}

// Ensure interface compliance.
var (
	_ Uploader = (*LocalUploader)(nil)
	_ Signer   = (*LocalUploader)(nil)
)

// NewLocalUploader creates a LocalUploader that writes objects under
// baseDir. The directory is created if it does not already exist.
func NewLocalUploader(log logrus.FieldLogger, baseDir string) (*LocalUploader, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalUploader{
		log:     log.WithField("component", "local-uploader"),
		baseDir: abs,
	}, nil
}

// Upload writes content to baseDir/objectName, creating any intermediate
// directories as needed. Content is written to a temporary file first and
// renamed into place, so a failed write leaves any previous object intact.
func (u *LocalUploader) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	dest := u.path(req.ObjectName)
	if !strings.HasPrefix(dest, u.baseDir+string(filepath.Separator)) {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: fmt.Errorf("object name escapes %s", u.baseDir)}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, req.Content)
	if err != nil {
		_ = tmp.Close()
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}

	u.log.WithFields(logrus.Fields{
		"path":  dest,
		"bytes": n,
	}).Debug("Wrote object")

	return &UploadResult{
		ObjectName: req.ObjectName,
		URI:        fileURL(dest),
		Size:       n,
	}, nil
}

// SignURL returns the file:// URL of objectName with a zero expiry.
func (u *LocalUploader) SignURL(_ context.Context, objectName string, _ time.Duration) (string, time.Time, error) {
	return fileURL(u.path(objectName)), time.Time{}, nil
}

func (u *LocalUploader) path(objectName string) string {
	return filepath.Join(u.baseDir, filepath.FromSlash(objectName))
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
