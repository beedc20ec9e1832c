// Package storage provides an abstraction for uploading flight logs to an
// object store. GCS is the production backend; S3-compatible stores and a
// local directory are also supported, and the interface allows alternative
// implementations for testing.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ContentTypeFlightLog is the MIME type used for uploaded flight logs.
const ContentTypeFlightLog = "application/octet-stream"

// DefaultSignedURLTTL is how long download URLs stay valid unless configured
// otherwise.
const DefaultSignedURLTTL = 1 * time.Hour

// Uploader persists objects to a storage backend. An existing object with the
// same name is overwritten.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

// Signer is implemented by backends able to hand out time-limited download
// URLs for stored objects.
type Signer interface {
	SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, time.Time, error)
}

type UploadRequest struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// Content is the data to be uploaded.
	Content io.Reader

	// Size is the length of Content in bytes, or -1 when unknown.
	Size int64

	// ContentType is the MIME type of the content.
	ContentType string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// URI is the canonical identifier of the stored object, e.g.
	// gs://bucket/logs/task.bin.
	URI string

	// Size is the number of bytes written.
	Size int64
}

// UploadFile streams the file at localPath to objectName. The file is closed
// on every return path. Failures to open or read the file are reported as
// LocalFileError so they are never mistaken for transport failures.
func UploadFile(ctx context.Context, u Uploader, localPath, objectName string) (*UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, &LocalFileError{Path: localPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &LocalFileError{Path: localPath, Err: err}
	}
	if info.IsDir() {
		return nil, &LocalFileError{Path: localPath, Err: errors.New("is a directory")}
	}

	content := &trackedFile{f: f}
	result, err := u.Upload(ctx, &UploadRequest{
		ObjectName:  objectName,
		Content:     content,
		Size:        info.Size(),
		ContentType: ContentTypeFlightLog,
	})
	if content.err != nil {
		return nil, &LocalFileError{Path: localPath, Err: content.err}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the resources held by u, if it holds any.
func Close(u Uploader) error {
	if c, ok := u.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// trackedFile remembers the first read error of the underlying file so that
// it can be told apart from errors raised by the backend. It stays seekable
// so backends may rewind or measure the body.
type trackedFile struct {
	f   *os.File
	err error
}

func (t *trackedFile) Read(p []byte) (int, error) {
	n, err := t.f.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func (t *trackedFile) Seek(offset int64, whence int) (int64, error) {
	return t.f.Seek(offset, whence)
}

func objectURI(scheme, bucket, objectName string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, objectName)
}
