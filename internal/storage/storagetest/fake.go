// Package storagetest provides an in-memory storage.Uploader for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tomasbasham/flightlog/internal/storage"
)

// Object is a stored object as seen by the fake.
type Object struct {
	Data        []byte
	ContentType string
}

// Uploader is a concurrency-safe in-memory uploader. When Err is set every
// Upload fails with it and nothing is stored.
type Uploader struct {
	// Bucket is used to build object URIs.
	Bucket string

	// Err, if non-nil, is returned by Upload.
	Err error

	// SignErr, if non-nil, is returned by SignURL.
	SignErr error

	mu      sync.Mutex
	objects map[string]Object
	calls   int
}

// Ensure interface compliance.
var (
	_ storage.Uploader = (*Uploader)(nil)
	_ storage.Signer   = (*Uploader)(nil)
)

// NewUploader creates an empty fake for bucket.
func NewUploader(bucket string) *Uploader {
	return &Uploader{Bucket: bucket, objects: make(map[string]Object)}
}

func (u *Uploader) Upload(_ context.Context, req *storage.UploadRequest) (*storage.UploadResult, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()

	if u.Err != nil {
		return nil, u.Err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, req.Content); err != nil {
		return nil, &storage.TransferError{ObjectName: req.ObjectName, Err: err}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[req.ObjectName] = Object{Data: buf.Bytes(), ContentType: req.ContentType}

	return &storage.UploadResult{
		ObjectName: req.ObjectName,
		URI:        fmt.Sprintf("mem://%s/%s", u.Bucket, req.ObjectName),
		Size:       int64(buf.Len()),
	}, nil
}

func (u *Uploader) SignURL(_ context.Context, objectName string, ttl time.Duration) (string, time.Time, error) {
	if u.SignErr != nil {
		return "", time.Time{}, u.SignErr
	}
	return fmt.Sprintf("https://signed.example/%s/%s", u.Bucket, objectName), time.Now().Add(ttl), nil
}

// Object returns the object stored under name.
func (u *Uploader) Object(name string) (Object, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	obj, ok := u.objects[name]
	return obj, ok
}

// Len returns the number of stored objects.
func (u *Uploader) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.objects)
}

// Calls returns how many times Upload was invoked.
func (u *Uploader) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.calls
}
