package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSUploader uploads objects to a Google Cloud Storage bucket. Firebase
// Storage buckets are GCS buckets and are addressed the same way.
type GCSUploader struct {
	log    logrus.FieldLogger
	client *storage.Client
	bucket string
}

// Ensure interface compliance.
var (
	_ Uploader = (*GCSUploader)(nil)
	_ Signer   = (*GCSUploader)(nil)
)

// NewGCSUploader creates a GCSUploader for the given bucket using the service
// account key at credentialsPath. opts are passed through to the underlying
// GCS client.
func NewGCSUploader(ctx context.Context, log logrus.FieldLogger, bucket, credentialsPath string, opts ...option.ClientOption) (*GCSUploader, error) {
	if credentialsPath != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsPath)}, opts...)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, &AuthenticationError{Backend: "gcs", Err: fmt.Errorf("failed to create GCS client: %w", err)}
	}
	return &GCSUploader{
		log:    log.WithField("component", "gcs-uploader"),
		client: client,
		bucket: bucket,
	}, nil
}

// Upload writes content to GCS at objectName in a single request. If the
// content cannot be fully sent the write is aborted and no object is created.
func (u *GCSUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := u.client.Bucket(u.bucket).Object(req.ObjectName)
	w := obj.NewWriter(ctx)
	w.ContentType = req.ContentType
	// Zero disables chunking: the object is sent in one non-resumable request.
	w.ChunkSize = 0

	u.log.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"object": req.ObjectName,
	}).Debug("Uploading object")

	n, err := io.Copy(w, req.Content)
	if err != nil {
		cancel()
		_ = w.Close()
		return nil, classifyGCSError(req.ObjectName, err)
	}
	if err := w.Close(); err != nil {
		return nil, classifyGCSError(req.ObjectName, err)
	}

	return &UploadResult{
		ObjectName: req.ObjectName,
		URI:        objectURI("gs", u.bucket, req.ObjectName),
		Size:       n,
	}, nil
}

// SignURL returns a V4 signed GET URL for objectName valid for ttl.
func (u *GCSUploader) SignURL(_ context.Context, objectName string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	signedURL, err := u.client.Bucket(u.bucket).SignedURL(objectName, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: expiresAt,
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: failed to sign URL for %q: %w", objectName, err)
	}
	return signedURL, expiresAt, nil
}

// Close releases the underlying GCS client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// classifyGCSError maps an error from the GCS client onto the storage error
// taxonomy. Token exchange failures and 401/403 responses are authentication
// errors; everything else is a transfer error.
func classifyGCSError(objectName string, err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return &AuthenticationError{Backend: "gcs", Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthenticationError{Backend: "gcs", Err: err}
		}
	}

	return &TransferError{ObjectName: objectName, Err: err}
}
