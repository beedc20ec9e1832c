package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// closingUploader closes the local file behind the request before reading it,
// as happens when the file disappears from under a running transfer.
type closingUploader struct{}

func (closingUploader) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	content := req.Content.(*trackedFile)
	_ = content.f.Close()
	if _, err := io.Copy(io.Discard, req.Content); err != nil {
		return nil, &TransferError{ObjectName: req.ObjectName, Err: err}
	}
	return &UploadResult{ObjectName: req.ObjectName}, nil
}

func TestUploadFile_ReadErrorIsLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000007.bin")
	require.NoError(t, os.WriteFile(path, []byte("flight data"), 0o644))

	_, err := UploadFile(context.Background(), closingUploader{}, path, "logs/t.bin")
	require.Error(t, err)

	var localErr *LocalFileError
	require.True(t, errors.As(err, &localErr))
	assert.Equal(t, path, localErr.Path)
	assert.True(t, errors.Is(err, os.ErrClosed))

	var transferErr *TransferError
	assert.False(t, errors.As(err, &transferErr))
}

// gcsFixture serves an OAuth token endpoint and a storage endpoint, and
// writes a service account key pointing at the former.
type gcsFixture struct {
	credentialsPath string
	storage         *httptest.Server

	// completed counts upload requests whose body was received in full.
	completed atomic.Int32
	hits      atomic.Int32
}

func newGCSFixture(t *testing.T, tokenStatus, storageStatus int) *gcsFixture {
	t.Helper()
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	f := &gcsFixture{}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	f.storage = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if _, err := io.ReadAll(r.Body); err != nil {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if storageStatus != http.StatusOK {
			w.WriteHeader(storageStatus)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"backend unavailable"}}`)
			return
		}
		f.completed.Add(1)
		_, _ = io.WriteString(w, `{"bucket":"flight-logs","name":"logs/t.bin","size":"0"}`)
	}))
	t.Cleanup(f.storage.Close)

	f.credentialsPath = writeServiceAccount(t, tokenSrv.URL+"/token")
	return f
}

func (f *gcsFixture) uploader(t *testing.T) *GCSUploader {
	t.Helper()
	log, _ := test.NewNullLogger()

	u, err := NewGCSUploader(context.Background(), log, "flight-logs", f.credentialsPath,
		option.WithEndpoint(f.storage.URL+"/storage/v1/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func writeServiceAccount(t *testing.T, tokenURI string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "flightlog-test",
		"private_key_id": "test-key",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "uploader@flightlog-test.iam.gserviceaccount.com",
		"client_id":      "1",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "service-account.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestGCSUploader_Upload(t *testing.T) {
	ctx := context.Background()
	request := func(content io.Reader) *UploadRequest {
		return &UploadRequest{
			ObjectName:  "logs/t.bin",
			Content:     content,
			Size:        -1,
			ContentType: ContentTypeFlightLog,
		}
	}

	t.Run("rejected credentials", func(t *testing.T) {
		f := newGCSFixture(t, http.StatusBadRequest, http.StatusOK)

		_, err := f.uploader(t).Upload(ctx, request(strings.NewReader("flight data")))

		var authErr *AuthenticationError
		require.True(t, errors.As(err, &authErr), "got %v", err)
		assert.Equal(t, "gcs", authErr.Backend)
		assert.Zero(t, f.hits.Load(), "nothing may reach the bucket")
	})

	t.Run("server error", func(t *testing.T) {
		f := newGCSFixture(t, http.StatusOK, http.StatusServiceUnavailable)

		_, err := f.uploader(t).Upload(ctx, request(strings.NewReader("flight data")))

		var transferErr *TransferError
		require.True(t, errors.As(err, &transferErr), "got %v", err)
		assert.Equal(t, "logs/t.bin", transferErr.ObjectName)
		assert.Zero(t, f.completed.Load())
	})

	t.Run("failed read aborts the object", func(t *testing.T) {
		f := newGCSFixture(t, http.StatusOK, http.StatusOK)
		content := io.MultiReader(
			strings.NewReader("partial"),
			iotest.ErrReader(errors.New("input/output error")),
		)

		_, err := f.uploader(t).Upload(ctx, request(content))

		var transferErr *TransferError
		require.True(t, errors.As(err, &transferErr), "got %v", err)
		assert.Zero(t, f.completed.Load(), "no object may be committed")
	})

	t.Run("success", func(t *testing.T) {
		f := newGCSFixture(t, http.StatusOK, http.StatusOK)

		result, err := f.uploader(t).Upload(ctx, request(strings.NewReader("flight data")))
		require.NoError(t, err)
		assert.Equal(t, "gs://flight-logs/logs/t.bin", result.URI)
		assert.Equal(t, int64(len("flight data")), result.Size)
		assert.Equal(t, int32(1), f.completed.Load())
	})
}

const s3AuthFailure = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>InvalidAccessKeyId</Code><Message>The AWS Access Key Id you provided does not exist in our records.</Message><RequestId>1</RequestId></Error>`

const s3Unavailable = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NotImplemented</Code><Message>A header you provided implies functionality that is not implemented.</Message><RequestId>2</RequestId></Error>`

func writeS3Credentials(t *testing.T, accessKey string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials")
	content := "[default]\naws_access_key_id = " + accessKey + "\naws_secret_access_key = secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolateAWS stops ambient AWS settings from leaking into a test.
func isolateAWS(t *testing.T) {
	t.Helper()

	missing := filepath.Join(t.TempDir(), "missing")
	t.Setenv("AWS_CONFIG_FILE", missing)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", missing)
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

func TestS3Uploader_Upload(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	serve := func(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value) {
		t.Helper()
		var authorization atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization.Store(r.Header.Get("Authorization"))
			_, _ = io.Copy(io.Discard, r.Body)
			if status != http.StatusOK {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(status)
				_, _ = io.WriteString(w, body)
				return
			}
			w.Header().Set("ETag", `"etag"`)
		}))
		t.Cleanup(srv.Close)
		return srv, &authorization
	}

	newUploader := func(t *testing.T, endpoint string) *S3Uploader {
		t.Helper()
		u, err := NewS3Uploader(ctx, log, S3Config{
			Bucket:          "flight-logs",
			CredentialsPath: writeS3Credentials(t, "FILEKEY"),
			Endpoint:        endpoint,
		})
		require.NoError(t, err)
		return u
	}

	request := func() *UploadRequest {
		return &UploadRequest{
			ObjectName:  "logs/t.bin",
			Content:     strings.NewReader("flight data"),
			Size:        int64(len("flight data")),
			ContentType: ContentTypeFlightLog,
		}
	}

	t.Run("rejected credentials", func(t *testing.T) {
		isolateAWS(t)
		srv, _ := serve(t, http.StatusForbidden, s3AuthFailure)

		_, err := newUploader(t, srv.URL).Upload(ctx, request())

		var authErr *AuthenticationError
		require.True(t, errors.As(err, &authErr), "got %v", err)
		assert.Equal(t, "s3", authErr.Backend)
	})

	t.Run("server error", func(t *testing.T) {
		isolateAWS(t)
		srv, _ := serve(t, http.StatusNotImplemented, s3Unavailable)

		_, err := newUploader(t, srv.URL).Upload(ctx, request())

		var transferErr *TransferError
		require.True(t, errors.As(err, &transferErr), "got %v", err)
		assert.Equal(t, "logs/t.bin", transferErr.ObjectName)
	})

	t.Run("credentials come from the file", func(t *testing.T) {
		isolateAWS(t)
		t.Setenv("AWS_ACCESS_KEY_ID", "ENVKEY")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
		srv, authorization := serve(t, http.StatusOK, "")

		result, err := newUploader(t, srv.URL).Upload(ctx, request())
		require.NoError(t, err)
		assert.Equal(t, "s3://flight-logs/logs/t.bin", result.URI)
		assert.Contains(t, authorization.Load(), "Credential=FILEKEY/")
	})
}

func TestNewS3Uploader_CredentialsFile(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	t.Run("missing file", func(t *testing.T) {
		isolateAWS(t)
		t.Setenv("AWS_ACCESS_KEY_ID", "ENVKEY")
		t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")

		_, err := NewS3Uploader(ctx, log, S3Config{
			Bucket:          "flight-logs",
			CredentialsPath: filepath.Join(t.TempDir(), "missing"),
		})

		var authErr *AuthenticationError
		require.True(t, errors.As(err, &authErr), "got %v", err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("file without keys", func(t *testing.T) {
		isolateAWS(t)
		path := filepath.Join(t.TempDir(), "credentials")
		require.NoError(t, os.WriteFile(path, []byte("[other]\naws_access_key_id = X\naws_secret_access_key = Y\n"), 0o600))

		_, err := NewS3Uploader(ctx, log, S3Config{Bucket: "flight-logs", CredentialsPath: path})

		var authErr *AuthenticationError
		assert.True(t, errors.As(err, &authErr), "got %v", err)
	})
}
