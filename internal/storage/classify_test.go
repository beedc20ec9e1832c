package storage

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassifyGCSError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{
			name:     "unauthorized",
			err:      &googleapi.Error{Code: http.StatusUnauthorized},
			wantAuth: true,
		},
		{
			name:     "forbidden wrapped",
			err:      fmt.Errorf("writer: %w", &googleapi.Error{Code: http.StatusForbidden}),
			wantAuth: true,
		},
		{
			name: "server error",
			err:  &googleapi.Error{Code: http.StatusServiceUnavailable},
		},
		{
			name: "network error",
			err:  errors.New("dial tcp: i/o timeout"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGCSError("logs/t.bin", tt.err)
			assertClassified(t, got, tt.err, tt.wantAuth)
		})
	}
}

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{
			name:     "access denied",
			err:      &smithy.GenericAPIError{Code: "AccessDenied"},
			wantAuth: true,
		},
		{
			name: "bad signature inside operation error",
			err: &smithy.OperationError{
				ServiceID:     "S3",
				OperationName: "PutObject",
				Err:           &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"},
			},
			wantAuth: true,
		},
		{
			name: "throttled",
			err:  &smithy.GenericAPIError{Code: "SlowDown"},
		},
		{
			name: "canceled",
			err:  errors.New("context deadline exceeded"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyS3Error("logs/t.bin", tt.err)
			assertClassified(t, got, tt.err, tt.wantAuth)
		})
	}
}

func assertClassified(t *testing.T, got, cause error, wantAuth bool) {
	t.Helper()

	assert.ErrorIs(t, got, cause)

	var authErr *AuthenticationError
	var transferErr *TransferError
	if wantAuth {
		assert.True(t, errors.As(got, &authErr), "expected authentication error, got %T", got)
		return
	}
	if assert.True(t, errors.As(got, &transferErr), "expected transfer error, got %T", got) {
		assert.Equal(t, "logs/t.bin", transferErr.ObjectName)
	}
}
