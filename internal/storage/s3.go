package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// DefaultS3Region is used when no region is configured.
const DefaultS3Region = "us-east-1"

// authErrorCodes are S3 error codes that indicate rejected credentials.
var authErrorCodes = map[string]bool{
	"AccessDenied":                 true,
	"AuthorizationHeaderMalformed": true,
	"ExpiredToken":                 true,
	"InvalidAccessKeyId":           true,
	"InvalidToken":                 true,
	"SignatureDoesNotMatch":        true,
}

// S3Config configures an S3Uploader.
type S3Config struct {
	Bucket string

	// CredentialsPath is a shared credentials file in the AWS INI format.
	CredentialsPath string

	Region string

	// Endpoint overrides the service endpoint for S3-compatible stores. Path
	// style addressing is used when it is set.
	Endpoint string
}

// S3Uploader uploads objects to an S3 bucket or an S3-compatible store.
type S3Uploader struct {
	log     logrus.FieldLogger
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
}

// Ensure interface compliance.
var (
	_ Uploader = (*S3Uploader)(nil)
	_ Signer   = (*S3Uploader)(nil)
)

// NewS3Uploader creates an S3Uploader. Credentials are read from
// CredentialsPath only, ahead of any upload, so an unusable file is reported
// before the transfer starts and environment or instance credentials are
// never substituted for it.
func NewS3Uploader(ctx context.Context, log logrus.FieldLogger, cfg S3Config) (*S3Uploader, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultS3Region
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(region),
	}
	if cfg.CredentialsPath != "" {
		provider, err := sharedCredentials(ctx, cfg.CredentialsPath)
		if err != nil {
			return nil, &AuthenticationError{Backend: "s3", Err: err}
		}
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(provider))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &AuthenticationError{Backend: "s3", Err: fmt.Errorf("load aws config: %w", err)}
	}
	if awsCfg.Credentials == nil {
		return nil, &AuthenticationError{Backend: "s3", Err: fmt.Errorf("no credentials configured")}
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, &AuthenticationError{Backend: "s3", Err: fmt.Errorf("retrieve credentials: %w", err)}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		log:     log.WithField("component", "s3-uploader"),
		bucket:  cfg.Bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Upload writes content to objectName with a single PutObject call.
func (u *S3Uploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(req.ObjectName),
		Body:        req.Content,
		ContentType: aws.String(req.ContentType),
	}
	if req.Size >= 0 {
		input.ContentLength = aws.Int64(req.Size)
	}

	u.log.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"key":    req.ObjectName,
	}).Debug("Uploading object")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return nil, classifyS3Error(req.ObjectName, err)
	}

	return &UploadResult{
		ObjectName: req.ObjectName,
		URI:        objectURI("s3", u.bucket, req.ObjectName),
		Size:       req.Size,
	}, nil
}

// SignURL returns a presigned GET URL for objectName valid for ttl.
func (u *S3Uploader) SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(objectName),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: failed to presign %q: %w", objectName, err)
	}
	return req.URL, expiresAt, nil
}

// classifyS3Error maps an error from the S3 client onto the storage error
// taxonomy.
func classifyS3Error(objectName string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return &AuthenticationError{Backend: "s3", Err: err}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthenticationError{Backend: "s3", Err: err}
		}
	}

	return &TransferError{ObjectName: objectName, Err: err}
}

// sharedCredentials reads the default profile of the AWS shared credentials
// file at path.
func sharedCredentials(ctx context.Context, path string) (aws.CredentialsProvider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("credentials file: %w", err)
	}

	shared, err := awscfg.LoadSharedConfigProfile(ctx, awscfg.DefaultSharedConfigProfile, func(o *awscfg.LoadSharedConfigOptions) {
		o.CredentialsFiles = []string{path}
		o.ConfigFiles = []string{}
	})
	if err != nil {
		return nil, fmt.Errorf("read credentials file %s: %w", path, err)
	}
	if !shared.Credentials.HasKeys() {
		return nil, fmt.Errorf("credentials file %s has no access keys in profile %q", path, awscfg.DefaultSharedConfigProfile)
	}

	return credentials.NewStaticCredentialsProvider(
		shared.Credentials.AccessKeyID,
		shared.Credentials.SecretAccessKey,
		shared.Credentials.SessionToken,
	), nil
}
