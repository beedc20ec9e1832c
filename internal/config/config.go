// Package config loads the uploader settings from the process environment,
// optionally populated from a dotenv-style file. A Config is built once at
// start-up and passed explicitly to the components that need it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// Environment keys read by Load.
const (
	KeyCredentialsPath = "CREDENTIALS_PATH"
	KeyBucket          = "STORAGE_BUCKET"
	KeyLogsDir         = "LOGS_DIR"
	KeyTaskID          = "TASK_ID"

	KeyProvider = "STORAGE_PROVIDER"
	KeyRegion   = "STORAGE_REGION"
	KeyEndpoint = "STORAGE_ENDPOINT"
)

// DefaultProvider is the storage backend used when STORAGE_PROVIDER is unset.
const DefaultProvider = "gcs"

// UploadKeys are the settings required to run the upload pipeline, in the
// order they are checked.
var UploadKeys = []string{KeyCredentialsPath, KeyBucket, KeyLogsDir, KeyTaskID}

// ServeKeys are the settings required by the upload form server. The task
// identifier is supplied with each request.
var ServeKeys = []string{KeyCredentialsPath, KeyBucket}

// Config holds the settings for a single process invocation. It is not
// modified after Load returns.
type Config struct {
	CredentialsPath string
	Bucket          string
	LogsDir         string
	TaskID          string

	// Provider selects the object store backend: gcs, s3 or local.
	Provider string

	// Region and Endpoint are only consulted by the s3 backend.
	Region   string
	Endpoint string
}

// MissingConfigError reports a required setting that is unset or empty.
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("config: %s is not set", e.Key)
}

// Load reads the configuration from the environment. When envFile names an
// existing file its KEY=value pairs fill in anything the environment does not
// already define. A missing file is ignored.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(KeyProvider, DefaultProvider)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: failed to read %q: %w", envFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to stat %q: %w", envFile, err)
		}
	}

	return &Config{
		CredentialsPath: v.GetString(KeyCredentialsPath),
		Bucket:          v.GetString(KeyBucket),
		LogsDir:         v.GetString(KeyLogsDir),
		TaskID:          v.GetString(KeyTaskID),
		Provider:        v.GetString(KeyProvider),
		Region:          v.GetString(KeyRegion),
		Endpoint:        v.GetString(KeyEndpoint),
	}, nil
}

// LoadUpload loads the configuration and requires every setting the upload
// pipeline needs.
func LoadUpload(envFile string) (*Config, error) {
	cfg, err := Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(UploadKeys...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns a MissingConfigError for the first of keys whose value is
// empty.
func (c *Config) Validate(keys ...string) error {
	for _, key := range keys {
		if c.value(key) == "" {
			return &MissingConfigError{Key: key}
		}
	}
	return nil
}

func (c *Config) value(key string) string {
	switch key {
	case KeyCredentialsPath:
		return c.CredentialsPath
	case KeyBucket:
		return c.Bucket
	case KeyLogsDir:
		return c.LogsDir
	case KeyTaskID:
		return c.TaskID
	case KeyProvider:
		return c.Provider
	case KeyRegion:
		return c.Region
	case KeyEndpoint:
		return c.Endpoint
	}
	return ""
}
