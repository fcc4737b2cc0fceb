// Package config assembles a simple-upload server from defaults, functional
// options, config files and environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/validate"
	"github.com/tendant/simple-upload/pkg/simpleupload/variant"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		LogLevel:     "info",
		DatabaseType: "memory",
		Upload: UploadConfig{
			TempDir:         "./data/tmp",
			Layout:          simpleupload.LayoutFlat,
			FieldName:       "file",
			NameGenerator:   "ulid",
			MaxRequestBytes: 64 << 20,
		},
		Storage: StorageConfig{
			Type:         "memory",
			Region:       "us-east-1",
			SSEAlgorithm: "AES256",
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				Timeout:             30 * time.Second,
			},
		},
		Publish: PublishConfig{
			BaseURL:    "/files",
			ServeFiles: true,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: time.Hour,
			TTL:      24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "simple_upload",
		},
		Attributes: []simpleupload.AttributeConfig{
			{
				Name:           "file",
				Path:           "files",
				Policy:         simpleupload.PolicyFile,
				Unique:         true,
				DeleteOnSave:   true,
				DeleteOnDelete: true,
			},
		},
	}
}

// ServerConfig represents server configuration for the simple-upload service
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT" env-description:"HTTP listen port" validate:"required"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-description:"development, production or testing" validate:"oneof=development production testing"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-description:"debug, info, warn or error" validate:"oneof=debug info warn error"`

	// Database configuration
	DatabaseType string `yaml:"database_type" env:"DATABASE_TYPE" env-description:"memory or postgres" validate:"oneof=memory postgres"`
	DatabaseURL  string `yaml:"database_url" env:"DATABASE_URL" env-description:"Postgres connection string" validate:"required_if=DatabaseType postgres"`
	DBSchema     string `yaml:"db_schema" env:"DB_SCHEMA" env-description:"Postgres search_path schema"`
	DBMigrate    bool   `yaml:"db_migrate" env:"DB_MIGRATE" env-description:"apply the bundled schema on startup"`

	Upload     UploadConfig                   `yaml:"upload" env-prefix:"UPLOAD_"`
	Storage    StorageConfig                  `yaml:"storage" env-prefix:"STORAGE_"`
	Publish    PublishConfig                  `yaml:"publish" env-prefix:"PUBLISH_"`
	Sweep      SweepConfig                    `yaml:"sweep" env-prefix:"SWEEP_"`
	Metrics    MetricsConfig                  `yaml:"metrics" env-prefix:"METRICS_"`
	Attributes []simpleupload.AttributeConfig `yaml:"attributes" validate:"required,dive"`
}

// UploadConfig configures the temp area and the upload endpoint
type UploadConfig struct {
	TempDir          string                            `yaml:"temp_dir" env:"TEMP_DIR" env-description:"directory holding staged uploads" validate:"required"`
	Layout           simpleupload.Layout               `yaml:"layout" env:"LAYOUT" env-description:"flat or directory temp layout" validate:"oneof=flat directory"`
	Transforms       map[string]simpleupload.Transform `yaml:"transforms"`
	TransmitOriginal bool                              `yaml:"transmit_original" env:"TRANSMIT_ORIGINAL" env-description:"clients upload the untouched original besides the transforms"`
	FieldName        string                            `yaml:"field_name" env:"FIELD_NAME" env-description:"multipart field carrying the files" validate:"required"`
	NameGenerator    string                            `yaml:"name_generator" env:"NAME_GENERATOR" env-description:"ulid or uuid unique name tokens" validate:"oneof=ulid uuid"`
	MaxRequestBytes  int64                             `yaml:"max_request_bytes" env:"MAX_REQUEST_BYTES" env-description:"request body limit in bytes, 0 disables it" validate:"gte=0"`
}

// Settings returns the module-wide upload settings.
func (u UploadConfig) Settings() simpleupload.Settings {
	return simpleupload.Settings{
		TempDir:          u.TempDir,
		Layout:           u.Layout,
		Transforms:       u.Transforms,
		TransmitOriginal: u.TransmitOriginal,
	}
}

// StorageConfig selects and configures the durable BlobStore
type StorageConfig struct {
	Type string `yaml:"type" env:"TYPE" env-description:"memory, fs, s3 or minio" validate:"oneof=memory fs s3 minio"`

	// fs
	BaseDir        string `yaml:"base_dir" env:"BASE_DIR" env-description:"fs root directory" validate:"required_if=Type fs"`
	MaxFilesPerDir int    `yaml:"max_files_per_dir" env:"MAX_FILES_PER_DIR" env-description:"fs shard size, 0 disables sharding" validate:"gte=0"`

	// s3 and minio
	Bucket                 string `yaml:"bucket" env:"BUCKET" validate:"required_if=Type s3,required_if=Type minio"`
	Region                 string `yaml:"region" env:"REGION"`
	Endpoint               string `yaml:"endpoint" env:"ENDPOINT" validate:"required_if=Type minio"`
	AccessKeyID            string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey        string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UseSSL                 bool   `yaml:"use_ssl" env:"USE_SSL"`
	UsePathStyle           bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
	Prefix                 string `yaml:"prefix" env:"PREFIX" env-description:"key prefix for every object"`
	EnableSSE              bool   `yaml:"enable_sse" env:"ENABLE_SSE"`
	SSEAlgorithm           string `yaml:"sse_algorithm" env:"SSE_ALGORITHM"`
	SSEKMSKeyID            string `yaml:"sse_kms_key_id" env:"SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `yaml:"create_bucket_if_not_exist" env:"CREATE_BUCKET"`

	Breaker BreakerConfig `yaml:"breaker" env-prefix:"BREAKER_"`
}

// BreakerConfig wraps the store in a circuit breaker when enabled
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled" env:"ENABLED"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"CONSECUTIVE_FAILURES"`
	Timeout             time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PublishConfig configures public URLs of committed files
type PublishConfig struct {
	BaseURL   string `yaml:"base_url" env:"BASE_URL" env-description:"prefix of public file URLs"`
	CacheSize int    `yaml:"cache_size" env:"CACHE_SIZE" validate:"gte=0"`
	// ServeFiles mounts the development file server at /files.
	ServeFiles bool `yaml:"serve_files" env:"SERVE_FILES"`
}

// SweepConfig schedules removal of expired temp files
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"required_if=Enabled true"`
	TTL      time.Duration `yaml:"ttl" env:"TTL" env-description:"age after which staged files are removed" validate:"required_if=Enabled true"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Attributes))
	declared := ""
	for _, attr := range c.Attributes {
		if seen[attr.Name] {
			return fmt.Errorf("duplicate attribute %q", attr.Name)
		}
		seen[attr.Name] = true
		if err := validate.CheckOptions(attr.Options); err != nil {
			return fmt.Errorf("attribute %s: %w", attr.Name, err)
		}
		// Attributes share the temp area, so declared names of two attributes
		// would land on the same staged paths.
		if !attr.Unique {
			if declared != "" {
				return fmt.Errorf("attributes %s and %s both keep declared file names; enable unique naming on one of them", declared, attr.Name)
			}
			declared = attr.Name
		}
	}

	if _, err := variant.Resolve(c.Upload.Settings()); err != nil {
		return err
	}

	if c.Storage.EnableSSE && c.Storage.SSEAlgorithm != "AES256" && c.Storage.SSEAlgorithm != "aws:kms" {
		return errors.New("storage sse_algorithm must be 'AES256' or 'aws:kms'")
	}

	return nil
}

// IsProduction reports whether the server runs in production
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}
