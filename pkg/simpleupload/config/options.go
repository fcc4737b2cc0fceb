package config

import (
	"fmt"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithTempDir sets the directory holding staged uploads
func WithTempDir(dir string) Option {
	return func(c *ServerConfig) error {
		if dir == "" {
			return fmt.Errorf("temp directory cannot be empty")
		}
		c.Upload.TempDir = dir
		return nil
	}
}

// WithLayout selects the temp layout
func WithLayout(layout simpleupload.Layout) Option {
	return func(c *ServerConfig) error {
		c.Upload.Layout = layout
		return nil
	}
}

// WithTransforms declares the client-side variants
func WithTransforms(transforms map[string]simpleupload.Transform, transmitOriginal bool) Option {
	return func(c *ServerConfig) error {
		c.Upload.Transforms = transforms
		c.Upload.TransmitOriginal = transmitOriginal
		return nil
	}
}

// WithAttribute adds an attribute, replacing one with the same name. The
// first call drops the default attribute.
func WithAttribute(attr simpleupload.AttributeConfig) Option {
	return func(c *ServerConfig) error {
		if attr.Name == "" {
			return fmt.Errorf("attribute name cannot be empty")
		}
		if isDefaultAttributes(c.Attributes) {
			c.Attributes = nil
		}
		for i := range c.Attributes {
			if c.Attributes[i].Name == attr.Name {
				c.Attributes[i] = attr
				return nil
			}
		}
		c.Attributes = append(c.Attributes, attr)
		return nil
	}
}

func isDefaultAttributes(attrs []simpleupload.AttributeConfig) bool {
	d := defaults().Attributes
	return len(attrs) == len(d) && len(attrs) == 1 && attrs[0].Name == d[0].Name && attrs[0].Path == d[0].Path
}

// WithMemoryStorage stores committed files in memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage.Type = "memory"
		return nil
	}
}

// WithFilesystemStorage stores committed files below baseDir. A positive
// maxFilesPerDir enables directory sharding.
func WithFilesystemStorage(baseDir string, maxFilesPerDir int) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage.Type = "fs"
		c.Storage.BaseDir = baseDir
		c.Storage.MaxFilesPerDir = maxFilesPerDir
		return nil
	}
}

// WithS3Storage stores committed files in an S3 bucket
func WithS3Storage(bucket, region, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.Storage.Type = "s3"
		c.Storage.Bucket = bucket
		if region != "" {
			c.Storage.Region = region
		}
		c.Storage.Endpoint = endpoint
		c.Storage.UsePathStyle = usePathStyle
		return nil
	}
}

// WithMinIOStorage stores committed files in a MinIO bucket
func WithMinIOStorage(endpoint, bucket string, useSSL bool) Option {
	return func(c *ServerConfig) error {
		if endpoint == "" || bucket == "" {
			return fmt.Errorf("minio endpoint and bucket cannot be empty")
		}
		c.Storage.Type = "minio"
		c.Storage.Endpoint = endpoint
		c.Storage.Bucket = bucket
		c.Storage.UseSSL = useSSL
		return nil
	}
}

// WithStorageCredentials sets the object store credentials
func WithStorageCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.Storage.AccessKeyID = accessKeyID
		c.Storage.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithBreaker guards the store with a circuit breaker
func WithBreaker(consecutiveFailures uint32, timeout time.Duration) Option {
	return func(c *ServerConfig) error {
		c.Storage.Breaker = BreakerConfig{
			Enabled:             true,
			ConsecutiveFailures: consecutiveFailures,
			Timeout:             timeout,
		}
		return nil
	}
}

// WithPublishBase sets the prefix of public file URLs
func WithPublishBase(baseURL string, serveFiles bool) Option {
	return func(c *ServerConfig) error {
		c.Publish.BaseURL = baseURL
		c.Publish.ServeFiles = serveFiles
		return nil
	}
}

// WithSweep schedules the temp sweeper. A zero interval disables it.
func WithSweep(interval, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.Sweep = SweepConfig{Enabled: interval > 0, Interval: interval, TTL: ttl}
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics
func WithMetrics(enabled bool, namespace string) Option {
	return func(c *ServerConfig) error {
		c.Metrics.Enabled = enabled
		if namespace != "" {
			c.Metrics.Namespace = namespace
		}
		return nil
	}
}
