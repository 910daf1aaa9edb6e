package s3signer

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultExpires is the validity of presigned requests.
const DefaultExpires = 15 * time.Minute

// Config holds configuration for a Signer.
type Config struct {
	// Region is the AWS region; the default credential chain decides when empty
	Region string

	// Endpoint overrides the S3 endpoint, e.g. for S3-compatible stores
	Endpoint string

	// ForcePathStyle addresses buckets by path instead of virtual host
	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials
	AccessKeyID     string
	SecretAccessKey string

	// Prefix is prepended to every object key
	Prefix string

	// Expires is the validity of presigned requests
	Expires time.Duration

	// PostPolicy signs direct uploads as POST policy forms instead of PUT URLs
	PostPolicy bool

	// CustomAWSConfig replaces the default AWS configuration
	CustomAWSConfig *aws.Config

	Logger *slog.Logger
}

// Option is a functional option for configuring a Signer.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithForcePathStyle enables path-style addressing.
func WithForcePathStyle(enabled bool) Option {
	return func(c *Config) {
		c.ForcePathStyle = enabled
	}
}

// WithStaticCredentials uses the given access key instead of the default
// credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
	}
}

// WithPrefix sets the key prefix of uploaded objects.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithExpires sets the validity of presigned requests. Default is 15 minutes.
func WithExpires(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Expires = d
		}
	}
}

// WithPostPolicy signs direct uploads as POST policy forms.
func WithPostPolicy(enabled bool) Option {
	return func(c *Config) {
		c.PostPolicy = enabled
	}
}

// WithAWSConfig uses a preconfigured AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(c *Config) {
		c.CustomAWSConfig = &cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
