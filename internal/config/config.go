// Package config loads the uploadctl configuration from a YAML file, the
// environment and command line flags.
package config

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	upload "github.com/input-output-hk/catalyst-forge-libs/upload"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// EnvPrefix is the prefix of environment overrides, e.g. UPLOADCTL_SIGNER_BUCKET.
const EnvPrefix = "UPLOADCTL"

// AllMetaFields in allowed_meta_fields sends every metadata key.
const AllMetaFields = "*"

// Signer types
const (
	SignerS3     = "s3"
	SignerMinio  = "minio"
	SignerRemote = "remote"
)

// Config is the uploadctl configuration.
type Config struct {
	Limit             int
	Timeout           time.Duration
	ChunkSize         bytesize.ByteSize
	Threshold         bytesize.ByteSize
	FieldName         string
	AllowedMetaFields []string
	Headers           map[string]string
	LogLevel          slog.Level

	Signer    SignerConfig
	Companion CompanionConfig
}

// SignerConfig selects and configures the signing collaborator.
type SignerConfig struct {
	// Type is one of s3, minio or remote
	Type string

	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	Secure          bool
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Expires         time.Duration
	PostPolicy      bool

	// URL is the companion service used by the remote signer
	URL string

	// Token is sent as a bearer token by the remote signer
	Token string
}

// CompanionConfig configures the companion signing service.
type CompanionConfig struct {
	Addr string
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"limit":         "limit",
	"timeout":       "timeout",
	"chunk-size":    "chunk_size",
	"threshold":     "threshold",
	"field-name":    "field_name",
	"log-level":     "log_level",
	"signer":        "signer.type",
	"bucket":        "signer.bucket",
	"region":        "signer.region",
	"endpoint":      "signer.endpoint",
	"path-style":    "signer.force_path_style",
	"secure":        "signer.secure",
	"prefix":        "signer.prefix",
	"post-policy":   "signer.post_policy",
	"companion-url": "signer.url",
	"addr":          "companion.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("limit", 4)
	v.SetDefault("timeout", upload.DefaultTimeout)
	v.SetDefault("chunk_size", "5MB")
	v.SetDefault("threshold", "100MB")
	v.SetDefault("field_name", upload.DefaultFieldName)
	v.SetDefault("log_level", "info")
	v.SetDefault("signer.type", SignerS3)
	v.SetDefault("signer.region", "us-east-1")
	v.SetDefault("signer.expires", 15*time.Minute)
	v.SetDefault("companion.addr", ":8080")
}

// Load reads the configuration. Values are resolved in the order flags,
// environment, file, defaults. An empty path skips the file and a nil flag
// set skips flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Invalid("config", "reading %s: %v", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Invalid("config", "binding flag %s: %v", name, err)
				}
			}
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	chunk, err := parseSize(v.GetString("chunk_size"))
	if err != nil {
		return nil, errors.Invalid("config", "chunk_size: %v", err)
	}
	threshold, err := parseSize(v.GetString("threshold"))
	if err != nil {
		return nil, errors.Invalid("config", "threshold: %v", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, errors.Invalid("config", "log_level: %v", err)
	}

	cfg := &Config{
		Limit:             v.GetInt("limit"),
		Timeout:           v.GetDuration("timeout"),
		ChunkSize:         chunk,
		Threshold:         threshold,
		FieldName:         v.GetString("field_name"),
		AllowedMetaFields: v.GetStringSlice("allowed_meta_fields"),
		Headers:           v.GetStringMapString("headers"),
		LogLevel:          level,
		Signer: SignerConfig{
			Type:            strings.ToLower(v.GetString("signer.type")),
			Bucket:          v.GetString("signer.bucket"),
			Region:          v.GetString("signer.region"),
			Endpoint:        v.GetString("signer.endpoint"),
			ForcePathStyle:  v.GetBool("signer.force_path_style"),
			Secure:          v.GetBool("signer.secure"),
			AccessKeyID:     v.GetString("signer.access_key_id"),
			SecretAccessKey: v.GetString("signer.secret_access_key"),
			Prefix:          v.GetString("signer.prefix"),
			Expires:         v.GetDuration("signer.expires"),
			PostPolicy:      v.GetBool("signer.post_policy"),
			URL:             v.GetString("signer.url"),
			Token:           v.GetString("signer.token"),
		},
		Companion: CompanionConfig{
			Addr: v.GetString("companion.addr"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSize accepts a plain byte count or a human size such as "5MB".
func parseSize(raw string) (bytesize.ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return bytesize.New(float64(n)), nil
	}
	return bytesize.Parse(raw)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Limit < 0 {
		return errors.Invalid("config", "limit must not be negative")
	}
	if c.Timeout < 0 {
		return errors.Invalid("config", "timeout must not be negative")
	}
	switch c.Signer.Type {
	case SignerS3, SignerMinio:
		if c.Signer.Bucket == "" {
			return errors.Invalid("config", "signer.bucket is required for the %s signer", c.Signer.Type)
		}
		if err := validation.BucketName(c.Signer.Bucket); err != nil {
			return err
		}
		if c.Signer.Type == SignerMinio && c.Signer.Endpoint == "" {
			return errors.Invalid("config", "signer.endpoint is required for the minio signer")
		}
	case SignerRemote:
		if c.Signer.URL == "" {
			return errors.Invalid("config", "signer.url is required for the remote signer")
		}
	default:
		return errors.Invalid("config", "unknown signer type %q", c.Signer.Type)
	}
	return nil
}

// UploadOptions returns the uploader options described by the configuration.
func (c *Config) UploadOptions(logger *slog.Logger) []uploadtypes.Option {
	opts := []uploadtypes.Option{
		upload.WithLimit(c.Limit),
		upload.WithTimeout(c.Timeout),
		upload.WithMultipartThreshold(int64(c.Threshold)),
		upload.WithChunkSize(int64(c.ChunkSize)),
		upload.WithLogger(logger),
	}
	if c.FieldName != "" {
		opts = append(opts, upload.WithFieldName(c.FieldName))
	}
	switch {
	case slices.Contains(c.AllowedMetaFields, AllMetaFields):
		opts = append(opts, upload.WithAllMetaFields())
	case len(c.AllowedMetaFields) > 0:
		opts = append(opts, upload.WithAllowedMetaFields(c.AllowedMetaFields...))
	}
	if len(c.Headers) > 0 {
		opts = append(opts, upload.WithHeaders(c.Headers))
	}
	return opts
}
