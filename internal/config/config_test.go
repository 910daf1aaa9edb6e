package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uploadctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		env      map[string]string
		flags    []string
		wantErr  bool
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{"UPLOADCTL_SIGNER_BUCKET": "bkt"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4, cfg.Limit)
				assert.Equal(t, 30*time.Second, cfg.Timeout)
				assert.Equal(t, 5*bytesize.MB, cfg.ChunkSize)
				assert.Equal(t, 100*bytesize.MB, cfg.Threshold)
				assert.Equal(t, SignerS3, cfg.Signer.Type)
				assert.Equal(t, "us-east-1", cfg.Signer.Region)
				assert.Equal(t, 15*time.Minute, cfg.Signer.Expires)
				assert.Equal(t, ":8080", cfg.Companion.Addr)
				assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
			},
		},
		{
			name: "file",
			file: `
limit: 8
timeout: 1m
chunk_size: 16MB
threshold: 1048576
log_level: debug
allowed_meta_fields: [name, owner]
headers:
  x-team: forge
signer:
  type: minio
  bucket: uploads
  endpoint: localhost:9000
  prefix: in/
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Limit)
				assert.Equal(t, time.Minute, cfg.Timeout)
				assert.Equal(t, 16*bytesize.MB, cfg.ChunkSize)
				assert.Equal(t, bytesize.MB, cfg.Threshold)
				assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
				assert.Equal(t, []string{"name", "owner"}, cfg.AllowedMetaFields)
				assert.Equal(t, map[string]string{"x-team": "forge"}, cfg.Headers)
				assert.Equal(t, SignerMinio, cfg.Signer.Type)
				assert.Equal(t, "localhost:9000", cfg.Signer.Endpoint)
				assert.Equal(t, "in/", cfg.Signer.Prefix)
			},
		},
		{
			name: "env overrides file",
			file: "signer:\n  type: s3\n  bucket: from-file\n",
			env:  map[string]string{"UPLOADCTL_SIGNER_BUCKET": "from-env", "UPLOADCTL_LIMIT": "2"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Signer.Bucket)
				assert.Equal(t, 2, cfg.Limit)
			},
		},
		{
			name:  "flags override env",
			env:   map[string]string{"UPLOADCTL_SIGNER_BUCKET": "bkt", "UPLOADCTL_LIMIT": "2"},
			flags: []string{"--limit=6", "--chunk-size=8MB", "--signer=remote", "--companion-url=http://localhost:8080"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6, cfg.Limit)
				assert.Equal(t, 8*bytesize.MB, cfg.ChunkSize)
				assert.Equal(t, SignerRemote, cfg.Signer.Type)
				assert.Equal(t, "http://localhost:8080", cfg.Signer.URL)
			},
		},
		{
			name:    "missing bucket",
			wantErr: true,
		},
		{
			name:    "remote without url",
			env:     map[string]string{"UPLOADCTL_SIGNER_TYPE": "remote"},
			wantErr: true,
		},
		{
			name:    "unknown signer",
			env:     map[string]string{"UPLOADCTL_SIGNER_TYPE": "gcs"},
			wantErr: true,
		},
		{
			name:    "bad size",
			env:     map[string]string{"UPLOADCTL_SIGNER_BUCKET": "bkt", "UPLOADCTL_CHUNK_SIZE": "lots"},
			wantErr: true,
		},
		{
			name:    "bad log level",
			env:     map[string]string{"UPLOADCTL_SIGNER_BUCKET": "bkt", "UPLOADCTL_LOG_LEVEL": "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var path string
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			var flags *pflag.FlagSet
			if tt.flags != nil {
				flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
				flags.Int("limit", 0, "")
				flags.String("chunk-size", "", "")
				flags.String("signer", "", "")
				flags.String("companion-url", "", "")
				require.NoError(t, flags.Parse(tt.flags))
			}

			cfg, err := Load(path, flags)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		raw  string
		want bytesize.ByteSize
	}{
		{"1024", bytesize.KB},
		{"5MB", 5 * bytesize.MB},
		{" 2GB ", 2 * bytesize.GB},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestConfig_UploadOptions_MetaFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   []string
	}{
		{name: "unset keeps none", fields: nil, want: []string{}},
		{name: "listed", fields: []string{"name"}, want: []string{"name"}},
		{name: "wildcard sends all", fields: []string{"name", AllMetaFields}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := uploadtypes.Config{AllowedMetaFields: []string{}}
			for _, opt := range (&Config{AllowedMetaFields: tt.fields}).UploadOptions(slog.Default()) {
				opt(&c)
			}
			assert.Equal(t, tt.want, c.AllowedMetaFields)
		})
	}
}

func TestConfig_UploadOptions(t *testing.T) {
	cfg := &Config{
		Limit:             3,
		Timeout:           time.Second,
		ChunkSize:         8 * bytesize.MB,
		Threshold:         64 * bytesize.MB,
		FieldName:         "upload",
		AllowedMetaFields: []string{"name"},
		Headers:           map[string]string{"x": "y"},
	}

	var c uploadtypes.Config
	for _, opt := range cfg.UploadOptions(slog.Default()) {
		opt(&c)
	}

	assert.Equal(t, 3, c.Limit)
	assert.Equal(t, time.Second, c.Timeout)
	assert.Equal(t, int64(8*uploadtypes.MiB), c.GetChunkSize(nil))
	assert.False(t, c.ShouldUseMultipart(&uploadtypes.File{Size: 64 * uploadtypes.MiB}))
	assert.True(t, c.ShouldUseMultipart(&uploadtypes.File{Size: 64*uploadtypes.MiB + 1}))
	assert.Equal(t, "upload", c.FieldName)
	assert.Equal(t, []string{"name"}, c.AllowedMetaFields)
	assert.Equal(t, "y", c.Headers["x"])
}
