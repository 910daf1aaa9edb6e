package upload

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Defaults
const (
	DefaultTimeout              = 30 * time.Second
	DefaultChunkSize            = 5 * uploadtypes.MiB
	DefaultFieldName            = "file"
	DefaultResponseURLFieldName = "location"
)

func defaultConfig() *uploadtypes.Config {
	return &uploadtypes.Config{
		Limit:                0,
		Timeout:              DefaultTimeout,
		ShouldUseMultipart:   func(*uploadtypes.File) bool { return false },
		GetChunkSize:         func(*uploadtypes.File) int64 { return DefaultChunkSize },
		ChunkLimits:          uploadtypes.DefaultChunkLimits(),
		AllowedMetaFields:    []string{},
		FieldName:            DefaultFieldName,
		ResponseURLFieldName: DefaultResponseURLFieldName,
	}
}

// WithLimit sets the maximum number of concurrent transfers across all files.
// Default is 0, which admits every transfer immediately.
func WithLimit(limit int) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if limit >= 0 {
			c.Limit = limit
		}
	}
}

// WithTimeout sets the stall window of a single transfer. A transfer that
// reports no progress for this long after its first progress is aborted with a
// timeout error. Default is 30 seconds. Set to 0 to disable the stall timer.
func WithTimeout(timeout time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if timeout >= 0 {
			c.Timeout = timeout
		}
	}
}

// WithMultipart uploads every non-empty file in parts when enabled.
// Default is false.
func WithMultipart(enabled bool) uploadtypes.Option {
	return WithMultipartFunc(func(*uploadtypes.File) bool { return enabled })
}

// WithMultipartFunc selects the multipart strategy per file.
func WithMultipartFunc(fn func(*uploadtypes.File) bool) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if fn != nil {
			c.ShouldUseMultipart = fn
		}
	}
}

// WithMultipartThreshold uploads files larger than threshold bytes in parts.
func WithMultipartThreshold(threshold int64) uploadtypes.Option {
	return WithMultipartFunc(MultipartThreshold(threshold))
}

// MultipartThreshold returns a predicate selecting files strictly larger than
// threshold bytes.
func MultipartThreshold(threshold int64) func(*uploadtypes.File) bool {
	return func(f *uploadtypes.File) bool {
		return f.Size > threshold
	}
}

// WithChunkSize sets the desired part size of multipart uploads.
// The size is adjusted to the chunk limits. Default is 5 MiB.
func WithChunkSize(size int64) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if size > 0 {
			c.GetChunkSize = func(*uploadtypes.File) int64 { return size }
		}
	}
}

// WithChunkSizeFunc sets the desired part size per file.
func WithChunkSizeFunc(fn func(*uploadtypes.File) int64) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if fn != nil {
			c.GetChunkSize = fn
		}
	}
}

// WithChunkLimits sets the part constraints of the object store.
// Default is the S3 limits: 5 MiB minimum, 5 GiB maximum, 10000 parts.
func WithChunkLimits(limits uploadtypes.ChunkLimits) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.ChunkLimits = limits
	}
}

// WithAllowedMetaFields sets the metadata keys sent with form uploads.
// Default is none.
func WithAllowedMetaFields(fields ...string) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.AllowedMetaFields = append([]string{}, fields...)
	}
}

// WithAllMetaFields sends every metadata key with form uploads.
func WithAllMetaFields() uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.AllowedMetaFields = nil
	}
}

// WithFieldName sets the form field carrying the file content.
// Default is "file".
func WithFieldName(name string) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if name != "" {
			c.FieldName = name
		}
	}
}

// WithHeaders adds headers to every direct upload request.
// Headers returned by the signer take precedence.
func WithHeaders(headers map[string]string) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithValidateStatus sets the predicate deciding whether a response status is
// a success. Default accepts 2xx.
func WithValidateStatus(fn func(status int) bool) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.ValidateStatus = fn
	}
}

// WithResponseURLFieldName sets the response body field holding the location
// of the uploaded object. Default is "location".
func WithResponseURLFieldName(name string) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		if name != "" {
			c.ResponseURLFieldName = name
		}
	}
}

// WithResponseParser sets the response body parser.
// The default understands S3 XML documents and JSON objects.
func WithResponseParser(fn func(raw []byte, resp *http.Response) map[string]any) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.ParseResponse = fn
	}
}

// WithErrorParser sets the parser extracting an error message from a rejected
// response body.
func WithErrorParser(fn func(raw []byte, resp *http.Response) string) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.ParseError = fn
	}
}

// WithHTTPClient sets the HTTP client used for transfers.
func WithHTTPClient(client *http.Client) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) uploadtypes.Option {
	return func(c *uploadtypes.Config) {
		c.Logger = logger
	}
}
