// Package uploadtypes provides shared type definitions for the upload module.
package uploadtypes

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Strategy is the upload path chosen for a file.
type Strategy string

// Upload strategies
const (
	// StrategyDirect uploads the whole file with a single request
	StrategyDirect Strategy = "direct"

	// StrategyMultipart uploads the file as independently signed parts
	StrategyMultipart Strategy = "multipart"
)

// Phase is the lifecycle phase of one file upload.
type Phase string

// File upload phases
const (
	PhaseQueued     Phase = "queued"
	PhaseUploading  Phase = "uploading"
	PhaseCompleting Phase = "completing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

// Queue priorities. Direct uploads and parts share one priority so that
// work from different files interleaves in arrival order.
const (
	DirectPriority = 1
	PartPriority   = 1
)

// File is a file to upload.
type File struct {
	// ID uniquely identifies the file within one Uploader
	ID string

	// Name is the file name sent to the signer
	Name string

	// Type is the MIME type of the content
	Type string

	// Size is the content size in bytes
	Size int64

	// Meta contains user-defined metadata
	Meta map[string]string

	// Data provides random access to the content
	Data io.ReaderAt
}

// Progress is the aggregate byte progress of one file.
type Progress struct {
	BytesUploaded int64
	BytesTotal    int64
}

// FileUploadState is the observable state of one file upload.
type FileUploadState struct {
	FileID        string
	Strategy      Strategy
	Phase         Phase
	BytesUploaded int64
	BytesTotal    int64

	// Err is the last error recorded for the file, if any
	Err error

	UpdatedAt time.Time
}

// Response is a successful or rejected HTTP response from the object store.
type Response struct {
	// Status is the HTTP status code
	Status int

	// Header holds the response headers
	Header http.Header

	// Body is the parsed response body
	Body map[string]any

	// Raw is the unparsed response body
	Raw []byte

	// UploadURL is the location of the uploaded object, if known
	UploadURL string
}

// Result contains the result of one file upload.
type Result struct {
	FileID   string
	Strategy Strategy

	// UploadURL is the final location of the object
	UploadURL string

	// Key is the object key
	Key string

	// UploadID is the multipart upload id (multipart only)
	UploadID string

	// ETag is the entity tag of the object, if the store reported one
	ETag string

	// Size is the number of bytes uploaded
	Size int64

	// Parts is the number of parts (multipart only)
	Parts int

	// Response is the final HTTP response (direct only)
	Response *Response

	Duration time.Duration
}

// ChunkLimits are the part constraints of the target object store.
type ChunkLimits struct {
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int
}

// S3 multipart limits
const (
	MiB = 1024 * 1024

	S3MinPartSize int64 = 5 * MiB
	S3MaxPartSize int64 = 5 * 1024 * MiB
	S3MaxParts          = 10000
)

// DefaultChunkLimits returns the S3 multipart limits.
func DefaultChunkLimits() ChunkLimits {
	return ChunkLimits{
		MinPartSize: S3MinPartSize,
		MaxPartSize: S3MaxPartSize,
		MaxParts:    S3MaxParts,
	}
}

// Config holds configuration for an Uploader.
type Config struct {
	// Limit is the maximum number of concurrent transfers; 0 means unbounded
	Limit int

	// Timeout is the stall window of a single transfer; 0 disables it
	Timeout time.Duration

	// ShouldUseMultipart selects the multipart strategy for a file
	ShouldUseMultipart func(*File) bool

	// GetChunkSize returns the desired part size for a file
	GetChunkSize func(*File) int64

	ChunkLimits ChunkLimits

	// AllowedMetaFields lists the metadata keys sent with form uploads.
	// An empty slice sends none and a nil slice sends every key.
	AllowedMetaFields []string

	// FieldName is the form field carrying the file content
	FieldName string

	// Headers are added to every direct upload request
	Headers map[string]string

	// ValidateStatus reports whether a response status is a success
	ValidateStatus func(status int) bool

	// ResponseURLFieldName is the body field holding the uploaded object URL
	ResponseURLFieldName string

	// ParseResponse parses a response body
	ParseResponse func(raw []byte, resp *http.Response) map[string]any

	// ParseError extracts an error message from a rejected response body
	ParseError func(raw []byte, resp *http.Response) string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option is a functional option for configuring an Uploader.
type Option func(*Config)
