package transfer

import (
	"io"
	"math"
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/response"
)

// Task is one network operation: a request with an upload body.
type Task struct {
	// ID identifies the transfer in logs; generated when empty
	ID string

	// Op names the operation in errors (e.g., "upload", "uploadPart")
	Op string

	// FileID is the file the transfer belongs to
	FileID string

	Method string
	URL    string
	Header http.Header

	// Body is the payload; nil sends an empty body
	Body io.Reader

	// Size is the content length of Body and the progress total
	Size int64
}

func (t *Task) op() string {
	if t.Op == "" {
		return "upload"
	}
	return t.Op
}

func (t *Task) method() string {
	if t.Method == "" {
		return http.MethodPut
	}
	return t.Method
}

// Options control how a transfer is run and how its outcome is judged.
type Options struct {
	// Timeout is the stall window; 0 disables the stall timer
	Timeout time.Duration

	// ValidateStatus reports whether a status is a success; default 2xx
	ValidateStatus func(status int) bool

	// ParseResponse parses the response body
	ParseResponse func(raw []byte, resp *http.Response) map[string]any

	// ParseError extracts an error message from a rejected response
	ParseError func(raw []byte, resp *http.Response) string

	// ResponseURLFieldName is the body field holding the object location
	ResponseURLFieldName string

	// OnProgress is called after every read of the body by the transport
	OnProgress func(loaded, total int64)

	// Priority is the admission priority used by Execute and Start
	Priority int
}

// DefaultValidateStatus accepts 2xx statuses.
func DefaultValidateStatus(status int) bool {
	return status >= 200 && status < 300
}

func (o Options) withDefaults() Options {
	if o.ValidateStatus == nil {
		o.ValidateStatus = DefaultValidateStatus
	}
	if o.ParseResponse == nil {
		o.ParseResponse = response.Parse
	}
	if o.ParseError == nil {
		o.ParseError = response.ParseError
	}
	if o.ResponseURLFieldName == "" {
		o.ResponseURLFieldName = "location"
	}
	return o
}

// timeoutSeconds rounds the stall window up to whole seconds.
func timeoutSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
