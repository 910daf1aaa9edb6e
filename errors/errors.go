package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a failed upload operation with context about what failed.
// It wraps the underlying transport, signer or parser error.
type Error struct {
	// Kind classifies the failure
	Kind Kind

	// Op is the operation that failed (e.g., "upload", "signPart", "complete")
	Op string

	// FileID is the id of the file being uploaded (if applicable)
	FileID string

	// Status is the HTTP status of the response (ServerError only)
	Status int

	// Body is the parsed response body (ServerError only)
	Body map[string]any

	// Message is the parsed error message from the response body
	Message string

	// Seconds is the stall window that elapsed (TimeoutError only)
	Seconds int

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("upload.")
	b.WriteString(e.Op)
	if e.FileID != "" {
		b.WriteString(" ")
		b.WriteString(e.FileID)
	}
	b.WriteString(": ")

	switch e.Kind {
	case KindTimeout:
		fmt.Fprintf(&b, "timed out after %d seconds without progress", e.Seconds)
	case KindServer:
		fmt.Fprintf(&b, "server responded with status %d", e.Status)
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
	case KindNetwork:
		b.WriteString("network error")
	case KindAborted:
		b.WriteString("aborted")
	default:
		b.WriteString(strings.ToLower(string(e.Kind)))
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// WithOp sets the failed operation.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithFileID adds file context to an existing error.
func (e *Error) WithFileID(id string) *Error {
	e.FileID = id
	return e
}

// WithMessage sets the parsed error message.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// Retryable reports whether re-invoking the whole upload may succeed.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable(e.Status)
}

// NewError creates a new Error with the given kind, operation and underlying error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// NewNetworkError creates an error for a transfer that received no response.
func NewNetworkError(op string, err error) *Error {
	return NewError(KindNetwork, op, err)
}

// NewServerError creates an error for a response whose status was rejected.
func NewServerError(op string, status int, body map[string]any, err error) *Error {
	e := NewError(KindServer, op, err)
	e.Status = status
	e.Body = body
	return e
}

// NewTimeoutError creates an error for a transfer that stalled for the given seconds.
func NewTimeoutError(op string, seconds int) *Error {
	e := NewError(KindTimeout, op, nil)
	e.Seconds = seconds
	return e
}

// NewAbortedError creates an error for a cancelled operation.
func NewAbortedError(op string, cause error) *Error {
	return NewError(KindAborted, op, cause)
}

// Sentinel errors for each failure kind.
// These can be used with errors.Is() for error checking.
var (
	// ErrNetwork indicates no response was received
	ErrNetwork = errors.New("upload: network error")

	// ErrServer indicates the response status was rejected
	ErrServer = errors.New("upload: server error")

	// ErrTimeout indicates the stall window elapsed
	ErrTimeout = errors.New("upload: timed out")

	// ErrAborted indicates the operation was cancelled
	ErrAborted = errors.New("upload: aborted")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("upload: invalid input")

	// ErrQueueClosed indicates the admission queue no longer accepts work
	ErrQueueClosed = errors.New("upload: queue closed")

	// ErrFileRemoved is the cancellation cause when a single file is removed
	ErrFileRemoved = errors.New("upload: file removed")

	// ErrCancelled is the cancellation cause when all uploads are cancelled
	ErrCancelled = errors.New("upload: upload cancelled")
)

var sentinels = map[Kind]error{
	KindNetwork:      ErrNetwork,
	KindServer:       ErrServer,
	KindTimeout:      ErrTimeout,
	KindAborted:      ErrAborted,
	KindInvalidInput: ErrInvalidInput,
}

// KindOf returns the kind of the first *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAborted checks if an error indicates cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsTimeout checks if an error indicates a stalled transfer.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNetwork checks if an error indicates a missing response.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsServer checks if an error indicates a rejected response.
func IsServer(err error) bool {
	return errors.Is(err, ErrServer)
}

// IsInvalidInput checks if an error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Invalid creates an invalid input error for the given operation.
func Invalid(op, format string, args ...any) *Error {
	return NewError(KindInvalidInput, op, fmt.Errorf(format, args...))
}
