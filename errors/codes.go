// Package errors provides the error taxonomy for upload operations.
// Every failed transfer resolves to exactly one Kind, which callers use to
// decide whether re-invoking the whole upload is worthwhile.
package errors

// Kind classifies the outcome of a failed transfer.
// Kinds are string-based for debuggability and natural JSON serialization.
type Kind string

const (
	// KindNetwork indicates no response was received at all.
	KindNetwork Kind = "NETWORK_ERROR"

	// KindServer indicates a response was received but its status was rejected.
	KindServer Kind = "SERVER_ERROR"

	// KindTimeout indicates the stall window elapsed without transfer progress.
	KindTimeout Kind = "TIMEOUT"

	// KindAborted indicates the caller cancelled the operation.
	// Aborted errors are never surfaced as user-facing failures.
	KindAborted Kind = "ABORTED"

	// KindInvalidInput indicates the request could not be started at all.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindUnknown indicates an unclassified failure.
	KindUnknown Kind = "UNKNOWN"
)

// String returns the string form of the kind.
func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether re-invoking the whole upload may succeed.
// Server rejections in the 4xx range, except 408 and 429, are permanent.
func (k Kind) Retryable(status int) bool {
	switch k {
	case KindNetwork, KindTimeout:
		return true
	case KindServer:
		return status >= 500 || status == 408 || status == 429
	default:
		return false
	}
}
