package uploadtypes

// EventType names an event emitted by an Uploader.
type EventType string

// Events observed by external collaborators
const (
	EventUploadStarted  EventType = "upload-started"
	EventUploadProgress EventType = "upload-progress"
	EventUploadSuccess  EventType = "upload-success"
	EventUploadError    EventType = "upload-error"
	EventUploadRetry    EventType = "upload-retry"
	EventFileRemoved    EventType = "file-removed"
	EventCancelAll      EventType = "cancel-all"
)

// Event is one notification from an Uploader.
type Event struct {
	Type EventType

	// FileID is empty for cancel-all
	FileID string

	// File is set for upload-* events
	File *File

	// Progress is set for upload-progress
	Progress Progress

	// Result is set for upload-success
	Result *Result

	// Response is set for upload-success and, when a response was received, upload-error
	Response *Response

	// Err is set for upload-error
	Err error

	// Reason is set for cancel-all
	Reason string
}

// EventHandler receives events. Handlers run synchronously and must not block.
type EventHandler func(Event)
