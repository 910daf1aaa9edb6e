package uploadtypes

import "context"

// UploadParameters describe where and how to send a direct upload.
type UploadParameters struct {
	// Method is the HTTP method, PUT for presigned URLs and POST for policies
	Method string `json:"method"`

	// URL is the destination
	URL string `json:"url"`

	// Fields are form fields sent before the file (POST policy uploads)
	Fields map[string]string `json:"fields,omitempty"`

	// Headers are request headers required by the signature
	Headers map[string]string `json:"headers,omitempty"`
}

// SessionKey identifies a remote multipart upload session.
type SessionKey struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// SignPartRequest asks for the destination of one part.
type SignPartRequest struct {
	SessionKey
	PartNumber int32 `json:"partNumber"`
	Size       int64 `json:"size"`
}

// SignedPart is the destination of one part.
type SignedPart struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Part is one contiguous byte range of a multipart upload.
type Part struct {
	Number int32  `json:"PartNumber"`
	Offset int64  `json:"-"`
	Size   int64  `json:"Size"`
	ETag   string `json:"ETag"`
}

// CompletedPart is one entry of a completion call.
type CompletedPart struct {
	PartNumber int32  `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// CompleteResult describes the assembled object.
type CompleteResult struct {
	Location string `json:"location"`
	Bucket   string `json:"bucket,omitempty"`
	Key      string `json:"key,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// DirectSigner signs whole-file uploads.
type DirectSigner interface {
	// GetUploadParameters returns the destination of a direct upload
	GetUploadParameters(ctx context.Context, file *File) (*UploadParameters, error)
}

// MultipartSigner manages remote multipart sessions.
type MultipartSigner interface {
	// CreateMultipartUpload opens a session for the file
	CreateMultipartUpload(ctx context.Context, file *File) (*SessionKey, error)

	// SignPart returns the destination of one part
	SignPart(ctx context.Context, file *File, req SignPartRequest) (*SignedPart, error)

	// ListParts returns the parts already stored for a session
	ListParts(ctx context.Context, file *File, session SessionKey) ([]Part, error)

	// CompleteMultipartUpload assembles the parts in part-number order
	CompleteMultipartUpload(ctx context.Context, file *File, session SessionKey, parts []CompletedPart) (*CompleteResult, error)

	// AbortMultipartUpload releases a session and its stored parts
	AbortMultipartUpload(ctx context.Context, file *File, session SessionKey) error
}

// Signer is the signing collaborator of an Uploader.
type Signer interface {
	DirectSigner
	MultipartSigner
}
