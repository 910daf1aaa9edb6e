package uploadtypes

// FileInfo describes a file to a remote signing service. The content never
// leaves the client.
type FileInfo struct {
	Filename string            `json:"filename"`
	Type     string            `json:"type,omitempty"`
	Size     int64             `json:"size"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewFileInfo returns the description of f.
func NewFileInfo(f *File) FileInfo {
	return FileInfo{Filename: f.Name, Type: f.Type, Size: f.Size, Metadata: f.Meta}
}

// File returns a content-less File for signing.
func (i FileInfo) File() *File {
	return &File{Name: i.Filename, Type: i.Type, Size: i.Size, Meta: i.Metadata}
}

// CompleteRequest is the body of a completion call to a remote signing service.
type CompleteRequest struct {
	Parts []CompletedPart `json:"parts"`
}

// ErrorResponse is the body of a rejected call to a remote signing service.
type ErrorResponse struct {
	Error string `json:"error"`
}
