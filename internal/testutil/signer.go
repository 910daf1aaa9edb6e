package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// FakeSigner is a signing collaborator backed by an ObjectStore.
// Each call can be overridden through its function field.
type FakeSigner struct {
	Store *ObjectStore

	// PostPolicy makes GetUploadParameters return a POST form upload
	PostPolicy bool

	GetUploadParametersFunc     func(context.Context, *uploadtypes.File) (*uploadtypes.UploadParameters, error)
	CreateMultipartUploadFunc   func(context.Context, *uploadtypes.File) (*uploadtypes.SessionKey, error)
	SignPartFunc                func(context.Context, *uploadtypes.File, uploadtypes.SignPartRequest) (*uploadtypes.SignedPart, error)
	ListPartsFunc               func(context.Context, *uploadtypes.File, uploadtypes.SessionKey) ([]uploadtypes.Part, error)
	CompleteMultipartUploadFunc func(context.Context, *uploadtypes.File, uploadtypes.SessionKey, []uploadtypes.CompletedPart) (*uploadtypes.CompleteResult, error)
	AbortMultipartUploadFunc    func(context.Context, *uploadtypes.File, uploadtypes.SessionKey) error

	mu        sync.Mutex
	calls     map[string]int
	completed [][]uploadtypes.CompletedPart
	aborted   []uploadtypes.SessionKey
}

// NewFakeSigner creates a signer for the given store.
func NewFakeSigner(store *ObjectStore) *FakeSigner {
	return &FakeSigner{Store: store, calls: make(map[string]int)}
}

// Calls returns how many times the named method was called.
func (f *FakeSigner) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Completed returns the part lists passed to CompleteMultipartUpload.
func (f *FakeSigner) Completed() [][]uploadtypes.CompletedPart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]uploadtypes.CompletedPart(nil), f.completed...)
}

// Aborted returns the sessions passed to AbortMultipartUpload.
func (f *FakeSigner) Aborted() []uploadtypes.SessionKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uploadtypes.SessionKey(nil), f.aborted...)
}

func (f *FakeSigner) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

// GetUploadParameters signs a direct upload.
func (f *FakeSigner) GetUploadParameters(
	ctx context.Context,
	file *uploadtypes.File,
) (*uploadtypes.UploadParameters, error) {
	f.record("GetUploadParameters")
	if f.GetUploadParametersFunc != nil {
		return f.GetUploadParametersFunc(ctx, file)
	}

	key := "uploads/" + file.Name
	if f.PostPolicy {
		return &uploadtypes.UploadParameters{
			Method: http.MethodPost,
			URL:    f.Store.URL() + "/",
			Fields: map[string]string{
				"key":                   key,
				"success_action_status": "201",
				"Content-Type":          file.Type,
			},
		}, nil
	}
	return &uploadtypes.UploadParameters{
		Method:  http.MethodPut,
		URL:     f.Store.URL() + "/" + key + "?X-Amz-Signature=fake",
		Headers: map[string]string{"Content-Type": file.Type},
	}, nil
}

// CreateMultipartUpload starts a session.
func (f *FakeSigner) CreateMultipartUpload(
	ctx context.Context,
	file *uploadtypes.File,
) (*uploadtypes.SessionKey, error) {
	f.record("CreateMultipartUpload")
	if f.CreateMultipartUploadFunc != nil {
		return f.CreateMultipartUploadFunc(ctx, file)
	}
	return &uploadtypes.SessionKey{UploadID: uuid.NewString(), Key: "uploads/" + file.Name}, nil
}

// SignPart signs one part.
func (f *FakeSigner) SignPart(
	ctx context.Context,
	file *uploadtypes.File,
	req uploadtypes.SignPartRequest,
) (*uploadtypes.SignedPart, error) {
	f.record("SignPart")
	if f.SignPartFunc != nil {
		return f.SignPartFunc(ctx, file, req)
	}
	return f.PartDestination(req), nil
}

// PartDestination returns the store URL of one part.
func (f *FakeSigner) PartDestination(req uploadtypes.SignPartRequest) *uploadtypes.SignedPart {
	q := url.Values{}
	q.Set("partNumber", fmt.Sprint(req.PartNumber))
	q.Set("uploadId", req.UploadID)
	return &uploadtypes.SignedPart{
		Method: http.MethodPut,
		URL:    f.Store.URL() + "/" + req.Key + "?" + q.Encode(),
	}
}

// ListParts lists the parts stored so far.
func (f *FakeSigner) ListParts(
	ctx context.Context,
	file *uploadtypes.File,
	key uploadtypes.SessionKey,
) ([]uploadtypes.Part, error) {
	f.record("ListParts")
	if f.ListPartsFunc != nil {
		return f.ListPartsFunc(ctx, file, key)
	}
	var parts []uploadtypes.Part
	for n, data := range f.Store.Parts(key.UploadID) {
		parts = append(parts, uploadtypes.Part{Number: int32(n), Size: int64(len(data))})
	}
	return parts, nil
}

// CompleteMultipartUpload assembles the object from its parts.
func (f *FakeSigner) CompleteMultipartUpload(
	ctx context.Context,
	file *uploadtypes.File,
	key uploadtypes.SessionKey,
	parts []uploadtypes.CompletedPart,
) (*uploadtypes.CompleteResult, error) {
	f.record("CompleteMultipartUpload")
	f.mu.Lock()
	f.completed = append(f.completed, append([]uploadtypes.CompletedPart(nil), parts...))
	f.mu.Unlock()

	if f.CompleteMultipartUploadFunc != nil {
		return f.CompleteMultipartUploadFunc(ctx, file, key, parts)
	}

	numbers := make([]int, 0, len(parts))
	for _, p := range parts {
		numbers = append(numbers, int(p.PartNumber))
	}
	if err := f.Store.Assemble(key.Key, key.UploadID, numbers); err != nil {
		return nil, err
	}
	return &uploadtypes.CompleteResult{
		Location: f.Store.URL() + "/" + key.Key,
		Bucket:   "test",
		Key:      key.Key,
	}, nil
}

// AbortMultipartUpload discards a session.
func (f *FakeSigner) AbortMultipartUpload(
	ctx context.Context,
	file *uploadtypes.File,
	key uploadtypes.SessionKey,
) error {
	f.record("AbortMultipartUpload")
	f.mu.Lock()
	f.aborted = append(f.aborted, key)
	f.mu.Unlock()

	if f.AbortMultipartUploadFunc != nil {
		return f.AbortMultipartUploadFunc(ctx, file, key)
	}
	f.Store.Discard(key.UploadID)
	return nil
}
