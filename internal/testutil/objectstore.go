// Package testutil provides test utilities and fakes for the upload module.
// This package is internal and should only be used for testing within the module.
package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RecordedRequest is a request received by the ObjectStore.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      string
	Header     http.Header
	Size       int
	PartNumber int
	UploadID   string
}

// ObjectStore is an in-memory S3-like object store served over HTTP.
//
// PUT /<key> stores an object, PUT /<key>?partNumber=N&uploadId=U stores a
// part, and POST / accepts a form upload with a key field. Every accepted
// body is answered with an ETag header.
type ObjectStore struct {
	Server *httptest.Server

	// Delay holds every request open for the given duration after its body is read
	Delay time.Duration

	// Stall reports whether a request should never be answered
	Stall func(r *http.Request) bool

	// Fail returns a non-zero status to reject a request with an S3 XML error
	Fail func(r *http.Request) int

	// OmitETag drops the ETag header from part responses
	OmitETag bool

	mu          sync.Mutex
	objects     map[string][]byte
	parts       map[string]map[int][]byte
	requests    []RecordedRequest
	abandoned   []RecordedRequest
	inFlight    int
	maxInFlight int
	closing     chan struct{}
	closeOnce   sync.Once
}

// NewObjectStore starts a new ObjectStore.
func NewObjectStore() *ObjectStore {
	s := &ObjectStore{
		objects: make(map[string][]byte),
		parts:   make(map[string]map[int][]byte),
		closing: make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL of the store.
func (s *ObjectStore) URL() string {
	return s.Server.URL
}

// Close releases stalled requests and shuts the server down.
func (s *ObjectStore) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.Server.Close()
}

// Object returns a stored object.
func (s *ObjectStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[strings.TrimPrefix(key, "/")]
	return data, ok
}

// Parts returns the stored part numbers of an upload, sorted.
func (s *ObjectStore) Parts(uploadID string) map[int][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int][]byte, len(s.parts[uploadID]))
	for n, data := range s.parts[uploadID] {
		out[n] = data
	}
	return out
}

// Assemble concatenates the given parts of an upload into an object.
func (s *ObjectStore) Assemble(key, uploadID string, numbers []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.parts[uploadID]
	sort.Ints(numbers)
	var data []byte
	for _, n := range numbers {
		part, ok := stored[n]
		if !ok {
			return fmt.Errorf("part %d of upload %s not found", n, uploadID)
		}
		data = append(data, part...)
	}
	s.objects[strings.TrimPrefix(key, "/")] = data
	delete(s.parts, uploadID)
	return nil
}

// Discard drops the parts of an upload.
func (s *ObjectStore) Discard(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parts, uploadID)
}

// Requests returns every request received so far.
func (s *ObjectStore) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Abandoned returns the stalled requests the client gave up on.
func (s *ObjectStore) Abandoned() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.abandoned...)
}

// MaxInFlight returns the highest number of requests handled at once.
func (s *ObjectStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *ObjectStore) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	var (
		data []byte
		key  = strings.TrimPrefix(r.URL.Path, "/")
		err  error
	)
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		key, data, err = readForm(r)
	} else {
		data, err = io.ReadAll(r.Body)
	}

	partNumber, _ := strconv.Atoi(r.URL.Query().Get("partNumber"))
	rec := RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Header:     r.Header.Clone(),
		Size:       len(data),
		PartNumber: partNumber,
		UploadID:   r.URL.Query().Get("uploadId"),
	}
	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()

	if err != nil {
		return
	}

	if s.Stall != nil && s.Stall(r) {
		select {
		case <-r.Context().Done():
			s.mu.Lock()
			s.abandoned = append(s.abandoned, rec)
			s.mu.Unlock()
		case <-s.closing:
		}
		return
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
	}

	if s.Fail != nil {
		if status := s.Fail(r); status != 0 {
			writeError(w, status)
			return
		}
	}

	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	switch {
	case rec.UploadID != "" && partNumber > 0:
		s.mu.Lock()
		if s.parts[rec.UploadID] == nil {
			s.parts[rec.UploadID] = make(map[int][]byte)
		}
		s.parts[rec.UploadID][partNumber] = data
		s.mu.Unlock()
		if !s.OmitETag {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost:
		s.mu.Lock()
		s.objects[key] = data
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<PostResponse><Location>%s/%s</Location><Bucket>test</Bucket><Key>%s</Key><ETag>%s</ETag></PostResponse>`,
			s.URL(), key, key, etag)

	default:
		s.mu.Lock()
		s.objects[key] = data
		s.mu.Unlock()
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
	}
}

func readForm(r *http.Request) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, err
	}
	var (
		key  string
		data []byte
	)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return key, data, nil
		}
		if err != nil {
			return "", nil, err
		}
		b, err := io.ReadAll(p)
		if err != nil {
			return "", nil, err
		}
		switch {
		case p.FileName() != "":
			data = b
		case p.FormName() == "key":
			key = string(b)
		}
	}
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>%s</Code><Message>%s</Message></Error>`,
		strings.ReplaceAll(http.StatusText(status), " ", ""), http.StatusText(status))
}
