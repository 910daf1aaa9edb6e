package multipart

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Status is the lifecycle status of a multipart session.
type Status int

// Session statuses
const (
	StatusInitiating Status = iota
	StatusInProgress
	StatusCompleting
	StatusCompleted
	StatusAborting
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitiating:
		return "initiating"
	case StatusInProgress:
		return "in-progress"
	case StatusCompleting:
		return "completing"
	case StatusCompleted:
		return "completed"
	case StatusAborting:
		return "aborting"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusInitiating: {StatusInProgress, StatusAborted, StatusFailed},
	StatusInProgress: {StatusCompleting, StatusAborting, StatusFailed},
	StatusCompleting: {StatusCompleted, StatusAborting, StatusFailed},
	StatusAborting:   {StatusAborted, StatusFailed},
}

// Session is one file's chunked upload.
type Session struct {
	file *uploadtypes.File

	mu     sync.Mutex
	key    uploadtypes.SessionKey
	parts  []uploadtypes.Part
	status Status
	err    error

	// progress, guarded by pmu
	pmu        sync.Mutex
	completed  int64
	inFlight   map[int32]int64
	reported   int64
	onProgress func(uploadtypes.Progress)

	onStatus func(Status)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	UploadID      string
	Key           string
	Status        Status
	Parts         []uploadtypes.Part
	BytesUploaded int64
	BytesTotal    int64
	Err           error
}

func newSession(file *uploadtypes.File, parts []uploadtypes.Part, onProgress func(uploadtypes.Progress)) *Session {
	return &Session{
		file:       file,
		parts:      parts,
		status:     StatusInitiating,
		inFlight:   make(map[int32]int64),
		onProgress: onProgress,
	}
}

// File returns the file being uploaded.
func (s *Session) File() *uploadtypes.File {
	return s.file
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.pmu.Lock()
	uploaded := s.reported
	s.pmu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		UploadID:      s.key.UploadID,
		Key:           s.key.Key,
		Status:        s.status,
		Parts:         append([]uploadtypes.Part(nil), s.parts...),
		BytesUploaded: uploaded,
		BytesTotal:    s.file.Size,
		Err:           s.err,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transition moves the session to the given status and reports whether the
// move was allowed.
func (s *Session) transition(to Status, err error) bool {
	s.mu.Lock()
	moved := false
	for _, allowed := range transitions[s.status] {
		if allowed == to {
			s.status = to
			if err != nil && s.err == nil {
				s.err = err
			}
			moved = true
			break
		}
	}
	s.mu.Unlock()

	if moved && s.onStatus != nil {
		s.onStatus(to)
	}
	return moved
}

func (s *Session) setKey(key uploadtypes.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
}

func (s *Session) setETag(number int32, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[number-1].ETag = etag
}

// partProgress records in-flight bytes of one part.
func (s *Session) partProgress(number int32, loaded int64) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.inFlight[number] = loaded
	s.report()
}

// partDone moves a part from in-flight to completed bytes.
func (s *Session) partDone(number int32, size int64) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	delete(s.inFlight, number)
	s.completed += size
	s.report()
}

// report emits the aggregate when it grew. Must be called with pmu held.
func (s *Session) report() {
	if s.Status() != StatusInProgress {
		return
	}
	total := s.completed
	for _, n := range s.inFlight {
		total += n
	}
	if total > s.file.Size {
		total = s.file.Size
	}
	if total <= s.reported {
		return
	}
	s.reported = total
	if s.onProgress != nil {
		s.onProgress(uploadtypes.Progress{BytesUploaded: total, BytesTotal: s.file.Size})
	}
}
