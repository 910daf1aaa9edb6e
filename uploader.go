// Package upload provides the Uploader, which uploads files to an
// S3-compatible object store with bounded concurrency.
//
// Every network operation of every file goes through one admission queue. A
// file is uploaded with a single request or, when the multipart strategy
// selects it, as independently signed parts. Each upload resolves exactly once
// and reports the outcome through events and the returned error.
package upload

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/queue"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Uploader uploads files through a shared admission queue.
// It is safe for concurrent use.
type Uploader struct {
	signer uploadtypes.Signer
	cfg    *uploadtypes.Config
	logger *slog.Logger

	queue  *queue.Queue
	exec   *transfer.Executor
	coord  *multipart.Coordinator
	events *emitter

	// mu protects the registry below
	mu     sync.Mutex
	active map[string]*inflight
	states map[string]*uploadtypes.FileUploadState
	// files holds running and failed files only, for Retry
	files  map[string]*uploadtypes.File
	closed bool
}

// inflight is the registry entry of a running upload.
type inflight struct {
	cancel   context.CancelCauseFunc
	terminal bool
}

// New creates an Uploader with the provided options.
//
// Example:
//
//	u, err := upload.New(signer,
//	    upload.WithLimit(4),
//	    upload.WithMultipartThreshold(100*uploadtypes.MiB),
//	)
func New(signer uploadtypes.Signer, opts ...uploadtypes.Option) (*Uploader, error) {
	if signer == nil {
		return nil, errors.Invalid("new", "signer is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	q := queue.New(cfg.Limit)
	exec := transfer.New(client, q, logger)

	return &Uploader{
		signer: signer,
		cfg:    cfg,
		logger: logger,
		queue:  q,
		exec:   exec,
		coord:  multipart.New(signer, exec, logger),
		events: newEmitter(),
		active: make(map[string]*inflight),
		states: make(map[string]*uploadtypes.FileUploadState),
		files:  make(map[string]*uploadtypes.File),
	}, nil
}

// On subscribes a handler to an event type and returns a function that
// removes the subscription. Handlers run synchronously and must not block.
func (u *Uploader) On(t uploadtypes.EventType, handler uploadtypes.EventHandler) func() {
	return u.events.on(t, handler)
}

// State returns the upload state of a file.
func (u *Uploader) State(fileID string) (uploadtypes.FileUploadState, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	st, ok := u.states[fileID]
	if !ok {
		return uploadtypes.FileUploadState{}, false
	}
	return *st, true
}

// QueueStats returns the number of running and waiting transfers.
func (u *Uploader) QueueStats() queue.Stats {
	return u.queue.Stats()
}

// UploadFile uploads one file and blocks until it resolves.
//
// Cancelling ctx, CancelFile or CancelAll abort the upload with an aborted
// error; cancellation never emits upload-error. Uploading a file whose id is
// already in flight is rejected.
func (u *Uploader) UploadFile(ctx context.Context, file *uploadtypes.File) (*uploadtypes.Result, error) {
	if err := validateFile(file); err != nil {
		return nil, err
	}

	strategy := uploadtypes.StrategyDirect
	if file.Size > 0 && u.cfg.ShouldUseMultipart(file) {
		strategy = uploadtypes.StrategyMultipart
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	entry := &inflight{cancel: cancel}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, errors.NewAbortedError("upload", errors.ErrQueueClosed).WithFileID(file.ID)
	}
	if _, busy := u.active[file.ID]; busy {
		u.mu.Unlock()
		return nil, errors.Invalid("upload", "file %s is already uploading", file.ID).WithFileID(file.ID)
	}
	u.active[file.ID] = entry
	u.files[file.ID] = file
	u.states[file.ID] = &uploadtypes.FileUploadState{
		FileID:     file.ID,
		Strategy:   strategy,
		Phase:      uploadtypes.PhaseQueued,
		BytesTotal: file.Size,
		UpdatedAt:  time.Now(),
	}
	u.mu.Unlock()

	log := u.logger.With("file_id", file.ID, "strategy", string(strategy))
	log.Debug("upload started", "size", file.Size)
	u.events.emit(uploadtypes.Event{Type: uploadtypes.EventUploadStarted, FileID: file.ID, File: file})

	var (
		result *uploadtypes.Result
		resp   *uploadtypes.Response
		err    error
	)
	switch strategy {
	case uploadtypes.StrategyMultipart:
		result, err = u.uploadMultipart(ctx, file, entry)
	default:
		result, resp, err = u.uploadDirect(ctx, file, entry)
	}

	return u.resolve(file, entry, result, resp, err, log)
}

// resolve performs the terminal transition of an upload exactly once.
func (u *Uploader) resolve(
	file *uploadtypes.File,
	entry *inflight,
	result *uploadtypes.Result,
	resp *uploadtypes.Response,
	err error,
	log *slog.Logger,
) (*uploadtypes.Result, error) {
	u.mu.Lock()
	if entry.terminal {
		// cancelled through CancelFile or CancelAll, which already reported it
		u.mu.Unlock()
		log.Debug("upload cancelled")
		if err == nil || !errors.IsAborted(err) {
			err = errors.NewAbortedError("upload", errors.ErrCancelled).WithFileID(file.ID)
		}
		return nil, err
	}
	entry.terminal = true
	delete(u.active, file.ID)

	st := u.states[file.ID]
	st.UpdatedAt = time.Now()
	switch {
	case err == nil:
		st.Phase = uploadtypes.PhaseSucceeded
		st.BytesUploaded = file.Size
		st.Err = nil
		delete(u.files, file.ID)
	case errors.IsAborted(err):
		st.Phase = uploadtypes.PhaseCancelled
		st.Err = err
		delete(u.files, file.ID)
	default:
		st.Phase = uploadtypes.PhaseFailed
		st.Err = err
	}
	u.mu.Unlock()

	switch {
	case err == nil:
		log.Info("upload succeeded", "url", result.UploadURL, "duration", result.Duration)
		u.events.emit(uploadtypes.Event{
			Type:     uploadtypes.EventUploadSuccess,
			FileID:   file.ID,
			File:     file,
			Result:   result,
			Response: result.Response,
		})
		return result, nil
	case errors.IsAborted(err):
		log.Debug("upload aborted", "error", err)
		return nil, err
	default:
		log.Warn("upload failed", "error", err)
		u.events.emit(uploadtypes.Event{
			Type:     uploadtypes.EventUploadError,
			FileID:   file.ID,
			File:     file,
			Err:      err,
			Response: resp,
		})
		return nil, err
	}
}

// progress records and reports aggregate progress of a running upload.
func (u *Uploader) progress(file *uploadtypes.File, entry *inflight, p uploadtypes.Progress) {
	u.mu.Lock()
	if entry.terminal {
		u.mu.Unlock()
		return
	}
	st := u.states[file.ID]
	if p.BytesUploaded <= st.BytesUploaded {
		u.mu.Unlock()
		return
	}
	st.BytesUploaded = p.BytesUploaded
	st.UpdatedAt = time.Now()
	u.mu.Unlock()

	u.events.emit(uploadtypes.Event{
		Type:     uploadtypes.EventUploadProgress,
		FileID:   file.ID,
		File:     file,
		Progress: p,
	})
}

func (u *Uploader) setPhase(fileID string, entry *inflight, phase uploadtypes.Phase) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if entry.terminal {
		return
	}
	if st, ok := u.states[fileID]; ok {
		st.Phase = phase
		st.UpdatedAt = time.Now()
	}
}

func (u *Uploader) uploadMultipart(
	ctx context.Context,
	file *uploadtypes.File,
	entry *inflight,
) (*uploadtypes.Result, error) {
	return u.coord.Upload(ctx, file, multipart.Options{
		ChunkSize: u.cfg.GetChunkSize(file),
		Limits:    u.cfg.ChunkLimits,
		Transfer:  u.transferOptions(),
		OnProgress: func(p uploadtypes.Progress) {
			u.progress(file, entry, p)
		},
		OnStatus: func(status multipart.Status) {
			switch status {
			case multipart.StatusInProgress:
				u.setPhase(file.ID, entry, uploadtypes.PhaseUploading)
			case multipart.StatusCompleting:
				u.setPhase(file.ID, entry, uploadtypes.PhaseCompleting)
			}
		},
	})
}

func (u *Uploader) transferOptions() transfer.Options {
	return transfer.Options{
		Timeout:              u.cfg.Timeout,
		ValidateStatus:       u.cfg.ValidateStatus,
		ParseResponse:        u.cfg.ParseResponse,
		ParseError:           u.cfg.ParseError,
		ResponseURLFieldName: u.cfg.ResponseURLFieldName,
	}
}

// CancelFile cancels the upload of one file and emits file-removed.
// It does nothing when the file is not uploading.
func (u *Uploader) CancelFile(fileID string) {
	u.mu.Lock()
	entry, ok := u.active[fileID]
	if !ok {
		u.mu.Unlock()
		return
	}
	file := u.files[fileID]
	u.detach(fileID, entry)
	u.mu.Unlock()

	entry.cancel(errors.ErrFileRemoved)
	u.logger.Debug("upload removed", "file_id", fileID)
	u.events.emit(uploadtypes.Event{Type: uploadtypes.EventFileRemoved, FileID: fileID, File: file})
}

// CancelAll cancels every running upload and emits cancel-all with the reason.
func (u *Uploader) CancelAll(reason string) {
	u.mu.Lock()
	entries := make([]*inflight, 0, len(u.active))
	for id, entry := range u.active {
		u.detach(id, entry)
		entries = append(entries, entry)
	}
	u.mu.Unlock()

	for _, entry := range entries {
		entry.cancel(errors.ErrCancelled)
	}
	u.logger.Debug("all uploads cancelled", "reason", reason, "count", len(entries))
	u.events.emit(uploadtypes.Event{Type: uploadtypes.EventCancelAll, Reason: reason})
}

// detach performs the cancelled terminal transition. Must be called with mu held.
func (u *Uploader) detach(fileID string, entry *inflight) {
	entry.terminal = true
	delete(u.active, fileID)
	delete(u.files, fileID)
	if st, ok := u.states[fileID]; ok {
		st.Phase = uploadtypes.PhaseCancelled
		st.Err = errors.NewAbortedError("upload", errors.ErrCancelled).WithFileID(fileID)
		st.UpdatedAt = time.Now()
	}
}

// Retry uploads a failed file again from the start and emits upload-retry.
func (u *Uploader) Retry(ctx context.Context, fileID string) (*uploadtypes.Result, error) {
	u.mu.Lock()
	st, ok := u.states[fileID]
	if !ok {
		u.mu.Unlock()
		return nil, errors.Invalid("retry", "unknown file %s", fileID).WithFileID(fileID)
	}
	if st.Phase != uploadtypes.PhaseFailed {
		phase := st.Phase
		u.mu.Unlock()
		return nil, errors.Invalid("retry", "file %s is %s, not failed", fileID, phase).WithFileID(fileID)
	}
	file := u.files[fileID]
	u.mu.Unlock()

	u.logger.Debug("upload retried", "file_id", fileID)
	u.events.emit(uploadtypes.Event{Type: uploadtypes.EventUploadRetry, FileID: fileID, File: file})
	return u.UploadFile(ctx, file)
}

// Forget drops the recorded state of a file that is not uploading, releasing
// the file kept for Retry. It reports whether anything was dropped.
func (u *Uploader) Forget(fileID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, busy := u.active[fileID]; busy {
		return false
	}
	_, ok := u.states[fileID]
	delete(u.states, fileID)
	delete(u.files, fileID)
	return ok
}

// Close cancels every running upload and stops accepting new ones.
func (u *Uploader) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	busy := len(u.active) > 0
	u.mu.Unlock()

	if busy {
		u.CancelAll("close")
	}
	u.queue.Close()
	return nil
}

func validateFile(file *uploadtypes.File) error {
	if file == nil {
		return errors.Invalid("upload", "file is nil")
	}
	if file.ID == "" {
		return errors.Invalid("upload", "file id is required")
	}
	if file.Size < 0 {
		return errors.Invalid("upload", "negative size %d", file.Size).WithFileID(file.ID)
	}
	if file.Size > 0 && file.Data == nil {
		return errors.Invalid("upload", "file has no data").WithFileID(file.ID)
	}
	return nil
}
