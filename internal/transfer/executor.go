// Package transfer runs single network operations through the admission queue.
//
// A transfer is one HTTP request carrying an upload body. The executor arms a
// stall timer when the transfer starts, resets it on every progress tick and
// aborts the request when no progress is observed for the configured window.
// Outcomes are classified into the upload error taxonomy: no response is a
// network error, a rejected status is a server error, a cancelled transfer is
// aborted and a stalled transfer timed out.
package transfer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/queue"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/response"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Executor runs transfers.
type Executor struct {
	client *http.Client
	queue  *queue.Queue
	logger *slog.Logger
}

// New creates an executor. A nil client uses http.DefaultClient, a nil queue
// admits everything and a nil logger discards output.
func New(client *http.Client, q *queue.Queue, logger *slog.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if q == nil {
		q = queue.New(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{client: client, queue: q, logger: logger}
}

// Queue returns the admission queue transfers are submitted to.
func (e *Executor) Queue() *queue.Queue {
	return e.queue
}

// Transfer is a transfer submitted with Start.
type Transfer struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once

	// set once the slot has been enqueued
	handle   *queue.Handle
	enqueued chan struct{}

	resp *uploadtypes.Response
	err  error
}

// ID returns the transfer id.
func (t *Transfer) ID() string {
	return t.id
}

// Cancel aborts the transfer. A waiting transfer is removed from the queue
// without being started. Cancel after completion has no effect.
func (t *Transfer) Cancel() {
	t.cancel(errors.ErrAborted)
}

// Done is closed when the outcome is known.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the outcome is known or ctx is done. A rejected response
// is returned together with its ServerError.
func (t *Transfer) Wait(ctx context.Context) (*uploadtypes.Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transfer) resolve(resp *uploadtypes.Response, err error) {
	t.once.Do(func() {
		t.resp = resp
		t.err = err
		close(t.done)
	})
}

// Execute submits the task through the queue and waits for its outcome.
// Cancelling ctx aborts the transfer.
func (e *Executor) Execute(ctx context.Context, task *Task, opts Options) (*uploadtypes.Response, error) {
	t := e.start(ctx, task, opts)
	<-t.done
	return t.resp, t.err
}

// Start submits the task through the queue and returns immediately.
func (e *Executor) Start(task *Task, opts Options) *Transfer {
	return e.start(context.Background(), task, opts)
}

// Do runs the task inside a queue slot the caller already holds.
func (e *Executor) Do(ctx context.Context, task *Task, opts Options) (*uploadtypes.Response, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return e.do(ctx, task, opts)
}

func (e *Executor) start(parent context.Context, task *Task, opts Options) *Transfer {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancelCause(parent)
	t := &Transfer{
		id:       task.ID,
		cancel:   cancel,
		done:     make(chan struct{}),
		enqueued: make(chan struct{}),
	}

	h := e.queue.Enqueue(func() func() {
		go func() {
			resp, err := e.do(ctx, task, opts)
			t.resolve(resp, err)
			<-t.enqueued
			t.handle.Done()
		}()
		return func() { cancel(errors.ErrAborted) }
	}, opts.Priority)
	t.handle = h
	close(t.enqueued)

	go func() {
		defer cancel(nil)
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			h.Abort()
		case <-h.Finished():
		}
		if !h.Admitted() {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = errors.ErrQueueClosed
			}
			e.logger.Debug("transfer dropped before admission", "transfer_id", t.id, "file_id", task.FileID)
			t.resolve(nil, errors.NewAbortedError(task.op(), cause).WithFileID(task.FileID))
			return
		}
		<-t.done
	}()

	return t
}

// do performs the request. The stall timer is armed by the first progress
// tick.
func (e *Executor) do(parent context.Context, task *Task, opts Options) (*uploadtypes.Response, error) {
	opts = opts.withDefaults()
	op := task.op()
	log := e.logger.With("transfer_id", task.ID, "file_id", task.FileID)

	if err := parent.Err(); err != nil {
		return nil, errors.NewAbortedError(op, context.Cause(parent)).WithFileID(task.FileID)
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	stall := newStallTimer(opts.Timeout, func() { cancel(errors.ErrTimeout) })
	defer stall.stop()

	var (
		body   io.Reader = http.NoBody
		length int64
	)
	if task.Body != nil && task.Size > 0 {
		length = task.Size
		body = &progressReader{
			r:     task.Body,
			total: task.Size,
			onRead: func(loaded, total int64) {
				stall.touch()
				if opts.OnProgress != nil {
					opts.OnProgress(loaded, total)
				}
			},
		}
	}

	req, err := http.NewRequestWithContext(ctx, task.method(), task.URL, body)
	if err != nil {
		return nil, errors.Invalid(op, "building request: %v", err).WithFileID(task.FileID)
	}
	req.ContentLength = length
	for k, vs := range task.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	started := time.Now()
	log.Debug("transfer started", "method", req.Method, "host", req.URL.Host, "size", task.Size)

	resp, err := e.client.Do(req)
	if err != nil {
		err = classify(ctx, op, opts.Timeout, err)
		log.Warn("transfer failed", "error", err, "elapsed", time.Since(started))
		return nil, withFileID(err, task.FileID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classify(ctx, op, opts.Timeout, err)
		log.Warn("transfer failed", "error", err, "elapsed", time.Since(started))
		return nil, withFileID(err, task.FileID)
	}
	stall.stop()

	if parent.Err() != nil {
		return nil, errors.NewAbortedError(op, context.Cause(parent)).WithFileID(task.FileID)
	}

	out := &uploadtypes.Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   opts.ParseResponse(raw, resp),
		Raw:    raw,
	}
	out.UploadURL = response.StringField(out.Body, opts.ResponseURLFieldName)

	if !opts.ValidateStatus(resp.StatusCode) {
		err := errors.NewServerError(op, resp.StatusCode, out.Body, nil).
			WithMessage(opts.ParseError(raw, resp)).
			WithFileID(task.FileID)
		log.Warn("transfer rejected", "status", resp.StatusCode, "error", err)
		return out, err
	}

	log.Debug("transfer finished", "status", resp.StatusCode, "elapsed", time.Since(started))
	return out, nil
}

// classify maps a failed request to the error taxonomy using the cause of the
// transfer context.
func classify(ctx context.Context, op string, timeout time.Duration, err error) error {
	cause := context.Cause(ctx)
	switch {
	case cause == errors.ErrTimeout:
		return errors.NewTimeoutError(op, timeoutSeconds(timeout))
	case ctx.Err() != nil:
		return errors.NewAbortedError(op, cause)
	default:
		return errors.NewNetworkError(op, err)
	}
}

func withFileID(err error, fileID string) error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithFileID(fileID)
	}
	return err
}

// ClassifySigning maps a failed signer call to the error taxonomy by the call's
// own outcome. Errors already classified by the signer are kept, anything else
// received no usable response and is a network error.
func ClassifySigning(ctx context.Context, op, fileID string, err error) error {
	if ctx.Err() != nil {
		return errors.NewAbortedError(op, context.Cause(ctx)).WithFileID(fileID)
	}
	if e, ok := err.(*errors.Error); ok {
		if e.FileID == "" {
			e.FileID = fileID
		}
		return e
	}
	return errors.NewNetworkError(op, err).WithFileID(fileID)
}
