// Package multipart coordinates chunked uploads of a single file.
//
// A session is opened with the signer, every part is submitted to the
// admission queue, and the upload resolves exactly once: completed when every
// part succeeded, failed on the first part failure, aborted on cancellation.
// Failed and aborted sessions are released remotely.
package multipart

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/queue"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Options configure one multipart upload.
type Options struct {
	// ChunkSize is the desired part size
	ChunkSize int64

	Limits uploadtypes.ChunkLimits

	// Transfer configures every part transfer; OnProgress and Priority are ignored
	Transfer transfer.Options

	// OnProgress receives the aggregate progress, never decreasing
	OnProgress func(uploadtypes.Progress)

	// OnSession is called once the session is created, before any part starts
	OnSession func(*Session)

	// OnStatus is called after every status transition
	OnStatus func(Status)
}

// Coordinator runs multipart uploads.
type Coordinator struct {
	signer uploadtypes.MultipartSigner
	exec   *transfer.Executor
	logger *slog.Logger
}

// New creates a coordinator. Parts are admitted through the executor's queue.
func New(signer uploadtypes.MultipartSigner, exec *transfer.Executor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{signer: signer, exec: exec, logger: logger}
}

type partResult struct {
	index int
	part  uploadtypes.Part
	err   error
}

// Upload uploads the file in parts. Cancelling ctx aborts the upload.
func (c *Coordinator) Upload(ctx context.Context, file *uploadtypes.File, opts Options) (*uploadtypes.Result, error) {
	started := time.Now()

	plan, err := Plan(file.Size, opts.ChunkSize, opts.Limits)
	if err != nil {
		return nil, err
	}
	if file.Data == nil {
		return nil, errors.Invalid("multipart", "file has no data").WithFileID(file.ID)
	}

	session := newSession(file, plan, opts.OnProgress)
	session.onStatus = opts.OnStatus
	log := c.logger.With("file_id", file.ID)

	key, err := c.createSession(ctx, file)
	if err != nil {
		if errors.IsAborted(err) {
			session.transition(StatusAborted, err)
		} else {
			session.transition(StatusFailed, err)
		}
		log.Warn("multipart session not created", "error", err)
		return nil, err
	}
	session.setKey(*key)
	session.transition(StatusInProgress, nil)
	log = log.With("upload_id", key.UploadID)
	log.Debug("multipart session created", "key", key.Key, "parts", len(plan))

	if opts.OnSession != nil {
		opts.OnSession(session)
	}

	parts, err := c.uploadParts(ctx, session, *key, plan, opts, log)
	if err != nil {
		session.transition(StatusAborting, err)
		c.abort(ctx, file, *key, log)
		if errors.IsAborted(err) {
			session.transition(StatusAborted, err)
		} else {
			session.transition(StatusFailed, err)
		}
		log.Warn("multipart upload failed", "error", err)
		return nil, err
	}

	session.transition(StatusCompleting, nil)
	completed := lo.Map(parts, func(p uploadtypes.Part, _ int) uploadtypes.CompletedPart {
		return uploadtypes.CompletedPart{PartNumber: p.Number, ETag: p.ETag}
	})
	slices.SortFunc(completed, func(a, b uploadtypes.CompletedPart) int {
		return int(a.PartNumber - b.PartNumber)
	})

	res, err := c.signer.CompleteMultipartUpload(ctx, file, *key, completed)
	if err != nil {
		err = transfer.ClassifySigning(ctx, "complete", file.ID, err)
		session.transition(StatusAborting, err)
		c.abort(ctx, file, *key, log)
		if errors.IsAborted(err) {
			session.transition(StatusAborted, err)
		} else {
			session.transition(StatusFailed, err)
		}
		log.Warn("multipart completion failed", "error", err)
		return nil, err
	}
	session.transition(StatusCompleted, nil)
	log.Debug("multipart upload completed", "parts", len(completed), "elapsed", time.Since(started))

	result := &uploadtypes.Result{
		FileID:    file.ID,
		Strategy:  uploadtypes.StrategyMultipart,
		UploadURL: res.Location,
		Key:       key.Key,
		UploadID:  key.UploadID,
		ETag:      res.ETag,
		Size:      file.Size,
		Parts:     len(completed),
		Duration:  time.Since(started),
	}
	if res.Key != "" {
		result.Key = res.Key
	}
	return result, nil
}

func (c *Coordinator) createSession(ctx context.Context, file *uploadtypes.File) (*uploadtypes.SessionKey, error) {
	key, err := c.signer.CreateMultipartUpload(ctx, file)
	if err != nil {
		return nil, transfer.ClassifySigning(ctx, "createMultipartUpload", file.ID, err)
	}
	if key == nil || key.UploadID == "" {
		return nil, errors.NewServerError("createMultipartUpload", 0, nil, nil).
			WithMessage("signer returned no upload id").
			WithFileID(file.ID)
	}
	return key, nil
}

// uploadParts submits every part and waits until all of them succeeded or the
// first failure was observed and every admitted sibling has returned.
func (c *Coordinator) uploadParts(
	ctx context.Context,
	session *Session,
	key uploadtypes.SessionKey,
	plan []uploadtypes.Part,
	opts Options,
	log *slog.Logger,
) ([]uploadtypes.Part, error) {
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	q := c.exec.Queue()
	results := make(chan partResult, len(plan))
	handles := make([]*queue.Handle, len(plan))

	for i, part := range plan {
		pctx, pcancel := context.WithCancelCause(sctx)
		handles[i] = q.Enqueue(func() func() {
			go func() {
				p, err := c.uploadPart(pctx, session, key, part, opts.Transfer)
				results <- partResult{index: i, part: p, err: err}
			}()
			return func() { pcancel(errors.ErrAborted) }
		}, uploadtypes.PartPriority)
	}

	var (
		pending  = len(plan)
		firstErr error
		done     = ctx.Done()
		uploaded = make([]uploadtypes.Part, 0, len(plan))
	)

	// fail cancels every sibling and returns how many of them will never
	// report because they were never admitted. Waiting parts are withdrawn
	// before running ones are aborted, otherwise each freed slot would admit
	// the next waiting part of this session.
	fail := func(except int, err error) int {
		firstErr = err
		cancel(err)
		dropped := 0
		for _, h := range handles {
			// a closed queue may have aborted waiting parts already
			if h.Withdraw() || !h.Admitted() {
				dropped++
			}
		}
		for j, h := range handles {
			if j != except {
				h.Abort()
			}
		}
		return dropped
	}

	for _, h := range handles {
		if !h.Admitted() && h.State() == queue.StateAborted {
			pending -= fail(-1, errors.NewAbortedError("multipart", errors.ErrQueueClosed).WithFileID(session.file.ID))
			break
		}
	}

	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err != nil && firstErr == nil {
				log.Debug("part failed", "part", r.part.Number, "error", r.err)
				pending -= fail(r.index, r.err)
			}
			handles[r.index].Done()

			if firstErr != nil {
				continue
			}
			session.setETag(r.part.Number, r.part.ETag)
			session.partDone(r.part.Number, r.part.Size)
			uploaded = append(uploaded, r.part)

		case <-done:
			done = nil
			if firstErr == nil {
				err := errors.NewAbortedError("multipart", context.Cause(ctx)).WithFileID(session.file.ID)
				pending -= fail(-1, err)
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return uploaded, nil
}

// uploadPart signs and uploads one part inside its queue slot.
func (c *Coordinator) uploadPart(
	ctx context.Context,
	session *Session,
	key uploadtypes.SessionKey,
	part uploadtypes.Part,
	topts transfer.Options,
) (uploadtypes.Part, error) {
	file := session.file

	// admitted after the session already failed
	if ctx.Err() != nil {
		return part, errors.NewAbortedError("uploadPart", context.Cause(ctx)).WithFileID(file.ID)
	}

	signed, err := c.signer.SignPart(ctx, file, uploadtypes.SignPartRequest{
		SessionKey: key,
		PartNumber: part.Number,
		Size:       part.Size,
	})
	if err != nil {
		return part, transfer.ClassifySigning(ctx, "signPart", file.ID, err)
	}

	method := signed.Method
	if method == "" {
		method = http.MethodPut
	}
	header := make(http.Header, len(signed.Headers))
	for k, v := range signed.Headers {
		header.Set(k, v)
	}

	topts.OnProgress = func(loaded, _ int64) {
		session.partProgress(part.Number, loaded)
	}

	resp, err := c.exec.Do(ctx, &transfer.Task{
		Op:     "uploadPart",
		FileID: file.ID,
		Method: method,
		URL:    signed.URL,
		Header: header,
		Body:   io.NewSectionReader(file.Data, part.Offset, part.Size),
		Size:   part.Size,
	}, topts)
	if err != nil {
		return part, err
	}

	part.ETag = resp.Header.Get("ETag")
	if part.ETag == "" {
		return part, errors.NewServerError("uploadPart", resp.Status, resp.Body, nil).
			WithMessage("part response carries no ETag header").
			WithFileID(file.ID)
	}
	return part, nil
}

// abort releases the remote session. It runs even when ctx is cancelled.
func (c *Coordinator) abort(ctx context.Context, file *uploadtypes.File, key uploadtypes.SessionKey, log *slog.Logger) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := c.signer.AbortMultipartUpload(actx, file, key); err != nil {
		log.Warn("multipart session not released", "error", err)
		return
	}
	log.Debug("multipart session released")
}

const abortTimeout = 30 * time.Second
