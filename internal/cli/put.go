package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/inhies/go-bytesize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	upload "github.com/input-output-hk/catalyst-forge-libs/upload"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// CancelReason is reported with cancel-all when uploadctl is interrupted.
const CancelReason = "user"

func newPutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put FILE...",
		Short: "Upload files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.put(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

type putResult struct {
	path   string
	size   int64
	result *uploadtypes.Result
	err    error
}

func (a *app) put(ctx context.Context, out io.Writer, paths []string) error {
	signer, err := a.newSigner(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}

	u, err := upload.New(signer, append(a.cfg.UploadOptions(a.logger), a.uploadOpts...)...)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}
	defer func() { _ = u.Close() }()

	unsubscribe := u.On(uploadtypes.EventUploadError, func(ev uploadtypes.Event) {
		a.logger.Warn("upload failed", "file_id", ev.FileID, "error", ev.Err)
	})
	defer unsubscribe()

	// Interrupts cancel the uploads through the uploader so that sessions
	// are aborted and cancel-all is emitted. Uploads registered after that
	// are stopped by uploadCtx.
	uploadCtx, cancelUploads := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelUploads(nil)
	stop := context.AfterFunc(ctx, func() {
		u.CancelAll(CancelReason)
		cancelUploads(errors.ErrCancelled)
	})
	defer stop()

	start := time.Now()
	results := make([]putResult, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			results[i] = a.putFile(uploadCtx, u, path)
			return results[i].err
		})
	}
	err = g.Wait()

	renderPut(out, results, time.Since(start))
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func (a *app) putFile(ctx context.Context, u *upload.Uploader, path string) putResult {
	fs, name := a.fs, path
	if filepath.IsAbs(path) {
		fs, name = osfs.New(filepath.Dir(path)), filepath.Base(path)
	}

	file, closer, err := upload.OpenFile(fs, name)
	if err != nil {
		return putResult{path: path, err: err}
	}
	defer func() { _ = closer.Close() }()

	if ctx.Err() != nil {
		err := errors.NewAbortedError("put", context.Cause(ctx)).WithFileID(file.ID)
		return putResult{path: path, size: file.Size, err: err}
	}

	a.logger.Debug("uploading file", "file_id", file.ID, "path", path, "size", file.Size)
	res, err := u.UploadFile(ctx, file)
	return putResult{path: path, size: file.Size, result: res, err: err}
}

func renderPut(out io.Writer, results []putResult, elapsed time.Duration) {
	tb := table.NewWriter()
	tb.AppendHeader(table.Row{"File", "Strategy", "Size", "Parts", "Result"})

	var total int64
	var ok int
	for _, r := range results {
		var (
			strategy uploadtypes.Strategy
			parts    int
			status   string
		)
		if r.err != nil {
			status = "failed: " + r.err.Error()
		} else {
			ok++
			total += r.size
			strategy = r.result.Strategy
			parts = r.result.Parts
			status = r.result.UploadURL
			if status == "" {
				status = r.result.Key
			}
		}
		tb.AppendRow(table.Row{r.path, strategy, bytesize.New(float64(r.size)), parts, status})
	}
	tb.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d uploaded", ok, len(results)),
		"",
		bytesize.New(float64(total)),
		"",
		elapsed.Round(time.Millisecond),
	})

	_, _ = fmt.Fprintln(out, tb.Render())
}
