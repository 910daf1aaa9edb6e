package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/response"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// uploadDirect sends the whole file with one request. A rejected response is
// returned together with its error so that upload-error can carry it.
func (u *Uploader) uploadDirect(
	ctx context.Context,
	file *uploadtypes.File,
	entry *inflight,
) (*uploadtypes.Result, *uploadtypes.Response, error) {
	started := time.Now()

	params, err := u.signer.GetUploadParameters(ctx, file)
	if err != nil {
		return nil, nil, transfer.ClassifySigning(ctx, "getUploadParameters", file.ID, err)
	}

	task := &transfer.Task{
		Op:     "upload",
		FileID: file.ID,
		Method: params.Method,
		URL:    params.URL,
		Header: make(http.Header),
	}

	var offset int64
	if len(params.Fields) > 0 {
		form, err := u.buildForm(file, params.Fields)
		if err != nil {
			return nil, nil, err
		}
		if task.Method == "" {
			task.Method = http.MethodPost
		}
		task.Header.Set("Content-Type", form.contentType)
		task.Body = form.reader()
		task.Size = form.size()
		offset = int64(len(form.prefix))
	} else {
		if task.Method == "" {
			task.Method = http.MethodPut
		}
		for k, v := range u.cfg.Headers {
			task.Header.Set(k, v)
		}
		for k, v := range params.Headers {
			task.Header.Set(k, v)
		}
		if file.Size > 0 {
			task.Body = io.NewSectionReader(file.Data, 0, file.Size)
			task.Size = file.Size
		}
	}

	opts := u.transferOptions()
	opts.Priority = uploadtypes.DirectPriority
	opts.OnProgress = func(loaded, _ int64) {
		sent := min(max(loaded-offset, 0), file.Size)
		u.progress(file, entry, uploadtypes.Progress{BytesUploaded: sent, BytesTotal: file.Size})
	}

	u.setPhase(file.ID, entry, uploadtypes.PhaseUploading)
	resp, err := u.exec.Execute(ctx, task, opts)
	if err != nil {
		return nil, resp, err
	}

	key := response.StringField(resp.Body, "key")
	if key == "" {
		key = params.Fields["key"]
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = response.StringField(resp.Body, "etag")
	}

	return &uploadtypes.Result{
		FileID:    file.ID,
		Strategy:  uploadtypes.StrategyDirect,
		UploadURL: resp.UploadURL,
		Key:       key,
		ETag:      etag,
		Size:      file.Size,
		Response:  resp,
		Duration:  time.Since(started),
	}, resp, nil
}

// formBody is a multipart/form-data body whose file content is streamed from
// the file between a buffered prefix and suffix.
type formBody struct {
	contentType string
	prefix      []byte
	content     *io.SectionReader
	suffix      []byte
}

func (f *formBody) size() int64 {
	return int64(len(f.prefix)) + f.content.Size() + int64(len(f.suffix))
}

func (f *formBody) reader() io.Reader {
	return io.MultiReader(bytes.NewReader(f.prefix), f.content, bytes.NewReader(f.suffix))
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// buildForm lays out the allowed metadata, then the signer fields, then the
// file as the last field.
func (u *Uploader) buildForm(file *uploadtypes.File, fields map[string]string) (*formBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, k := range u.metaFields(file) {
		if _, signed := fields[k]; signed {
			continue
		}
		if err := w.WriteField(k, file.Meta[k]); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(u.cfg.FieldName), quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", lo.Ternary(file.Type != "", file.Type, "application/octet-stream"))
	if _, err := w.CreatePart(h); err != nil {
		return nil, fmt.Errorf("writing file part: %w", err)
	}

	prefix := bytes.Clone(buf.Bytes())
	buf.Reset()
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	var data io.ReaderAt = file.Data
	if data == nil {
		data = bytes.NewReader(nil)
	}
	return &formBody{
		contentType: w.FormDataContentType(),
		prefix:      prefix,
		content:     io.NewSectionReader(data, 0, file.Size),
		suffix:      bytes.Clone(buf.Bytes()),
	}, nil
}

// metaFields returns the metadata keys sent with a form upload in a stable
// order. A nil allow list sends every key.
func (u *Uploader) metaFields(file *uploadtypes.File) []string {
	keys := lo.Keys(file.Meta)
	if u.cfg.AllowedMetaFields != nil {
		keys = lo.Filter(u.cfg.AllowedMetaFields, func(k string, _ int) bool {
			_, ok := file.Meta[k]
			return ok
		})
		keys = lo.Uniq(keys)
	}
	slices.Sort(keys)
	return keys
}
