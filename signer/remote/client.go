// Package remote signs uploads by calling a companion signing service over
// HTTP. It lets clients upload directly to the object store without holding
// store credentials.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/response"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Client implements uploadtypes.Signer against a companion service.
type Client struct {
	base    *url.URL
	http    *http.Client
	headers map[string]string
	logger  *slog.Logger
}

var _ uploadtypes.Signer = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for signing calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithHeader adds a header to every signing call, e.g. an authorization token.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.headers[name] = value
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client for the companion service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Invalid("new", "invalid companion url %q", baseURL)
	}
	c := &Client{
		base:    base,
		http:    http.DefaultClient,
		headers: make(map[string]string),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetUploadParameters asks the service to sign a direct upload.
func (c *Client) GetUploadParameters(ctx context.Context, file *uploadtypes.File) (*uploadtypes.UploadParameters, error) {
	var out uploadtypes.UploadParameters
	if err := c.call(ctx, "getUploadParameters", http.MethodPost, "/s3/params", nil,
		uploadtypes.NewFileInfo(file), &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, errors.NewServerError("getUploadParameters", http.StatusOK, nil, nil).
			WithMessage("response carries no url")
	}
	return &out, nil
}

// CreateMultipartUpload asks the service to open a session.
func (c *Client) CreateMultipartUpload(ctx context.Context, file *uploadtypes.File) (*uploadtypes.SessionKey, error) {
	var out uploadtypes.SessionKey
	if err := c.call(ctx, "createMultipartUpload", http.MethodPost, "/s3/multipart", nil,
		uploadtypes.NewFileInfo(file), &out); err != nil {
		return nil, err
	}
	if out.UploadID == "" || out.Key == "" {
		return nil, errors.NewServerError("createMultipartUpload", http.StatusOK, nil, nil).
			WithMessage("response carries no upload id or key")
	}
	return &out, nil
}

// SignPart asks the service to sign one part.
func (c *Client) SignPart(
	ctx context.Context,
	_ *uploadtypes.File,
	req uploadtypes.SignPartRequest,
) (*uploadtypes.SignedPart, error) {
	q := url.Values{"key": {req.Key}}
	if req.Size > 0 {
		q.Set("size", strconv.FormatInt(req.Size, 10))
	}
	path := "/s3/multipart/" + url.PathEscape(req.UploadID) + "/" + strconv.Itoa(int(req.PartNumber))

	var out uploadtypes.SignedPart
	if err := c.call(ctx, "signPart", http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, errors.NewServerError("signPart", http.StatusOK, nil, nil).
			WithMessage("response carries no url")
	}
	return &out, nil
}

// ListParts asks the service for the stored parts of a session.
func (c *Client) ListParts(
	ctx context.Context,
	_ *uploadtypes.File,
	session uploadtypes.SessionKey,
) ([]uploadtypes.Part, error) {
	var out []uploadtypes.Part
	err := c.call(ctx, "listParts", http.MethodGet, "/s3/multipart/"+url.PathEscape(session.UploadID),
		url.Values{"key": {session.Key}}, nil, &out)
	return out, err
}

// CompleteMultipartUpload asks the service to assemble the object.
func (c *Client) CompleteMultipartUpload(
	ctx context.Context,
	_ *uploadtypes.File,
	session uploadtypes.SessionKey,
	parts []uploadtypes.CompletedPart,
) (*uploadtypes.CompleteResult, error) {
	var out uploadtypes.CompleteResult
	err := c.call(ctx, "completeMultipartUpload", http.MethodPost,
		"/s3/multipart/"+url.PathEscape(session.UploadID)+"/complete",
		url.Values{"key": {session.Key}}, uploadtypes.CompleteRequest{Parts: parts}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AbortMultipartUpload asks the service to release a session.
func (c *Client) AbortMultipartUpload(ctx context.Context, _ *uploadtypes.File, session uploadtypes.SessionKey) error {
	return c.call(ctx, "abortMultipartUpload", http.MethodDelete, "/s3/multipart/"+url.PathEscape(session.UploadID),
		url.Values{"key": {session.Key}}, nil, nil)
}

// call performs one JSON round trip. A response with a non-2xx status is a
// server error and a call without response is a network error.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Invalid(op, "encoding request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Invalid(op, "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewAbortedError(op, context.Cause(ctx))
		}
		return errors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewAbortedError(op, context.Cause(ctx))
		}
		return errors.NewNetworkError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "signing call rejected", "op", op, "status", resp.StatusCode)
		return errors.NewServerError(op, resp.StatusCode, response.Parse(raw, resp), nil).
			WithMessage(response.ParseError(raw, resp))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewServerError(op, resp.StatusCode, nil, err).
			WithMessage(fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}
