// Package miniosigner signs uploads against MinIO and other S3-compatible
// stores with minio-go.
package miniosigner

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/samber/lo"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// DefaultExpires is the validity of presigned requests.
const DefaultExpires = 15 * time.Minute

// Core is the subset of minio.Core the signer uses.
type Core interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	ListObjectParts(
		ctx context.Context,
		bucket, object, uploadID string,
		partNumberMarker, maxParts int,
	) (minio.ListObjectPartsResult, error)
	CompleteMultipartUpload(
		ctx context.Context,
		bucket, object, uploadID string,
		parts []minio.CompletePart,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
	Presign(
		ctx context.Context,
		method, bucket, object string,
		expires time.Duration,
		reqParams url.Values,
	) (*url.URL, error)
	PresignedPostPolicy(ctx context.Context, policy *minio.PostPolicy) (*url.URL, map[string]string, error)
}

var _ Core = (*minio.Core)(nil)

// Config holds configuration for a Signer.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Secure          bool

	// Prefix is prepended to every object key
	Prefix string

	// Expires is the validity of presigned requests
	Expires time.Duration

	// PostPolicy signs direct uploads as POST policy forms instead of PUT URLs
	PostPolicy bool

	Logger *slog.Logger
}

// Option is a functional option for configuring a Signer.
type Option func(*Config)

// WithCredentials sets static V4 credentials.
func WithCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
	}
}

// WithRegion sets the region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithSecure connects over TLS.
func WithSecure(secure bool) Option {
	return func(c *Config) {
		c.Secure = secure
	}
}

// WithPrefix sets the key prefix of uploaded objects.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithExpires sets the validity of presigned requests. Default is 15 minutes.
func WithExpires(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Expires = d
		}
	}
}

// WithPostPolicy signs direct uploads as POST policy forms.
func WithPostPolicy(enabled bool) Option {
	return func(c *Config) {
		c.PostPolicy = enabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Signer implements uploadtypes.Signer for one bucket.
type Signer struct {
	core   Core
	bucket string
	cfg    *Config
	logger *slog.Logger
}

var _ uploadtypes.Signer = (*Signer)(nil)

// New connects to the store at endpoint (host:port) and creates a Signer for
// the bucket.
func New(endpoint, bucket string, opts ...Option) (*Signer, error) {
	if bucket == "" {
		return nil, errors.Invalid("new", "bucket is required")
	}
	cfg := applyOptions(opts)

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Invalid("new", "minio client: %v", err)
	}
	return newSigner(core, bucket, cfg), nil
}

// NewWithCore creates a Signer over a custom Core implementation.
// This is primarily used for testing.
func NewWithCore(core Core, bucket string, opts ...Option) *Signer {
	return newSigner(core, bucket, applyOptions(opts))
}

func applyOptions(opts []Option) *Config {
	cfg := &Config{Expires: DefaultExpires}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func newSigner(core Core, bucket string, cfg *Config) *Signer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Signer{core: core, bucket: bucket, cfg: cfg, logger: logger.With("bucket", bucket)}
}

// GetUploadParameters presigns a direct upload of the file.
func (s *Signer) GetUploadParameters(ctx context.Context, file *uploadtypes.File) (*uploadtypes.UploadParameters, error) {
	key := signer.ObjectKey(s.cfg.Prefix, file)

	if s.cfg.PostPolicy {
		policy := minio.NewPostPolicy()
		if err := policy.SetBucket(s.bucket); err != nil {
			return nil, errors.Invalid("getUploadParameters", "%v", err)
		}
		if err := policy.SetKey(key); err != nil {
			return nil, errors.Invalid("getUploadParameters", "%v", err)
		}
		if err := policy.SetExpires(time.Now().UTC().Add(s.cfg.Expires)); err != nil {
			return nil, errors.Invalid("getUploadParameters", "%v", err)
		}
		if file.Type != "" {
			if err := policy.SetContentType(file.Type); err != nil {
				return nil, errors.Invalid("getUploadParameters", "%v", err)
			}
		}
		u, fields, err := s.core.PresignedPostPolicy(ctx, policy)
		if err != nil {
			return nil, classify("getUploadParameters", err)
		}
		fields["key"] = key
		s.logger.DebugContext(ctx, "presigned post policy", "key", key)
		return &uploadtypes.UploadParameters{Method: http.MethodPost, URL: u.String(), Fields: fields}, nil
	}

	u, err := s.core.Presign(ctx, http.MethodPut, s.bucket, key, s.cfg.Expires, nil)
	if err != nil {
		return nil, classify("getUploadParameters", err)
	}
	s.logger.DebugContext(ctx, "presigned put", "key", key)
	params := &uploadtypes.UploadParameters{Method: http.MethodPut, URL: u.String()}
	if file.Type != "" {
		params.Headers = map[string]string{"Content-Type": file.Type}
	}
	return params, nil
}

// CreateMultipartUpload opens a multipart upload with the file metadata.
func (s *Signer) CreateMultipartUpload(ctx context.Context, file *uploadtypes.File) (*uploadtypes.SessionKey, error) {
	key := signer.ObjectKey(s.cfg.Prefix, file)
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		ContentType:  file.Type,
		UserMetadata: validation.SanitizeMetadata(file.Meta),
	})
	if err != nil {
		return nil, classify("createMultipartUpload", err)
	}
	s.logger.DebugContext(ctx, "multipart upload created", "key", key, "upload_id", uploadID)
	return &uploadtypes.SessionKey{UploadID: uploadID, Key: key}, nil
}

// SignPart presigns the upload of one part.
func (s *Signer) SignPart(
	ctx context.Context,
	_ *uploadtypes.File,
	req uploadtypes.SignPartRequest,
) (*uploadtypes.SignedPart, error) {
	if req.PartNumber < 1 {
		return nil, errors.Invalid("signPart", "part number %d out of range", req.PartNumber)
	}
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(int(req.PartNumber)))
	params.Set("uploadId", req.UploadID)

	u, err := s.core.Presign(ctx, http.MethodPut, s.bucket, req.Key, s.cfg.Expires, params)
	if err != nil {
		return nil, classify("signPart", err)
	}
	return &uploadtypes.SignedPart{URL: u.String(), Method: http.MethodPut}, nil
}

// ListParts returns every part stored for the session.
func (s *Signer) ListParts(
	ctx context.Context,
	_ *uploadtypes.File,
	session uploadtypes.SessionKey,
) ([]uploadtypes.Part, error) {
	var (
		parts  []uploadtypes.Part
		marker int
	)
	for {
		res, err := s.core.ListObjectParts(ctx, s.bucket, session.Key, session.UploadID, marker, 1000)
		if err != nil {
			return nil, classify("listParts", err)
		}
		parts = append(parts, lo.Map(res.ObjectParts, func(p minio.ObjectPart, _ int) uploadtypes.Part {
			return uploadtypes.Part{Number: int32(p.PartNumber), Size: p.Size, ETag: p.ETag}
		})...)
		if !res.IsTruncated || res.NextPartNumberMarker <= marker {
			return parts, nil
		}
		marker = res.NextPartNumberMarker
	}
}

// CompleteMultipartUpload assembles the object from the parts in part-number
// order.
func (s *Signer) CompleteMultipartUpload(
	ctx context.Context,
	_ *uploadtypes.File,
	session uploadtypes.SessionKey,
	parts []uploadtypes.CompletedPart,
) (*uploadtypes.CompleteResult, error) {
	if len(parts) == 0 {
		return nil, errors.Invalid("completeMultipartUpload", "no parts to complete")
	}
	completed := lo.Map(signer.SortParts(parts), func(p uploadtypes.CompletedPart, _ int) minio.CompletePart {
		return minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag}
	})

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, session.Key, session.UploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return nil, classify("completeMultipartUpload", err)
	}
	s.logger.DebugContext(ctx, "multipart upload completed",
		"key", session.Key, "upload_id", session.UploadID, "parts", len(parts))
	return &uploadtypes.CompleteResult{
		Location: info.Location,
		Bucket:   lo.Ternary(info.Bucket != "", info.Bucket, s.bucket),
		Key:      lo.Ternary(info.Key != "", info.Key, session.Key),
		ETag:     info.ETag,
	}, nil
}

// AbortMultipartUpload aborts the session and releases its parts.
func (s *Signer) AbortMultipartUpload(ctx context.Context, _ *uploadtypes.File, session uploadtypes.SessionKey) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, session.Key, session.UploadID); err != nil {
		return classify("abortMultipartUpload", err)
	}
	s.logger.DebugContext(ctx, "multipart upload aborted", "key", session.Key, "upload_id", session.UploadID)
	return nil
}

// classify maps a minio error to the upload error taxonomy.
func classify(op string, err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewAbortedError(op, err)
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return errors.NewNetworkError(op, err)
	}
	body := map[string]any{"code": resp.Code, "message": resp.Message}
	return errors.NewServerError(op, resp.StatusCode, body, err).WithMessage(resp.Message)
}
