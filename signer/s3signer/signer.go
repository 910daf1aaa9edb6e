// Package s3signer signs uploads against Amazon S3 and S3-compatible stores
// with the AWS SDK.
//
// Direct uploads receive a presigned PUT URL, or a POST policy when enabled.
// Multipart sessions are created, listed, completed and aborted with the
// caller's credentials while every part receives its own presigned PUT URL, so
// part bodies never pass through the signing process.
package s3signer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/s3api"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Signer implements uploadtypes.Signer for one bucket.
type Signer struct {
	api     s3api.S3API
	presign s3api.Presigner
	bucket  string
	cfg     *Config
	logger  *slog.Logger
}

var _ uploadtypes.Signer = (*Signer)(nil)

// New creates a Signer for the bucket. It loads AWS credentials using the
// default credential chain unless static credentials or a custom config are
// given.
//
// Example:
//
//	s, err := s3signer.New(ctx, "my-bucket",
//	    s3signer.WithRegion("eu-central-1"),
//	    s3signer.WithPrefix("incoming/"),
//	)
func New(ctx context.Context, bucket string, opts ...Option) (*Signer, error) {
	if bucket == "" {
		return nil, errors.Invalid("new", "bucket is required")
	}
	cfg := applyOptions(opts)

	var awsCfg aws.Config
	if cfg.CustomAWSConfig != nil {
		awsCfg = *cfg.CustomAWSConfig
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AccessKeyID != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.NewNetworkError("loading aws config", err)
		}
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	} else if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newSigner(client, s3.NewPresignClient(client), bucket, cfg), nil
}

// NewWithClient creates a Signer over custom S3API and Presigner
// implementations. This is primarily used for testing with mocked clients.
func NewWithClient(api s3api.S3API, presign s3api.Presigner, bucket string, opts ...Option) *Signer {
	return newSigner(api, presign, bucket, applyOptions(opts))
}

func applyOptions(opts []Option) *Config {
	cfg := &Config{Expires: DefaultExpires}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func newSigner(api s3api.S3API, presign s3api.Presigner, bucket string, cfg *Config) *Signer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Signer{
		api:     api,
		presign: presign,
		bucket:  bucket,
		cfg:     cfg,
		logger:  logger.With("bucket", bucket),
	}
}

// GetUploadParameters presigns a direct upload of the file.
func (s *Signer) GetUploadParameters(ctx context.Context, file *uploadtypes.File) (*uploadtypes.UploadParameters, error) {
	key := signer.ObjectKey(s.cfg.Prefix, file)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if file.Type != "" {
		input.ContentType = aws.String(file.Type)
	}

	if s.cfg.PostPolicy {
		req, err := s.presign.PresignPostObject(ctx, input, func(o *s3.PresignPostOptions) {
			o.Expires = s.cfg.Expires
		})
		if err != nil {
			return nil, classify("getUploadParameters", err)
		}
		fields := make(map[string]string, len(req.Values)+1)
		for k, v := range req.Values {
			fields[k] = v
		}
		fields["key"] = key
		if file.Type != "" {
			fields["Content-Type"] = file.Type
		}
		s.logger.DebugContext(ctx, "presigned post policy", "key", key)
		return &uploadtypes.UploadParameters{Method: http.MethodPost, URL: req.URL, Fields: fields}, nil
	}

	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(s.cfg.Expires))
	if err != nil {
		return nil, classify("getUploadParameters", err)
	}
	s.logger.DebugContext(ctx, "presigned put", "key", key)
	return &uploadtypes.UploadParameters{
		Method:  req.Method,
		URL:     req.URL,
		Headers: signedHeaders(req),
	}, nil
}

// CreateMultipartUpload opens a multipart upload with the file metadata.
func (s *Signer) CreateMultipartUpload(ctx context.Context, file *uploadtypes.File) (*uploadtypes.SessionKey, error) {
	key := signer.ObjectKey(s.cfg.Prefix, file)
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Metadata: validation.SanitizeMetadata(file.Meta),
	}
	if file.Type != "" {
		input.ContentType = aws.String(file.Type)
	}

	out, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, classify("createMultipartUpload", err)
	}
	if aws.ToString(out.UploadId) == "" {
		return nil, errors.NewServerError("createMultipartUpload", http.StatusOK, nil, nil).
			WithMessage("response carries no upload id")
	}

	s.logger.DebugContext(ctx, "multipart upload created", "key", key, "upload_id", aws.ToString(out.UploadId))
	return &uploadtypes.SessionKey{UploadID: aws.ToString(out.UploadId), Key: key}, nil
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
	input := &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(req.Key),
		UploadId:   aws.String(req.UploadID),
		PartNumber: aws.Int32(req.PartNumber),
	}
	if req.Size > 0 {
		input.ContentLength = aws.Int64(req.Size)
	}

	signed, err := s.presign.PresignUploadPart(ctx, input, s3.WithPresignExpires(s.cfg.Expires))
	if err != nil {
		return nil, classify("signPart", err)
	}
	return &uploadtypes.SignedPart{
		URL:     signed.URL,
		Method:  signed.Method,
		Headers: signedHeaders(signed),
	}, nil
}

// ListParts returns every part stored for the session.
func (s *Signer) ListParts(
	ctx context.Context,
	_ *uploadtypes.File,
	session uploadtypes.SessionKey,
) ([]uploadtypes.Part, error) {
	paginator := s3.NewListPartsPaginator(s.api, &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})

	var parts []uploadtypes.Part
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("listParts", err)
		}
		parts = append(parts, lo.Map(page.Parts, func(p s3types.Part, _ int) uploadtypes.Part {
			return uploadtypes.Part{
				Number: aws.ToInt32(p.PartNumber),
				Size:   aws.ToInt64(p.Size),
				ETag:   aws.ToString(p.ETag),
			}
		})...)
	}
	return parts, nil
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

	completed := lo.Map(signer.SortParts(parts), func(p uploadtypes.CompletedPart, _ int) s3types.CompletedPart {
		return s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	})

	out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(session.Key),
		UploadId:        aws.String(session.UploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, classify("completeMultipartUpload", err)
	}

	s.logger.DebugContext(ctx, "multipart upload completed",
		"key", session.Key, "upload_id", session.UploadID, "parts", len(parts))
	return &uploadtypes.CompleteResult{
		Location: aws.ToString(out.Location),
		Bucket:   lo.Ternary(aws.ToString(out.Bucket) != "", aws.ToString(out.Bucket), s.bucket),
		Key:      lo.Ternary(aws.ToString(out.Key) != "", aws.ToString(out.Key), session.Key),
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// AbortMultipartUpload aborts the session and releases its parts.
func (s *Signer) AbortMultipartUpload(ctx context.Context, _ *uploadtypes.File, session uploadtypes.SessionKey) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	if err != nil {
		return classify("abortMultipartUpload", err)
	}
	s.logger.DebugContext(ctx, "multipart upload aborted", "key", session.Key, "upload_id", session.UploadID)
	return nil
}

// signedHeaders flattens the headers a presigned request must carry. Host is
// set by the transport.
func signedHeaders(req *v4.PresignedHTTPRequest) map[string]string {
	headers := make(map[string]string, len(req.SignedHeader))
	for k, vs := range req.SignedHeader {
		if http.CanonicalHeaderKey(k) == "Host" || len(vs) == 0 {
			continue
		}
		headers[http.CanonicalHeaderKey(k)] = vs[0]
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
