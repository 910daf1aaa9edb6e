package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/s3api"
)

// MockS3Client is a mock implementation of the S3API interface for testing.
// It allows customization of each S3 operation through function fields.
type MockS3Client struct {
	CreateMultipartUploadFunc   func(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	ListPartsFunc               func(context.Context, *s3.ListPartsInput, ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUploadFunc func(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadFunc    func(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ s3api.S3API = (*MockS3Client)(nil)

// CreateMultipartUpload mocks the S3 CreateMultipartUpload operation.
func (m *MockS3Client) CreateMultipartUpload(
	ctx context.Context,
	params *s3.CreateMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String("test-upload-id"),
	}, nil
}

// ListParts mocks the S3 ListParts operation.
func (m *MockS3Client) ListParts(
	ctx context.Context,
	params *s3.ListPartsInput,
	optFns ...func(*s3.Options),
) (*s3.ListPartsOutput, error) {
	if m.ListPartsFunc != nil {
		return m.ListPartsFunc(ctx, params, optFns...)
	}
	return &s3.ListPartsOutput{}, nil
}

// CompleteMultipartUpload mocks the S3 CompleteMultipartUpload operation.
func (m *MockS3Client) CompleteMultipartUpload(
	ctx context.Context,
	params *s3.CompleteMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CompleteMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		Location: aws.String(fmt.Sprintf("https://%s.s3.amazonaws.com/%s", aws.ToString(params.Bucket), aws.ToString(params.Key))),
		ETag:     aws.String(`"test-etag-1"`),
	}, nil
}

// AbortMultipartUpload mocks the S3 AbortMultipartUpload operation.
func (m *MockS3Client) AbortMultipartUpload(
	ctx context.Context,
	params *s3.AbortMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

// MockPresigner is a mock implementation of the Presigner interface.
// Without overrides it returns deterministic URLs under BaseURL.
type MockPresigner struct {
	BaseURL string

	PresignPutObjectFunc  func(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPartFunc func(context.Context, *s3.UploadPartInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPostObjectFunc func(context.Context, *s3.PutObjectInput, ...func(*s3.PresignPostOptions)) (*s3.PresignedPostRequest, error)
}

var _ s3api.Presigner = (*MockPresigner)(nil)

func (m *MockPresigner) base() string {
	if m.BaseURL == "" {
		return "https://bucket.s3.amazonaws.com"
	}
	return m.BaseURL
}

// PresignPutObject mocks presigning a PUT.
func (m *MockPresigner) PresignPutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	optFns ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	if m.PresignPutObjectFunc != nil {
		return m.PresignPutObjectFunc(ctx, params, optFns...)
	}
	header := http.Header{"Host": {"bucket.s3.amazonaws.com"}}
	if params.ContentType != nil {
		header.Set("Content-Type", aws.ToString(params.ContentType))
	}
	return &v4.PresignedHTTPRequest{
		URL:          m.base() + "/" + aws.ToString(params.Key) + "?X-Amz-Signature=put",
		Method:       http.MethodPut,
		SignedHeader: header,
	}, nil
}

// PresignUploadPart mocks presigning the PUT of one part.
func (m *MockPresigner) PresignUploadPart(
	ctx context.Context,
	params *s3.UploadPartInput,
	optFns ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	if m.PresignUploadPartFunc != nil {
		return m.PresignUploadPartFunc(ctx, params, optFns...)
	}
	q := url.Values{}
	q.Set("partNumber", fmt.Sprint(aws.ToInt32(params.PartNumber)))
	q.Set("uploadId", aws.ToString(params.UploadId))
	q.Set("X-Amz-Signature", "part")
	return &v4.PresignedHTTPRequest{
		URL:          m.base() + "/" + aws.ToString(params.Key) + "?" + q.Encode(),
		Method:       http.MethodPut,
		SignedHeader: http.Header{"Host": {"bucket.s3.amazonaws.com"}},
	}, nil
}

// PresignPostObject mocks presigning a POST policy.
func (m *MockPresigner) PresignPostObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	optFns ...func(*s3.PresignPostOptions),
) (*s3.PresignedPostRequest, error) {
	if m.PresignPostObjectFunc != nil {
		return m.PresignPostObjectFunc(ctx, params, optFns...)
	}
	return &s3.PresignedPostRequest{
		URL: m.base(),
		Values: map[string]string{
			"key":              aws.ToString(params.Key),
			"policy":           "test-policy",
			"X-Amz-Signature":  "post",
			"X-Amz-Algorithm":  "AWS4-HMAC-SHA256",
			"X-Amz-Credential": "test",
		},
	}, nil
}
