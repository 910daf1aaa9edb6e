package s3signer

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	upload "github.com/input-output-hk/catalyst-forge-libs/upload"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

func apiError(op string, status int, code, message string) error {
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: op,
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
				Err:      &smithy.GenericAPIError{Code: code, Message: message},
			},
		},
	}
}

func testFile() *uploadtypes.File {
	return &uploadtypes.File{
		ID:   "f1",
		Name: "report.pdf",
		Type: "application/pdf",
		Size: 1024,
		Meta: map[string]string{"owner": "ops"},
	}
}

func TestSigner_GetUploadParameters(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		presign  *testutil.MockPresigner
		validate func(t *testing.T, params *uploadtypes.UploadParameters, err error)
	}{
		{
			name:    "presigned put",
			opts:    []Option{WithPrefix("incoming/")},
			presign: &testutil.MockPresigner{},
			validate: func(t *testing.T, params *uploadtypes.UploadParameters, err error) {
				require.NoError(t, err)
				assert.Equal(t, http.MethodPut, params.Method)
				assert.Contains(t, params.URL, "/incoming/")
				assert.True(t, strings.HasSuffix(strings.Split(params.URL, "?")[0], "-report.pdf"))
				assert.Equal(t, map[string]string{"Content-Type": "application/pdf"}, params.Headers)
				assert.Empty(t, params.Fields)
			},
		},
		{
			name: "expiry is forwarded",
			opts: []Option{WithExpires(time.Hour)},
			presign: &testutil.MockPresigner{
				PresignPutObjectFunc: func(
					_ context.Context,
					params *s3.PutObjectInput,
					optFns ...func(*s3.PresignOptions),
				) (*v4.PresignedHTTPRequest, error) {
					var o s3.PresignOptions
					for _, fn := range optFns {
						fn(&o)
					}
					if o.Expires != time.Hour {
						return nil, assert.AnError
					}
					return &v4.PresignedHTTPRequest{URL: "https://x/" + aws.ToString(params.Key), Method: http.MethodPut}, nil
				},
			},
			validate: func(t *testing.T, params *uploadtypes.UploadParameters, err error) {
				require.NoError(t, err)
				assert.Nil(t, params.Headers)
			},
		},
		{
			name:    "post policy",
			opts:    []Option{WithPostPolicy(true)},
			presign: &testutil.MockPresigner{},
			validate: func(t *testing.T, params *uploadtypes.UploadParameters, err error) {
				require.NoError(t, err)
				assert.Equal(t, http.MethodPost, params.Method)
				assert.Equal(t, "https://bucket.s3.amazonaws.com", params.URL)
				assert.True(t, strings.HasSuffix(params.Fields["key"], "-report.pdf"))
				assert.Equal(t, "test-policy", params.Fields["policy"])
				assert.Equal(t, "application/pdf", params.Fields["Content-Type"])
			},
		},
		{
			name: "presign failure",
			presign: &testutil.MockPresigner{
				PresignPutObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
					return nil, assert.AnError
				},
			},
			validate: func(t *testing.T, _ *uploadtypes.UploadParameters, err error) {
				require.Error(t, err)
				assert.True(t, errors.IsNetwork(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWithClient(&testutil.MockS3Client{}, tt.presign, "bucket", tt.opts...)
			params, err := s.GetUploadParameters(context.Background(), testFile())
			tt.validate(t, params, err)
		})
	}
}

func TestSigner_CreateMultipartUpload(t *testing.T) {
	tests := []struct {
		name     string
		mock     func(*testutil.MockS3Client)
		validate func(t *testing.T, key *uploadtypes.SessionKey, err error)
	}{
		{
			name: "success",
			mock: func(m *testutil.MockS3Client) {
				m.CreateMultipartUploadFunc = func(
					_ context.Context,
					in *s3.CreateMultipartUploadInput,
					_ ...func(*s3.Options),
				) (*s3.CreateMultipartUploadOutput, error) {
					if aws.ToString(in.ContentType) != "application/pdf" || in.Metadata["owner"] != "ops" {
						return nil, assert.AnError
					}
					return &s3.CreateMultipartUploadOutput{UploadId: aws.String("u-1")}, nil
				}
			},
			validate: func(t *testing.T, key *uploadtypes.SessionKey, err error) {
				require.NoError(t, err)
				assert.Equal(t, "u-1", key.UploadID)
				assert.True(t, strings.HasPrefix(key.Key, "p/"))
			},
		},
		{
			name: "access denied",
			mock: func(m *testutil.MockS3Client) {
				m.CreateMultipartUploadFunc = func(
					context.Context,
					*s3.CreateMultipartUploadInput,
					...func(*s3.Options),
				) (*s3.CreateMultipartUploadOutput, error) {
					return nil, apiError("CreateMultipartUpload", http.StatusForbidden, "AccessDenied", "Access Denied")
				}
			},
			validate: func(t *testing.T, _ *uploadtypes.SessionKey, err error) {
				require.Error(t, err)
				assert.True(t, errors.IsServer(err))
				var e *errors.Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, http.StatusForbidden, e.Status)
				assert.Equal(t, "Access Denied", e.Message)
				assert.Equal(t, "AccessDenied", e.Body["code"])
			},
		},
		{
			name: "missing upload id",
			mock: func(m *testutil.MockS3Client) {
				m.CreateMultipartUploadFunc = func(
					context.Context,
					*s3.CreateMultipartUploadInput,
					...func(*s3.Options),
				) (*s3.CreateMultipartUploadOutput, error) {
					return &s3.CreateMultipartUploadOutput{}, nil
				}
			},
			validate: func(t *testing.T, _ *uploadtypes.SessionKey, err error) {
				assert.True(t, errors.IsServer(err))
			},
		},
		{
			name: "cancelled",
			mock: func(m *testutil.MockS3Client) {
				m.CreateMultipartUploadFunc = func(
					context.Context,
					*s3.CreateMultipartUploadInput,
					...func(*s3.Options),
				) (*s3.CreateMultipartUploadOutput, error) {
					return nil, &smithy.OperationError{ServiceID: "S3", Err: context.Canceled}
				}
			},
			validate: func(t *testing.T, _ *uploadtypes.SessionKey, err error) {
				assert.True(t, errors.IsAborted(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &testutil.MockS3Client{}
			tt.mock(m)
			s := NewWithClient(m, &testutil.MockPresigner{}, "bucket", WithPrefix("p/"))
			key, err := s.CreateMultipartUpload(context.Background(), testFile())
			tt.validate(t, key, err)
		})
	}
}

func TestSigner_SignPart(t *testing.T) {
	s := NewWithClient(&testutil.MockS3Client{}, &testutil.MockPresigner{}, "bucket")
	req := uploadtypes.SignPartRequest{
		SessionKey: uploadtypes.SessionKey{UploadID: "u-1", Key: "k"},
		PartNumber: 3,
		Size:       5 * uploadtypes.MiB,
	}

	part, err := s.SignPart(context.Background(), testFile(), req)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, part.Method)
	assert.Contains(t, part.URL, "partNumber=3")
	assert.Contains(t, part.URL, "uploadId=u-1")
	assert.Nil(t, part.Headers)

	req.PartNumber = 0
	_, err = s.SignPart(context.Background(), testFile(), req)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSigner_ListPartsPaginates(t *testing.T) {
	var calls int
	m := &testutil.MockS3Client{
		ListPartsFunc: func(_ context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
			calls++
			if in.PartNumberMarker == nil {
				return &s3.ListPartsOutput{
					Parts: []s3types.Part{
						{PartNumber: aws.Int32(1), Size: aws.Int64(5), ETag: aws.String(`"a"`)},
						{PartNumber: aws.Int32(2), Size: aws.Int64(5), ETag: aws.String(`"b"`)},
					},
					IsTruncated:          aws.Bool(true),
					NextPartNumberMarker: aws.String("2"),
				}, nil
			}
			return &s3.ListPartsOutput{
				Parts: []s3types.Part{{PartNumber: aws.Int32(3), Size: aws.Int64(2), ETag: aws.String(`"c"`)}},
			}, nil
		},
	}
	s := NewWithClient(m, &testutil.MockPresigner{}, "bucket")

	parts, err := s.ListParts(context.Background(), testFile(), uploadtypes.SessionKey{UploadID: "u", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []uploadtypes.Part{
		{Number: 1, Size: 5, ETag: `"a"`},
		{Number: 2, Size: 5, ETag: `"b"`},
		{Number: 3, Size: 2, ETag: `"c"`},
	}, parts)
}

func TestSigner_CompleteMultipartUpload(t *testing.T) {
	var sent []int32
	m := &testutil.MockS3Client{
		CompleteMultipartUploadFunc: func(
			_ context.Context,
			in *s3.CompleteMultipartUploadInput,
			_ ...func(*s3.Options),
		) (*s3.CompleteMultipartUploadOutput, error) {
			for _, p := range in.MultipartUpload.Parts {
				sent = append(sent, aws.ToInt32(p.PartNumber))
			}
			return &s3.CompleteMultipartUploadOutput{Location: aws.String("https://x/k"), ETag: aws.String(`"e"`)}, nil
		},
	}
	s := NewWithClient(m, &testutil.MockPresigner{}, "bucket")

	res, err := s.CompleteMultipartUpload(context.Background(), testFile(),
		uploadtypes.SessionKey{UploadID: "u", Key: "k"},
		[]uploadtypes.CompletedPart{{PartNumber: 2, ETag: "b"}, {PartNumber: 1, ETag: "a"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, sent)
	assert.Equal(t, &uploadtypes.CompleteResult{Location: "https://x/k", Bucket: "bucket", Key: "k", ETag: `"e"`}, res)

	_, err = s.CompleteMultipartUpload(context.Background(), testFile(), uploadtypes.SessionKey{}, nil)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSigner_AbortMultipartUpload(t *testing.T) {
	var aborted string
	m := &testutil.MockS3Client{
		AbortMultipartUploadFunc: func(
			_ context.Context,
			in *s3.AbortMultipartUploadInput,
			_ ...func(*s3.Options),
		) (*s3.AbortMultipartUploadOutput, error) {
			aborted = aws.ToString(in.UploadId)
			if aborted == "gone" {
				return nil, apiError("AbortMultipartUpload", http.StatusNotFound, "NoSuchUpload", "not found")
			}
			return &s3.AbortMultipartUploadOutput{}, nil
		},
	}
	s := NewWithClient(m, &testutil.MockPresigner{}, "bucket")

	require.NoError(t, s.AbortMultipartUpload(context.Background(), testFile(), uploadtypes.SessionKey{UploadID: "u", Key: "k"}))
	assert.Equal(t, "u", aborted)

	err := s.AbortMultipartUpload(context.Background(), testFile(), uploadtypes.SessionKey{UploadID: "gone", Key: "k"})
	assert.True(t, errors.IsServer(err))
}

// TestSigner_EndToEnd drives a multipart upload through the Uploader with
// presigned part URLs pointing at the in-memory object store.
func TestSigner_EndToEnd(t *testing.T) {
	store := testutil.NewObjectStore()
	defer store.Close()

	api := &testutil.MockS3Client{
		CompleteMultipartUploadFunc: func(
			_ context.Context,
			in *s3.CompleteMultipartUploadInput,
			_ ...func(*s3.Options),
		) (*s3.CompleteMultipartUploadOutput, error) {
			numbers := make([]int, 0, len(in.MultipartUpload.Parts))
			for _, p := range in.MultipartUpload.Parts {
				numbers = append(numbers, int(aws.ToInt32(p.PartNumber)))
			}
			if err := store.Assemble(aws.ToString(in.Key), aws.ToString(in.UploadId), numbers); err != nil {
				return nil, err
			}
			return &s3.CompleteMultipartUploadOutput{Location: aws.String(store.URL() + "/" + aws.ToString(in.Key))}, nil
		},
	}
	s := NewWithClient(api, &testutil.MockPresigner{BaseURL: store.URL()}, "bucket", WithPrefix("e2e/"))

	u, err := upload.New(s,
		upload.WithHTTPClient(store.Server.Client()),
		upload.WithLimit(2),
		upload.WithMultipart(true),
		upload.WithChunkSize(1024),
		upload.WithChunkLimits(uploadtypes.ChunkLimits{MinPartSize: 1024, MaxPartSize: uploadtypes.MiB, MaxParts: 100}),
	)
	require.NoError(t, err)
	defer u.Close()

	file, data := testutil.NewFile("f1", "big.bin", 5000)
	res, err := u.UploadFile(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Parts)
	stored, ok := store.Object(res.Key)
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.True(t, strings.HasPrefix(res.Key, "e2e/"))
}
