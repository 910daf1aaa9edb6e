// Package s3api defines interfaces for the S3 operations the signers use, to
// enable testing and mocking.
package s3api

import (
	"context"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API defines the multipart session operations of an S3 client.
type S3API interface {
	// CreateMultipartUpload initiates a multipart upload
	CreateMultipartUpload(
		ctx context.Context,
		params *s3.CreateMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)

	// ListParts lists the parts uploaded for a multipart upload
	ListParts(
		ctx context.Context,
		params *s3.ListPartsInput,
		optFns ...func(*s3.Options),
	) (*s3.ListPartsOutput, error)

	// CompleteMultipartUpload completes a multipart upload
	CompleteMultipartUpload(
		ctx context.Context,
		params *s3.CompleteMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)

	// AbortMultipartUpload aborts a multipart upload
	AbortMultipartUpload(
		ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner signs requests a browser or another client sends to S3 directly.
type Presigner interface {
	// PresignPutObject signs a whole-object PUT
	PresignPutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)

	// PresignUploadPart signs the PUT of one part
	PresignUploadPart(
		ctx context.Context,
		params *s3.UploadPartInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)

	// PresignPostObject signs a POST policy form upload
	PresignPostObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.PresignPostOptions),
	) (*s3.PresignedPostRequest, error)
}

// Verify that the AWS S3 clients implement our interfaces
var (
	_ S3API     = (*s3.Client)(nil)
	_ Presigner = (*s3.PresignClient)(nil)
)
