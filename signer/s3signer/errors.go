package s3signer

import (
	"context"
	stderrors "errors"

	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// classify maps an AWS SDK error to the upload error taxonomy. An error that
// carries an HTTP status is a server error, anything else never received a
// response.
func classify(op string, err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewAbortedError(op, err)
	}

	var status interface{ HTTPStatusCode() int }
	if !stderrors.As(err, &status) || status.HTTPStatusCode() == 0 {
		return errors.NewNetworkError(op, err)
	}

	e := errors.NewServerError(op, status.HTTPStatusCode(), nil, err)
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		e.Body = map[string]any{"code": apiErr.ErrorCode(), "message": apiErr.ErrorMessage()}
		e.WithMessage(apiErr.ErrorMessage())
	}
	return e
}
