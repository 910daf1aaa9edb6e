package cli

import (
	"context"
	"log/slog"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/miniosigner"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/remote"
	"github.com/input-output-hk/catalyst-forge-libs/upload/signer/s3signer"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// newSigner builds the signing collaborator selected by the configuration.
func newSigner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (uploadtypes.Signer, error) {
	sc := cfg.Signer
	switch sc.Type {
	case config.SignerS3:
		opts := []s3signer.Option{
			s3signer.WithRegion(sc.Region),
			s3signer.WithEndpoint(sc.Endpoint),
			s3signer.WithForcePathStyle(sc.ForcePathStyle),
			s3signer.WithPrefix(sc.Prefix),
			s3signer.WithExpires(sc.Expires),
			s3signer.WithPostPolicy(sc.PostPolicy),
			s3signer.WithLogger(logger),
		}
		if sc.AccessKeyID != "" {
			opts = append(opts, s3signer.WithStaticCredentials(sc.AccessKeyID, sc.SecretAccessKey))
		}
		return s3signer.New(ctx, sc.Bucket, opts...)

	case config.SignerMinio:
		return miniosigner.New(sc.Endpoint, sc.Bucket,
			miniosigner.WithCredentials(sc.AccessKeyID, sc.SecretAccessKey),
			miniosigner.WithRegion(sc.Region),
			miniosigner.WithSecure(sc.Secure),
			miniosigner.WithPrefix(sc.Prefix),
			miniosigner.WithExpires(sc.Expires),
			miniosigner.WithPostPolicy(sc.PostPolicy),
			miniosigner.WithLogger(logger),
		)

	case config.SignerRemote:
		opts := []remote.Option{remote.WithLogger(logger)}
		if sc.Token != "" {
			opts = append(opts, remote.WithHeader("Authorization", "Bearer "+sc.Token))
		}
		return remote.New(sc.URL, opts...)
	}
	return nil, errors.Invalid("signer", "unknown signer type %q", sc.Type)
}
