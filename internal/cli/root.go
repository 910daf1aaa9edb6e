// Package cli implements the uploadctl command line tool.
package cli

import (
	"context"
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// app holds the state shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	// fs resolves relative file arguments
	fs billy.Filesystem

	newSigner func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (uploadtypes.Signer, error)

	// extra options appended to the configured uploader options
	uploadOpts []uploadtypes.Option
}

// NewRootCommand returns the uploadctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{
		fs:        osfs.New("."),
		newSigner: newSigner,
	})
}

func newRootCommand(a *app) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Upload files to an object store through presigned requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to config file")
	pf.IntP("limit", "l", 4, "maximum number of concurrent transfers (0 = unbounded)")
	pf.Duration("timeout", 0, "stall timeout of a single transfer")
	pf.String("chunk-size", "5MB", "part size of multipart uploads")
	pf.String("threshold", "100MB", "files larger than this are uploaded in parts")
	pf.String("field-name", "", "form field carrying the file content")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("signer", config.SignerS3, "signer type (s3, minio, remote)")
	pf.StringP("bucket", "b", "", "target bucket")
	pf.String("region", "", "bucket region")
	pf.String("endpoint", "", "object store endpoint")
	pf.Bool("path-style", false, "use path style addressing")
	pf.Bool("secure", false, "connect to the minio endpoint over TLS")
	pf.String("prefix", "", "key prefix of uploaded objects")
	pf.Bool("post-policy", false, "sign direct uploads as POST policy forms")
	pf.String("companion-url", "", "companion service used by the remote signer")

	root.AddCommand(
		newPutCommand(a),
		newServeCommand(a),
		newPartsCommand(a),
		newAbortCommand(a),
	)
	return root
}
