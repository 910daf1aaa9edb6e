package cli

import (
	"fmt"

	"github.com/inhies/go-bytesize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

func newPartsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parts UPLOAD_ID KEY",
		Short: "List the stored parts of a multipart upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.newSigner(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("creating signer: %w", err)
			}

			session := uploadtypes.SessionKey{UploadID: args[0], Key: args[1]}
			parts, err := signer.ListParts(cmd.Context(), nil, session)
			if err != nil {
				return fmt.Errorf("listing parts: %w", err)
			}

			tb := table.NewWriter()
			tb.AppendHeader(table.Row{"Part", "Size", "ETag"})
			for _, p := range parts {
				tb.AppendRow(table.Row{p.Number, bytesize.New(float64(p.Size)), p.ETag})
			}
			total := lo.SumBy(parts, func(p uploadtypes.Part) int64 { return p.Size })
			tb.AppendFooter(table.Row{len(parts), bytesize.New(float64(total)), ""})

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tb.Render())
			return err
		},
	}
}

func newAbortCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abort UPLOAD_ID KEY",
		Short: "Abort a multipart upload and discard its parts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.newSigner(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("creating signer: %w", err)
			}

			session := uploadtypes.SessionKey{UploadID: args[0], Key: args[1]}
			if err := signer.AbortMultipartUpload(cmd.Context(), nil, session); err != nil {
				return fmt.Errorf("aborting upload: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "aborted %s (%s)\n", session.UploadID, session.Key)
			return err
		},
	}
}
