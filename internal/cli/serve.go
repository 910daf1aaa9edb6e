package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/companion"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion signing service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", a.cfg.Companion.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", a.cfg.Companion.Addr, err)
			}
			return a.serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	return cmd
}

// serve runs the companion on ln until ctx is cancelled.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	signer, err := a.newSigner(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler:           companion.New(signer, a.logger).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("companion listening", "addr", ln.Addr().String(), "signer", a.cfg.Signer.Type)

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down companion")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
