package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jeanedlune/idbkv/internal/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP",
		Long: `Serve the store over HTTP on server.port until interrupted.

Routes:
  GET    /kv           list keys
  DELETE /kv           clear the store
  GET    /kv/{key}     read a value
  PUT    /kv/{key}     store {"value": ...}
  DELETE /kv/{key}     remove a key
  GET    /snapshot     dump a snapshot
  POST   /snapshot     restore a snapshot
  GET    /health, /ready, /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", a.config.Server.Port)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), ln)
		},
	}
}

// serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	server := api.NewServer(a.store, a.logger)
	srv := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("starting server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Mark server as ready
	server.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info().Msg("received shutdown signal, starting graceful shutdown")

	// Mark server as not ready immediately
	server.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}
	a.logger.Info().Msg("graceful shutdown completed")
	return nil
}
