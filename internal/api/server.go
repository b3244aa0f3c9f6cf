package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ucm-sync/pkg/log"
)

//nolint:mnd
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Serve runs an HTTP server on address until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	logger := log.Logger.With().Str("component", "http_server").Str("address", address).Logger()
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
