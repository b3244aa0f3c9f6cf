package serve

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ucm-sync/internal/api"
	"ucm-sync/internal/config"
	"ucm-sync/internal/core"
	"ucm-sync/pkg/log"
)

var addressFlag string

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without scheduled syncs",
	Long: `Serve the HTTP API used to start, inspect and abandon syncs. Unlike "sync daemon",
no sync is started unless requested through the API.`,
	Example:      `ucm-sync serve --address :8080 --config /path/to/config.yaml`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	ServeCmd.Flags().StringVarP(&addressFlag, "address", "a", "", "listen address, overrides http.address")
}

func run(cmd *cobra.Command, _ []string) error {
	appConfig, err := config.Load()
	if err != nil {
		log.Logger.Error().Err(err).Msg("Error creating config")
		return err
	}
	log.Init(appConfig.ID, appConfig.LogLevel)
	logger := log.Logger.With().Str("component", "serve").Logger()

	address := appConfig.HTTP.Address
	if addressFlag != "" {
		address = addressFlag
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wiring := core.NewWiring(appConfig)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := wiring.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	router, err := wiring.InitRouter(ctx)
	if err != nil {
		return err
	}
	return api.Serve(ctx, address, router)
}
