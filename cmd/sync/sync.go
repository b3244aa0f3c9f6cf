package sync

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ucm-sync/internal/config"
	"ucm-sync/internal/core"
	"ucm-sync/pkg/log"
)

const shutdownTimeout = 30 * time.Second

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize UCM configuration into the local store",
	Long:  `Synchronize UCM clusters and nodes with various execution modes.`,
}

func init() {
	SyncCmd.AddCommand(onceCmd)
	SyncCmd.AddCommand(daemonCmd)
	SyncCmd.AddCommand(statusCmd)
	SyncCmd.AddCommand(abandonCmd)
}

// setup loads the configuration, initializes logging and returns a context
// cancelled on SIGINT or SIGTERM.
func setup(cmd *cobra.Command, component string) (context.Context, context.CancelFunc, *core.Wiring, zerolog.Logger, error) {
	appConfig, err := config.Load()
	if err != nil {
		log.Logger.Error().Err(err).Msg("Error creating config")
		return nil, nil, nil, log.Logger, err
	}
	log.Init(appConfig.ID, appConfig.LogLevel)
	logger := log.Logger.With().Str("component", component).Logger()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel, core.NewWiring(appConfig), logger, nil
}

func closeWiring(wiring *core.Wiring, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := wiring.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
}
