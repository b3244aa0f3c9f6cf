package sync

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ucm-sync/internal/api"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled syncs and serve the HTTP API",
	Long: `Sync every configured cluster on the configured interval and serve the HTTP API
used to start, inspect and abandon syncs on demand.`,
	Example:      `ucm-sync sync daemon --config /path/to/config.yaml`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel, wiring, logger, err := setup(cmd, "sync-daemon")
	if err != nil {
		return err
	}
	defer cancel()
	defer closeWiring(wiring, logger)

	sched, err := wiring.InitScheduler(ctx)
	if err != nil {
		return err
	}
	router, err := wiring.InitRouter(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Dur("interval", wiring.GetConfig().Sync.Interval).
		Str("address", wiring.GetConfig().HTTP.Address).
		Msg("Starting ucm-sync daemon")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(groupCtx)
	})
	group.Go(func() error {
		return api.Serve(groupCtx, wiring.GetConfig().HTTP.Address, router)
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("Daemon stopped with error")
		return err
	}
	logger.Info().Msg("Daemon stopped")
	return nil
}
