package sync

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ucm-sync/internal/models"
)

var errRunsFailed = errors.New("one or more sync runs failed")

var onceCmd = &cobra.Command{
	Use:   "once [target-id...]",
	Short: "Run a sync once and exit",
	Long: `Run one sync for each given cluster or node id and wait for it to finish.
Without arguments every configured cluster is synced.`,
	Example:      `ucm-sync sync once cluster-a node-sub-1 --config /path/to/config.yaml`,
	SilenceUsage: true,
	RunE:         runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel, wiring, logger, err := setup(cmd, "sync-once")
	if err != nil {
		return err
	}
	defer cancel()
	defer closeWiring(wiring, logger)

	sequencer, err := wiring.InitSequencer(ctx)
	if err != nil {
		return err
	}

	targetIDs := args
	if len(targetIDs) == 0 {
		for _, cluster := range wiring.InitResolver().Clusters() {
			targetIDs = append(targetIDs, cluster.ID)
		}
	}

	failed := 0
	for _, targetID := range targetIDs {
		targetLogger := logger.With().Str("target_id", targetID).Logger()
		targetLogger.Info().Msg("Starting one-time sync")

		handle, err := sequencer.Start(ctx, targetID)
		if err != nil {
			targetLogger.Error().Err(err).Msg("Error starting sync")
			failed++
			continue
		}

		run, err := sequencer.Wait(ctx, handle.RunID)
		if err != nil {
			targetLogger.Error().Err(err).Msg("Interrupted while waiting for sync")
			return err
		}
		if run.Phase == models.RunPhaseFailed {
			targetLogger.Error().Str("error", run.Error).Msg("Sync failed")
			failed++
			continue
		}
		targetLogger.Info().
			Str("run_id", run.ID).
			Int("warnings", len(run.Warnings)).
			Msg("One-time sync completed")
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRunsFailed, failed, len(targetIDs))
	}
	return nil
}
