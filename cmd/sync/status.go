package sync

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ucm-sync/internal/api"
)

var reasonFlag string

var statusCmd = &cobra.Command{
	Use:          "status <target-id>",
	Short:        "Print the latest sync outcome of a cluster or node",
	Example:      `ucm-sync sync status cluster-a --config /path/to/config.yaml`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runStatus,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <target-id>",
	Short: "Close a sync left open by a crashed process",
	Long: `Mark the open sync history entry of a target as failed so a new sync can start.
Only use this when no process is still syncing the target.`,
	Example:      `ucm-sync sync abandon cluster-a --reason "process killed" --config /path/to/config.yaml`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runAbandon,
}

func init() {
	abandonCmd.Flags().StringVarP(&reasonFlag, "reason", "r", "abandoned by operator",
		"reason stored on the closed history entry")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel, wiring, logger, err := setup(cmd, "sync-status")
	if err != nil {
		return err
	}
	defer cancel()
	defer closeWiring(wiring, logger)

	sequencer, err := wiring.InitSequencer(ctx)
	if err != nil {
		return err
	}
	status, err := sequencer.Status(ctx, args[0])
	if err != nil {
		logger.Error().Err(err).Str("target_id", args[0]).Msg("Failed to read sync status")
		return err
	}

	out, err := json.MarshalIndent(api.NewStatusResponse(status), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runAbandon(cmd *cobra.Command, args []string) error {
	ctx, cancel, wiring, logger, err := setup(cmd, "sync-abandon")
	if err != nil {
		return err
	}
	defer cancel()
	defer closeWiring(wiring, logger)

	sequencer, err := wiring.InitSequencer(ctx)
	if err != nil {
		return err
	}
	if err := sequencer.Abandon(ctx, args[0], reasonFlag); err != nil {
		logger.Error().Err(err).Str("target_id", args[0]).Msg("Failed to abandon sync")
		return err
	}
	logger.Info().Str("target_id", args[0]).Str("reason", reasonFlag).Msg("Sync abandoned")
	return nil
}
