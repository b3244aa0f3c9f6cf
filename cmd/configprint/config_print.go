package configprint

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ucm-sync/internal/config"
	"ucm-sync/pkg/converter"
	"ucm-sync/pkg/log"
)

var (
	sectionFlag string
	formatFlag  string
)

var ConfigPrintCmd = &cobra.Command{
	Use:   "config-print",
	Short: "Print the current configuration",
	Long: `Print the loaded configuration or a specific section of it.
Supports YAML and JSON output formats.`,
	Example: `  # Print entire config
  ucm-sync config-print

  # Print specific section
  ucm-sync config-print --section clusters
  ucm-sync config-print --section postgres
  ucm-sync config-print --section sync

  # Print in YAML format
  ucm-sync config-print --section sync --format yaml`,
	Run: run,
}

func init() {
	ConfigPrintCmd.Flags().StringVarP(&sectionFlag, "section", "s", "",
		"print only a specific section (clusters, postgres, storage, sync, http)")
	ConfigPrintCmd.Flags().StringVarP(&formatFlag, "format", "f", "json",
		"output format (yaml|json)")
}

func run(_ *cobra.Command, _ []string) {
	logger := log.Logger.With().Str("component", "config_print").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return
	}

	var output interface{}

	if sectionFlag == "" {
		output = cfg
		logger.Info().Msg("Printing entire configuration")
	} else {
		output, err = getSection(cfg, sectionFlag)
		if err != nil {
			logger.Error().Err(err).Str("section", sectionFlag).Msg("Invalid section")
			return
		}
		logger.Info().Str("section", sectionFlag).Msg("Printing configuration section")
	}

	switch formatFlag {
	case "yaml":
		printYAML(logger, output)
	case "json":
		printJSON(logger, output)
	default:
		logger.Error().Msgf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func sections(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"clusters":    cfg.Clusters,
		"postgres":    cfg.Postgres,
		"storage":     cfg.Storage,
		"sync":        cfg.Sync,
		"http":        cfg.HTTP,
		"concurrency": map[string]int{"concurrency": cfg.Concurrency},
		"log_level":   map[string]string{"log_level": cfg.LogLevel},
		"id":          map[string]string{"id": cfg.ID},
	}
}

func getSection(cfg *config.Config, section string) (interface{}, error) {
	all := sections(cfg)
	if value, ok := all[section]; ok {
		return value, nil
	}
	names := converter.MapKeysToSlice(all)
	slices.Sort(names)
	return nil, fmt.Errorf("unknown section: %s (valid: %s)", section, strings.Join(names, ", "))
}

func printYAML(logger zerolog.Logger, data interface{}) {
	bytes, err := yaml.Marshal(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode YAML")
	}
	content := string(bytes)
	logger.Info().
		Str("format", "yaml").
		Str("config", "\n"+content).
		Msg("Printing Configuration")
}

func printJSON(logger zerolog.Logger, data interface{}) {
	logger.Info().Stack().Interface("config", data).Msg("Printing Configuration")
}
