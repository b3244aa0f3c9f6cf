package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ucm-sync/cmd/configprint"
	"ucm-sync/cmd/serve"
	"ucm-sync/cmd/sync"
	"ucm-sync/cmd/version"
)

var cfgFile string

const (
	CFG_FLAG_NAME = "config"
)

var RootCmd = &cobra.Command{
	Use:   "ucm-sync",
	Short: "UCM Sync pulls configuration from Cisco UCM clusters into a local store",
	Long: `UCM Sync reads the configuration of Cisco Unified Communications Manager clusters
over AXL and stores it locally. Each run first syncs the shared infrastructure
(partitions, device pools, users, ...) and then the services built on top of it
(phones, lines, remote destinations and device profiles).`,
}

func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d, b string) {
	version.SetVersionInfo(v, c, d, b)
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(&cfgFile, CFG_FLAG_NAME, "c", "", "path to config file")

	_ = viper.BindPFlag(CFG_FLAG_NAME, RootCmd.PersistentFlags().Lookup(CFG_FLAG_NAME))
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ucm_sync")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	RootCmd.AddCommand(sync.SyncCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(version.VersionCmd)
	RootCmd.AddCommand(configprint.ConfigPrintCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return
	}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")               // For running from project root
	viper.AddConfigPath("/etc/ucm-sync/")  // For production
	viper.AddConfigPath("$HOME/.ucm-sync") // For user-specific config
}
