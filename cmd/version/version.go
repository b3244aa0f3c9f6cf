package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"

	shortFlag bool
)

func SetVersionInfo(v, c, d, b string) {
	version = v
	commit = c
	date = d
	builtBy = b
}

func GetVersion() string {
	return fmt.Sprintf("%s (commit: %s, date: %s)", version, commit, date)
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if shortFlag {
			fmt.Fprintln(out, version)
			return
		}
		fmt.Fprintf(out, "ucm-sync version %s\n", GetVersion())
		fmt.Fprintf(out, "  built by: %s\n", builtBy)
		fmt.Fprintf(out, "  go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&shortFlag, "short", false, "print only the version number")
}
