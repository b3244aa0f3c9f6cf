package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01", "ci")

	t.Run("full output", func(t *testing.T) {
		var out bytes.Buffer
		VersionCmd.SetOut(&out)
		VersionCmd.SetArgs([]string{})
		shortFlag = false

		require.NoError(t, VersionCmd.Execute())
		require.Contains(t, out.String(), "ucm-sync version 1.2.3 (commit: abc123, date: 2026-01-01)")
		require.Contains(t, out.String(), "built by: ci")
	})

	t.Run("short output", func(t *testing.T) {
		var out bytes.Buffer
		VersionCmd.SetOut(&out)
		VersionCmd.SetArgs([]string{"--short"})

		require.NoError(t, VersionCmd.Execute())
		require.Equal(t, "1.2.3\n", out.String())
	})
}
