package testutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortManager(t *testing.T) {
	t.Run("never hands out a reserved port twice", func(t *testing.T) {
		pm := newPortManager(20000, 20001)
		pm.available = func(int) bool { return true }

		first, err := pm.reservePort()
		require.NoError(t, err)
		second, err := pm.reservePort()
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		_, err = pm.reservePort()
		require.ErrorIs(t, err, errNoFreePort)

		pm.releasePort(first)
		again, err := pm.reservePort()
		require.NoError(t, err)
		require.Equal(t, first, again)
	})

	t.Run("skips ports something already listens on", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer listener.Close()
		busy := listener.Addr().(*net.TCPAddr).Port

		pm := newPortManager(busy, busy)

		_, err = pm.reservePort()
		require.ErrorIs(t, err, errNoFreePort)
		require.False(t, canListen(busy), "port %s should be busy", strconv.Itoa(busy))
	})
}
