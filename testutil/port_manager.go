package testutil

import (
	"errors"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
)

var errNoFreePort = errors.New("no free host port for test container")

//nolint:gochecknoglobals
var (
	sharedPorts     *portManager
	sharedPortsOnce sync.Once
)

// portManager hands out host ports for containers that must keep their port
// across Stop/Start, e.g. the postgres outage tests. A port is handed out
// once per process and only when nothing listens on it.
type portManager struct {
	mu       sync.Mutex // Protects reserved
	reserved map[int]struct{}
	minPort  int
	maxPort  int
	attempts int
	// available reports whether the host port can be bound right now.
	available func(port int) bool
}

//nolint:mnd
func getPortManager() *portManager {
	sharedPortsOnce.Do(func() {
		sharedPorts = newPortManager(15000, 25000)
	})
	return sharedPorts
}

//nolint:mnd
func newPortManager(minPort, maxPort int) *portManager {
	return &portManager{
		reserved:  make(map[int]struct{}),
		minPort:   minPort,
		maxPort:   maxPort,
		attempts:  50,
		available: canListen,
	}
}

func canListen(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

func (pm *portManager) reservePort() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for range pm.attempts {
		port := pm.minPort + rand.IntN(pm.maxPort-pm.minPort+1)
		if _, taken := pm.reserved[port]; taken || !pm.available(port) {
			continue
		}
		pm.reserved[port] = struct{}{}
		return port, nil
	}
	return 0, errNoFreePort
}

func (pm *portManager) releasePort(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.reserved, port)
}
