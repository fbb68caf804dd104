package netutil

import (
	"fmt"
	"net"
)

// EphemeralTCPPort reserves and releases a loopback TCP port so a server can
// be started on a known-free address.
func EphemeralTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
