//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns the listen config for the relay and API
// sockets. It sets SO_REUSEADDR so a relay that disconnects and reconnects on
// a fixed port can rebind while the previous session's sockets sit in
// TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
