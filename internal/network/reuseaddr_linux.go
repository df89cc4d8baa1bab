//go:build linux

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
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
