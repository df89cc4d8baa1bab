//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config; address reuse
// is only tuned on linux and windows.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
