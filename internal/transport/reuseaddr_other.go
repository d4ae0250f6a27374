//go:build !linux

package transport

import "syscall"

// setReuseAddr is a no-op on platforms without the linux-specific
// SO_REUSEADDR wiring; bind-time address reuse degrades gracefully.
func setReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
