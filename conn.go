package scgi

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ShutdownClose performs a bidirectional shutdown on conn and then closes
// it. Shutdown errors are suppressed: the peer may already have
// disconnected, and a half-closed socket must still be released. Callers
// defer this so the connection is torn down on every exit path, panics
// included.
func ShutdownClose(conn net.Conn) {
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			_ = raw.Control(func(fd uintptr) {
				_ = unix.Shutdown(int(fd), unix.SHUT_RDWR)
			})
		}
	}
	_ = conn.Close()
}
