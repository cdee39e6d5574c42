//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package proxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
