//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package proxy

import (
	"errors"
	"syscall"
)

func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("reuse_addr is not supported on this platform")
}
