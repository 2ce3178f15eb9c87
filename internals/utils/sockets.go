//go:build linux

package utils

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Socketpair returns a connected pair of stream sockets.
func Socketpair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "socketpair")
	}
	return os.NewFile(uintptr(fds[0]), "socketpair-a"),
		os.NewFile(uintptr(fds[1]), "socketpair-b"), nil
}

// SetCloexec manipulates the FD_CLOEXEC bit on the provided descriptor.
func SetCloexec(fd int, v bool) error {
	cur, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return errors.Wrap(err, "F_GETFD")
	}
	if v {
		cur |= unix.FD_CLOEXEC
	} else {
		cur &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, cur); err != nil {
		return errors.Wrap(err, "F_SETFD")
	}
	return nil
}
