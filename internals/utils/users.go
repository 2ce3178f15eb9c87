//go:build linux

// Package utils holds the small syscall and file helpers shared by the
// sandbox packages: uid/gid manipulation, file creation, socket pairs, and
// the final exec of the sandboxed command.
package utils

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

func Getuid() int  { return os.Getuid() }
func Geteuid() int { return os.Geteuid() }
func Getgid() int  { return os.Getgid() }
func Getegid() int { return os.Getegid() }

// Seteuid changes the effective user id of every runtime thread.
// x/sys/unix leaves this one out on Linux; the syscall package version
// covers the whole thread group.
func Seteuid(uid int) error {
	if err := syscall.Seteuid(uid); err != nil {
		return errors.Wrapf(err, "seteuid %d", uid)
	}
	return nil
}

// Setegid changes the effective group id of every runtime thread.
func Setegid(gid int) error {
	if err := syscall.Setegid(gid); err != nil {
		return errors.Wrapf(err, "setegid %d", gid)
	}
	return nil
}

// DropSUID resets the effective ids back to the real ids.  A no-op unless
// the binary is installed setuid/setgid.
func DropSUID() error {
	if err := Setegid(Getgid()); err != nil {
		return err
	}
	return Seteuid(Getuid())
}
