//go:build linux

// Package filesystem covers the mount-level plumbing of the sandbox:
// mount/umount/pivot_root wrappers, /proc/<pid>/mountinfo parsing, and
// per-run temporary directories.
package filesystem

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"sandbox/internals/logging"
)

var log = logging.New("filesystem")

// NoExecOpt is the usual option set for the synthetic filesystems the
// sandbox mounts (proc, cgroup tmpfs, hidden homes).
const NoExecOpt = unix.MS_NODEV | unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_RELATIME

// TmpOpt is NoExecOpt without noexec, for /tmp and /var/tmp where builds
// legitimately run compiled artifacts.
const TmpOpt = unix.MS_NODEV | unix.MS_NOSUID | unix.MS_RELATIME

// Mount wraps mount(2) with empty data.
func Mount(src, target, fstype string, flags uintptr) error {
	return MountWithData(src, target, fstype, flags, "")
}

// MountWithData wraps mount(2).
func MountWithData(src, target, fstype string, flags uintptr, data string) error {
	log.Debugf("mount(%q,%q,%q,%#x,%q)", src, target, fstype, flags, data)
	if err := unix.Mount(src, target, fstype, flags, data); err != nil {
		return errors.Wrapf(err, "mount src=%q target=%q fs=%q flags=%#x",
			src, target, fstype, flags)
	}
	return nil
}

// UmountLazy wraps umount2(..., MNT_DETACH) to remove a mount from the
// current namespace, but not necessarily from others.
func UmountLazy(path string) error {
	log.Debugf("umount(%q)", path)
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return errors.Wrapf(err, "umount2 %s", path)
	}
	return nil
}

// MaybeUmountLazy detaches path if it is a mount point.  Reports whether a
// mount was removed.
func MaybeUmountLazy(path string) (bool, error) {
	log.Debugf("umount(%q)", path)
	err := unix.Unmount(path, unix.MNT_DETACH)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EINVAL):
		// not a mount point
		return false, nil
	default:
		return false, errors.Wrapf(err, "umount2 %s", path)
	}
}

// PivotRoot wraps pivot_root(2).
func PivotRoot(newRoot, oldRoot string) error {
	log.Debugf("pivot_root(%q, %q)", newRoot, oldRoot)
	if err := unix.PivotRoot(newRoot, oldRoot); err != nil {
		return errors.Wrapf(err, "pivot_root %s", newRoot)
	}
	return nil
}
