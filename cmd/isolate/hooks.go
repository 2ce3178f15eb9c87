//go:build linux

package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"sandbox/internals/container"
	"sandbox/internals/filesystem"
	"sandbox/internals/network"
	"sandbox/internals/utils"
)

type mountKind int

const (
	mountReadOnly mountKind = iota
	mountWritable
	mountTmp
)

func (k mountKind) String() string {
	switch k {
	case mountReadOnly:
		return "ReadOnly"
	case mountWritable:
		return "Writable"
	case mountTmp:
		return "Tmp"
	}
	return "?"
}

type mountSpec struct {
	kind mountKind
	dir  string
}

// mountFlag appends to the shared mount list so that --rw/--ro/--tmp keep
// their relative command line order.
type mountFlag struct {
	kind   mountKind
	usePWD bool
}

var _ pflag.Value = (*mountFlag)(nil)

func (f *mountFlag) Set(v string) error {
	dir := v
	if f.usePWD {
		dir = "."
	}
	cli.mounts = append(cli.mounts, mountSpec{f.kind, dir})
	return nil
}

func (f *mountFlag) String() string { return "" }

func (f *mountFlag) Type() string {
	if f.usePWD {
		return "bool"
	}
	return "dir"
}

// the temp dir holding the new root travels to the re-executed child by
// environment variable
const isolateDirEnv = "_SANDBOX_ISOLATE_DIR"

// isolate is the container behind the isolate command.
type isolate struct {
	container.BaseHooks
	isUser   bool
	allowNet bool
	args     []string
	mounts   []mountSpec
	cwd      string
	tdir     *filesystem.TempDir
}

func (h *isolate) cleanup() {
	if h.tdir != nil {
		h.tdir.Close()
		h.tdir = nil
	}
}

func (h *isolate) AtStart() error {
	tdir, err := filesystem.NewTempDir()
	if err != nil {
		return err
	}
	h.tdir = tdir
	if err := utils.Chown(tdir.Path(), utils.Getuid(), utils.Getgid()); err != nil {
		return err
	}
	return errors.Wrap(os.Setenv(isolateDirEnv, tdir.Path()), "export temp dir")
}

func (h *isolate) UnshareFlags() uintptr {
	flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWCGROUP | unix.CLONE_NEWIPC)
	if !h.allowNet {
		flags |= unix.CLONE_NEWNET
	}
	if h.isUser {
		flags |= unix.CLONE_NEWUSER
	}
	return flags
}

func (h *isolate) SetIDMap(pid int) error {
	log.Debugf("Setup ID mapping")
	if h.isUser {
		log.Debugf("Setup 1-1 UID mapping")
		uid := uint32(utils.Getuid())
		gid := uint32(utils.Getgid())
		if err := container.NewUIDMap(pid).Add(uid, uid, 1).Write(); err != nil {
			return err
		}
		if err := container.NewGIDMap(pid).Add(gid, gid, 1).Write(); err != nil {
			return err
		}
	}
	return nil
}

func (h *isolate) SetupPriv() error {
	log.Debugf("Privileged setup")

	tdir := os.Getenv(isolateDirEnv)
	if tdir == "" {
		return errors.New("temp dir location missing from environment")
	}

	if !h.allowNet {
		if err := network.ConfigureLoopback(); err != nil {
			return err
		}
	}

	// begin by isolating our new mount ns
	if err := filesystem.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE); err != nil {
		return err
	}

	// make /proc for our new PID namespace available early
	if err := filesystem.Mount("proc", "/proc", "proc", filesystem.NoExecOpt); err != nil {
		return err
	}

	newRoot, err := utils.Mkdir(filepath.Join(tdir, "root"))
	if err != nil {
		return err
	}
	newTmp := filepath.Join(newRoot, "tmp")
	newProc := filepath.Join(newRoot, "proc")
	newDevShm := filepath.Join(newRoot, "dev", "shm")
	newVarTmp := filepath.Join(newRoot, "var", "tmp")

	log.Debugf("Prepare new root at %s", newRoot)

	// mount --rbind / <tmp>/root
	if err := filesystem.Mount("/", newRoot, "", unix.MS_BIND|unix.MS_REC); err != nil {
		return err
	}

	// disconnect some FS we definitely won't use (if they are mount points)
	if err := filesystem.UmountLazy(newProc); err != nil {
		return err
	}
	for _, p := range []string{newDevShm, newTmp, newVarTmp} {
		if _, err := filesystem.MaybeUmountLazy(p); err != nil {
			return err
		}
	}

	if err := h.fixupMounts(newRoot); err != nil {
		return err
	}

	log.Debugf("Add special mounts")

	if err := filesystem.Mount("none", newProc, "proc", filesystem.NoExecOpt); err != nil {
		return err
	}
	if err := filesystem.Mount("none", newTmp, "tmpfs", filesystem.TmpOpt); err != nil {
		return err
	}
	if err := filesystem.Mount("none", newDevShm, "tmpfs", filesystem.NoExecOpt); err != nil {
		return err
	}
	if err := filesystem.Mount("none", newVarTmp, "tmpfs", filesystem.TmpOpt); err != nil {
		return err
	}

	if err := h.userBinds(newRoot); err != nil {
		return err
	}

	log.Debugf("Switch to new root")

	if _, err := utils.Mkdir(filepath.Join(newTmp, "oldroot")); err != nil {
		return err
	}

	// mounted above, no longer needed
	if err := filesystem.UmountLazy("/proc"); err != nil {
		return err
	}

	if err := os.Chdir(newRoot); err != nil {
		return errors.Wrapf(err, "chdir %s", newRoot)
	}
	if err := filesystem.PivotRoot(".", "tmp/oldroot"); err != nil {
		return err
	}
	if err := os.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir /")
	}
	if err := filesystem.UmountLazy("/tmp/oldroot"); err != nil {
		return err
	}
	if err := utils.Rmdir("/tmp/oldroot"); err != nil {
		return err
	}

	log.Debugf("Switched to new root")
	return nil
}

// fixupMounts walks the mounts now visible under the new root, unmounting
// kernel filesystems a sandboxed build has no business with and remounting
// physical and tmpfs-like mounts read-only.
func (h *isolate) fixupMounts(newRoot string) error {
	log.Debugf("Fixup non-root mounts")

	mounts, err := filesystem.CurrentMounts()
	if err != nil {
		return err
	}

	for _, mp := range mounts.All() {
		if mp.MountPoint != newRoot && !strings.HasPrefix(mp.MountPoint, newRoot+"/") {
			continue
		}
		log.Debugf("Visit: %s", mp)

		// black-list some fs-types
		if !h.isUser && slices.Contains([]string{"cgroup", "cgroup2", "debugfs"}, mp.FSType) {
			log.Debugf("Unmount: %s", mp.MountPoint)
			if err := filesystem.UmountLazy(mp.MountPoint); err != nil {
				return err
			}
			continue
		}

		if mp.HasOption(unix.MS_RDONLY) {
			continue
		}

		// try to remount physical and various tmpfs-like as read-only
		if strings.HasPrefix(mp.Source, "/dev/") || slices.Contains([]string{"tmpfs", "ramfs"}, mp.FSType) {
			log.Debugf("Make RO: %s", mp.MountPoint)
			err := filesystem.Mount("", mp.MountPoint, "",
				mp.Options|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_BIND)
			if err != nil {
				// this mount point may not be accessible to a
				// non-privileged user.  eg. under /root
				if h.isUser && (errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)) {
					continue
				}
				return err
			}
		}
	}
	return nil
}

// userBinds applies the --rw/--ro/--tmp directory requests in order:
// first the read-only and writable binds, then the tmpfs overlays.
func (h *isolate) userBinds(newRoot string) error {
	for _, m := range h.mounts {
		tdir := filepath.Join(newRoot, strings.TrimPrefix(m.dir, "/"))
		log.Debugf("Bind as %s: %s", m.kind, m.dir)

		switch m.kind {
		case mountReadOnly:
			// creating a RO bind mount is a two step process.
			// first create a normal bind mount (rw vs. ro depends on
			// the parent mount)
			if err := filesystem.Mount(m.dir, tdir, "", unix.MS_BIND); err != nil {
				return err
			}

			// now do a re-mount as RO.  must look up mount info each time.
			mounts, err := filesystem.CurrentMounts()
			if err != nil {
				return err
			}
			info, err := mounts.Lookup(tdir)
			if err != nil {
				return err
			}
			err = filesystem.Mount("", tdir, "",
				info.Options|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_BIND)
			if err != nil {
				return err
			}

		case mountWritable:
			if _, err := os.Stat(tdir); err == nil {
				// nothing to do
			} else if strings.HasPrefix(m.dir, "/tmp") {
				if err := utils.CloneDirs(m.dir, newRoot); err != nil {
					return err
				}
			} else {
				log.Errorf("PWD in unallowed location")
			}
			if err := filesystem.Mount(m.dir, tdir, "", unix.MS_BIND); err != nil {
				return err
			}

		case mountTmp:
			// handled below
		}
	}

	// now overlay with any tmpfs binds
	for _, m := range h.mounts {
		if m.kind != mountTmp {
			continue
		}
		tdir := filepath.Join(newRoot, strings.TrimPrefix(m.dir, "/"))
		if err := filesystem.Mount("", tdir, "tmpfs", unix.MS_NODEV|unix.MS_NOSUID); err != nil {
			return err
		}
	}
	return nil
}

func (h *isolate) Setup() error {
	log.Debugf("chdir(%q)", h.cwd)
	if err := os.Chdir(h.cwd); err != nil {
		return errors.Wrapf(err, "chdir %s", h.cwd)
	}

	log.Debugf("EXEC %q", h.args)
	return utils.NewExec(h.args[0]).
		Args(h.args...).
		Env("VIRTUAL_ENV", "isolated").
		Run()
}
