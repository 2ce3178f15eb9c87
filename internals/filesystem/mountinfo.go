//go:build linux

package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FindMountPoint walks up from path to the (parent) directory which is a
// mount point.  Returns either the provided path or a parent.
// See src/find-mount-point.c in GNU coreutils.
func FindMountPoint(path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "abs %s", path)
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.Wrapf(err, "canonicalize %s", path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}

	dir := path
	if !st.IsDir() {
		// canonicalized files always have a parent
		dir = filepath.Dir(path)
	}
	dev := st.Sys().(*syscall.Stat_t).Dev

	for {
		next := filepath.Dir(dir)
		if next == dir {
			// reached root, assumed to be a mount point
			return dir, nil
		}
		nst, err := os.Stat(next)
		if err != nil {
			return "", errors.Wrapf(err, "stat %s", next)
		}
		nsys := nst.Sys().(*syscall.Stat_t)
		if dev != nsys.Dev || st.Sys().(*syscall.Stat_t).Ino == nsys.Ino {
			// parent is on a different mount
			return dir, nil
		}
		dir = next
	}
}

// MountInfo is one record of /proc/<pid>/mountinfo.
// cf. Documentation/filesystems/proc.rst in the Linux kernel source tree.
type MountInfo struct {
	ID         uint64
	Root       string
	MountPoint string
	Options    uintptr
	FSType     string
	Source     string
}

// HasOption tests a single MS_* bit.
func (m *MountInfo) HasOption(opt uintptr) bool {
	return m.Options&opt != 0
}

func (m *MountInfo) String() string {
	return fmt.Sprintf("mount=%s fstype=%s source=%s", m.MountPoint, m.FSType, m.Source)
}

// Mounts is a set of mount points keyed by path.
type Mounts struct {
	points map[string]*MountInfo
}

// CurrentMounts lists the mount points in the namespace of the current
// process.
func CurrentMounts() (*Mounts, error) {
	return mountsOf("self")
}

// MountsOfPid lists the mount points in the namespace of the given PID.
func MountsOfPid(pid int) (*Mounts, error) {
	return mountsOf(strconv.Itoa(pid))
}

func mountsOf(pid string) (*Mounts, error) {
	fname := filepath.Join("/proc", pid, "mountinfo")
	contents, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fname)
	}
	return parseMounts(string(contents), fname)
}

var optionBits = map[string]uintptr{
	// cf. 'man 8 mount' and 'man 2 mount'
	"ro":          unix.MS_RDONLY,
	"rw":          0,
	"noexec":      unix.MS_NOEXEC,
	"nosuid":      unix.MS_NOSUID,
	"nodev":       unix.MS_NODEV,
	"noatime":     unix.MS_NOATIME,
	"nodiratime":  unix.MS_NODIRATIME,
	"relatime":    unix.MS_RELATIME,
	"strictatime": unix.MS_STRICTATIME,
}

func parseMountLine(line string) (*MountInfo, error) {
	// lines like:
	// 36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
	// (0)(1)(2)   (3)   (4)      (5)      (6)   (7) (8)   (9)          (10)
	// where (6) may be repeated zero or more times.
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return nil, errors.Errorf("short mountinfo line %q", line)
	}

	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "mount id %q", fields[0])
	}

	// skip the variable number of optional fields up to the "-" separator
	sep := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+3 > len(fields) {
		return nil, errors.Errorf("missing separator in mountinfo line %q", line)
	}

	var options uintptr
	for _, opt := range strings.Split(fields[5], ",") {
		bit, ok := optionBits[opt]
		if !ok {
			log.Warnf("For %q ignore unknown option %q", fields[5], opt)
			continue
		}
		options |= bit
	}

	return &MountInfo{
		ID:         id,
		Root:       fields[3],
		MountPoint: fields[4],
		Options:    options,
		FSType:     fields[sep+1],
		Source:     fields[sep+2],
	}, nil
}

func parseMounts(contents, fname string) (*Mounts, error) {
	// order is not certain.  '/' may not be the first entry.
	points := make(map[string]*MountInfo)

	for lino, line := range strings.Split(contents, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		info, err := parseMountLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s line %d", fname, lino)
		}
		points[info.MountPoint] = info
	}

	if len(points) == 0 {
		return nil, errors.Errorf("no mount points in %s", fname)
	}
	return &Mounts{points: points}, nil
}

// Lookup finds the mount record covering the provided path, which need not
// itself be a mount point.
func (m *Mounts) Lookup(path string) (*MountInfo, error) {
	mp, err := FindMountPoint(path)
	if err != nil {
		return nil, err
	}
	info, ok := m.points[mp]
	if !ok {
		return nil, errors.Errorf("missing mount point info for %s", mp)
	}
	return info, nil
}

// All returns every known mount record in no particular order.
func (m *Mounts) All() []*MountInfo {
	infos := make([]*MountInfo, 0, len(m.points))
	for _, info := range m.points {
		infos = append(infos, info)
	}
	return infos
}
