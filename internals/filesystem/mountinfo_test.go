//go:build linux

package filesystem

import (
	"testing"

	"golang.org/x/sys/unix"
)

const sampleMountinfo = `25 30 0:23 / /sys rw,nosuid,nodev,noexec,relatime shared:7 - sysfs sysfs rw
30 1 8:2 / / rw,relatime shared:1 - ext4 /dev/sda2 rw,errors=remount-ro
36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
`

func TestParseMounts(t *testing.T) {
	mounts, err := parseMounts(sampleMountinfo, "sample")
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if n := len(mounts.All()); n != 3 {
		t.Fatalf("parsed %d mount points, want 3", n)
	}

	sys, ok := mounts.points["/sys"]
	if !ok {
		t.Fatal("missing /sys record")
	}
	if sys.FSType != "sysfs" || sys.Source != "sysfs" {
		t.Fatalf("unexpected /sys record: %s", sys)
	}
	for _, opt := range []uintptr{unix.MS_NOSUID, unix.MS_NODEV, unix.MS_NOEXEC, unix.MS_RELATIME} {
		if !sys.HasOption(opt) {
			t.Fatalf("/sys missing option bit %#x", opt)
		}
	}
	if sys.HasOption(unix.MS_RDONLY) {
		t.Fatal("/sys unexpectedly read-only")
	}

	root, ok := mounts.points["/"]
	if !ok {
		t.Fatal("missing / record")
	}
	if root.ID != 30 || root.FSType != "ext4" || root.Source != "/dev/sda2" {
		t.Fatalf("unexpected / record: %s", root)
	}

	// variable optional fields ("master:1") before the separator
	mnt, ok := mounts.points["/mnt2"]
	if !ok {
		t.Fatal("missing /mnt2 record")
	}
	if mnt.Root != "/mnt1" || mnt.FSType != "ext3" {
		t.Fatalf("unexpected /mnt2 record: %s", mnt)
	}
}

func TestParseMountLineBad(t *testing.T) {
	for _, line := range []string{
		"bogus",
		"36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 ext3 /dev/root rw",
		"x 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw",
	} {
		if _, err := parseMountLine(line); err == nil {
			t.Fatalf("no error for line %q", line)
		}
	}
}

func TestCurrentMounts(t *testing.T) {
	mounts, err := CurrentMounts()
	if err != nil {
		t.Fatal("reading own mountinfo failed:", err)
	}
	info, err := mounts.Lookup("/")
	if err != nil {
		t.Fatal("lookup of / failed:", err)
	}
	if info.MountPoint != "/" {
		t.Fatalf("lookup of / found %s", info)
	}
}

func TestFindMountPointRoot(t *testing.T) {
	mp, err := FindMountPoint("/")
	if err != nil {
		t.Fatal("find mount point of /:", err)
	}
	if mp != "/" {
		t.Fatalf("mount point of / is %q", mp)
	}
}

func TestFindMountPointCwd(t *testing.T) {
	mp, err := FindMountPoint(".")
	if err != nil {
		t.Fatal("find mount point of cwd:", err)
	}
	if mp == "" {
		t.Fatal("empty mount point for cwd")
	}
}

func TestFindMountPointMissing(t *testing.T) {
	if _, err := FindMountPoint("/no/such/path/anywhere"); err == nil {
		t.Fatal("no error for nonexistent path")
	}
}
