//go:build linux

package container

import (
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"sandbox/internals/capabilities"
	"sandbox/internals/utils"
)

// IDMap prepares the UID or GID mapping for a new user namespace.
//
// It acts either by directly writing /proc/<pid>/uid_map and
// /proc/<pid>/gid_map (allowed when privileged, and for the single line
// mapping the caller's own id), or by calling out to the newuidmap and
// newgidmap executables for the ranges an unprivileged direct write cannot
// cover.
type IDMap struct {
	pid     int
	isUID   bool
	entries []idMapEntry
}

type idMapEntry struct {
	inside  uint32
	outside uint32
	count   uint32
}

// NewUIDMap starts a UID mapping for the given process.
func NewUIDMap(pid int) *IDMap {
	return &IDMap{pid: pid, isUID: true}
}

// NewGIDMap starts a GID mapping for the given process.
func NewGIDMap(pid int) *IDMap {
	return &IDMap{pid: pid, isUID: false}
}

// Add maps [inside, inside+count) in the new namespace to
// [outside, outside+count) in the parent namespace.  A repeated inside id
// replaces the earlier entry.
func (m *IDMap) Add(inside, outside, count uint32) *IDMap {
	for i := range m.entries {
		if m.entries[i].inside == inside {
			m.entries[i] = idMapEntry{inside, outside, count}
			return m
		}
	}
	m.entries = append(m.entries, idMapEntry{inside, outside, count})
	sort.Slice(m.entries, func(i, j int) bool {
		return m.entries[i].inside < m.entries[j].inside
	})
	return m
}

// mapArgs renders the mapping as newuidmap/newgidmap arguments.
func (m *IDMap) mapArgs() []string {
	var args []string
	for _, e := range m.entries {
		args = append(args,
			strconv.FormatUint(uint64(e.inside), 10),
			strconv.FormatUint(uint64(e.outside), 10),
			strconv.FormatUint(uint64(e.count), 10))
	}
	return args
}

// mapFile renders the mapping in the format used by /proc/<pid>/uid_map
// and /proc/<pid>/gid_map.
func (m *IDMap) mapFile() string {
	var b strings.Builder
	for _, e := range m.entries {
		fmt.Fprintf(&b, "%d %d %d\n", e.inside, e.outside, e.count)
	}
	return b.String()
}

// mapsSelfOnly reports whether the mapping covers exactly the caller's own
// effective id, the one line the kernel lets an unprivileged process write
// directly.  cf. user_namespaces(7).
func (m *IDMap) mapsSelfOnly() bool {
	if len(m.entries) != 1 || m.entries[0].count != 1 {
		return false
	}
	own := uint32(utils.Geteuid())
	if !m.isUID {
		own = uint32(utils.Getegid())
	}
	return m.entries[0].outside == own
}

// Write applies the mapping to the target process: a straight /proc write
// when privileged or when only mapping our own id, the setuid
// newuidmap/newgidmap helpers for anything wider.
func (m *IDMap) Write() error {
	caps, err := capabilities.Current()
	if err != nil {
		return err
	}

	privileged := caps.HasEffective(unix.CAP_SETUID)
	kind := "uid"
	if !m.isUID {
		privileged = caps.HasEffective(unix.CAP_SETGID)
		kind = "gid"
	}

	if privileged || m.mapsSelfOnly() {
		if !m.isUID && !privileged {
			// the kernel rejects an unprivileged gid_map write unless
			// setgroups has been denied first
			deny := fmt.Sprintf("/proc/%d/setgroups", m.pid)
			if err := utils.WriteFile(deny, []byte("deny")); err != nil {
				return err
			}
		}
		return utils.WriteFile(fmt.Sprintf("/proc/%d/%s_map", m.pid, kind),
			[]byte(m.mapFile()))
	}

	cmd := "newuidmap"
	if !m.isUID {
		cmd = "newgidmap"
	}
	args := append([]string{strconv.Itoa(m.pid)}, m.mapArgs()...)
	log.Debugf("run: %s %s", cmd, strings.Join(args, " "))

	out, err := exec.Command(cmd, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s %s: %s", cmd,
			strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}
