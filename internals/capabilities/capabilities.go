//go:build linux

// Package capabilities wraps the raw capget(2) and capset(2) entry points.
//
// glibc implements these syscalls but does not expose them in its public
// headers; the Go runtime is in the same position, so the kernel ABI is
// spoken directly through golang.org/x/sys/unix structures.  No policy is
// layered on top: the kernel remains the sole authority over what a
// capability transition is allowed to do.
package capabilities

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/psx"

	"sandbox/internals/types"
)

// Error taxonomy.  Every failure from Get/Apply wraps exactly one of these,
// with the operation and errno preserved in the message.
var (
	// ErrPermissionDenied: the caller may not perform the requested
	// capability transition (or may not touch the target process).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArgument: malformed header/data, unknown target process,
	// or an effective set that is not a subset of the permitted set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported: no capability structure version understood by both
	// this package and the running kernel.
	ErrNotSupported = errors.New("no common capability version")
)

// Set holds the three capability bitmasks of a process.  Bit n corresponds
// to the kernel's capability number n (CAP_CHOWN == bit 0, ...).
type Set struct {
	Effective   uint64
	Permitted   uint64
	Inheritable uint64
}

func capget(hdr *unix.CapUserHeader, data *unix.CapUserData) error {
	return unix.Capget(hdr, data)
}

// capset is issued through psx so that the kernel sees the update on every
// thread of the Go runtime, not just the one the scheduler happened to pick.
func capset(hdr *unix.CapUserHeader, data *unix.CapUserData) error {
	_, _, errno := psx.Syscall3(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(hdr)), uintptr(unsafe.Pointer(data)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// negotiate probes for a capability structure version understood by both
// sides.  Version 3 is requested; if the kernel does not recognize it, it
// writes its preferred version back into the header.  The returned word
// count sizes the data buffers for the negotiated version.
func negotiate() (version uint32, words int, err error) {
	hdr := unix.CapUserHeader{Version: types.LinuxCapabilityVersion3}
	// A nil data pointer makes this a pure version probe.
	if err := capget(&hdr, nil); err != nil && err != unix.EINVAL {
		return 0, 0, classify(err, "capget probe")
	}

	switch hdr.Version {
	case types.LinuxCapabilityVersion3:
		return hdr.Version, types.LinuxCapabilityU32s3, nil
	case types.LinuxCapabilityVersion2:
		return hdr.Version, types.LinuxCapabilityU32s2, nil
	case types.LinuxCapabilityVersion1:
		return hdr.Version, types.LinuxCapabilityU32s1, nil
	default:
		return 0, 0, errors.Wrapf(ErrNotSupported,
			"kernel prefers version %#x", hdr.Version)
	}
}

// classify maps an errno onto the package error taxonomy.
func classify(err error, op string) error {
	switch {
	case errors.Is(err, unix.EPERM):
		return errors.Wrapf(ErrPermissionDenied, "%s: %s", op, err)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.EFAULT), errors.Is(err, unix.ESRCH):
		return errors.Wrapf(ErrInvalidArgument, "%s: %s", op, err)
	default:
		return errors.Wrap(err, op)
	}
}

// Get queries the capability sets of the given process.  pid 0 means the
// calling process.
func Get(pid int) (Set, error) {
	version, words, err := negotiate()
	if err != nil {
		return Set{}, err
	}

	hdr := unix.CapUserHeader{Version: version, Pid: int32(pid)}
	data := make([]unix.CapUserData, words)
	if err := capget(&hdr, &data[0]); err != nil {
		return Set{}, classify(err, fmt.Sprintf("capget pid %d", pid))
	}

	s := Set{
		Effective:   uint64(data[0].Effective),
		Permitted:   uint64(data[0].Permitted),
		Inheritable: uint64(data[0].Inheritable),
	}
	if words > 1 {
		s.Effective |= uint64(data[1].Effective) << 32
		s.Permitted |= uint64(data[1].Permitted) << 32
		s.Inheritable |= uint64(data[1].Inheritable) << 32
	}
	return s, nil
}

// Current returns the capability sets of the calling process.
func Current() (Set, error) {
	return Get(0)
}

// Apply writes the capability sets to the given process.  pid 0 means the
// calling process; targeting another process additionally requires
// CAP_SETPCAP and kernel support, which modern kernels do not provide.
//
// An effective set that is not a subset of the permitted set is rejected
// with ErrInvalidArgument before the kernel is asked, so a failed call
// never leaves partial state behind.
func (s Set) Apply(pid int) error {
	if s.Effective&^s.Permitted != 0 {
		return errors.Wrapf(ErrInvalidArgument,
			"effective %#x exceeds permitted %#x", s.Effective, s.Permitted)
	}

	version, words, err := negotiate()
	if err != nil {
		return err
	}
	if words == 1 && (s.Effective|s.Permitted|s.Inheritable)>>32 != 0 {
		// A v1 kernel cannot express bits 32..63.
		return errors.Wrap(ErrNotSupported, "masks exceed 32 bits")
	}

	hdr := unix.CapUserHeader{Version: version, Pid: int32(pid)}
	data := make([]unix.CapUserData, words)
	data[0].Effective = uint32(s.Effective)
	data[0].Permitted = uint32(s.Permitted)
	data[0].Inheritable = uint32(s.Inheritable)
	if words > 1 {
		data[1].Effective = uint32(s.Effective >> 32)
		data[1].Permitted = uint32(s.Permitted >> 32)
		data[1].Inheritable = uint32(s.Inheritable >> 32)
	}

	if err := capset(&hdr, &data[0]); err != nil {
		return classify(err, fmt.Sprintf("capset pid %d", pid))
	}
	return nil
}

// HasEffective reports whether the given capability bit is in the
// effective set.
func (s Set) HasEffective(bit uint) bool {
	return s.Effective&(1<<bit) != 0
}

// HasPermitted reports whether the given capability bit is in the
// permitted set.
func (s Set) HasPermitted(bit uint) bool {
	return s.Permitted&(1<<bit) != 0
}

// ActivateAll returns a copy with every permitted capability made
// effective.
func (s Set) ActivateAll() Set {
	s.Effective = s.Permitted
	return s
}

// Cleared returns an empty set.
func (s Set) Cleared() Set {
	return Set{}
}

func (s Set) String() string {
	var names []string
	for bit := uint(0); bit < 64; bit++ {
		if !s.HasEffective(bit) {
			continue
		}
		if name := types.CapName(bit); name != "" {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("CAP_%d", bit))
		}
	}
	return fmt.Sprintf("eff=%#x perm=%#x inh=%#x [%s]",
		s.Effective, s.Permitted, s.Inheritable, strings.Join(names, ","))
}

// ClearAll drops every capability of the calling process: effective,
// permitted, and inheritable via capset, then the ambient set via prctl.
func ClearAll() error {
	if err := (Set{}).Apply(0); err != nil {
		return err
	}
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil {
		return errors.Wrap(err, "clear ambient capabilities")
	}
	return nil
}
