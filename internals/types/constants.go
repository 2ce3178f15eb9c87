package types

// Linux capability ABI versions, cf. linux/capability.h.  The kernel
// negotiates one of these via the capget() header; the number of 32-bit
// mask records depends on the negotiated version.
const (
	LinuxCapabilityVersion1 = 0x19980330
	LinuxCapabilityVersion2 = 0x20071026
	LinuxCapabilityVersion3 = 0x20080522

	LinuxCapabilityU32s1 = 1
	LinuxCapabilityU32s2 = 2
	LinuxCapabilityU32s3 = 2
)

// CapMap maps capability names to their bit numbers.
var CapMap = map[string]uint{
	"CAP_CHOWN":            0,
	"CAP_DAC_OVERRIDE":     1,
	"CAP_DAC_READ_SEARCH":  2,
	"CAP_FOWNER":           3,
	"CAP_FSETID":           4,
	"CAP_KILL":             5,
	"CAP_SETGID":           6,
	"CAP_SETUID":           7,
	"CAP_SETPCAP":          8,
	"CAP_NET_BIND_SERVICE": 10,
	"CAP_NET_ADMIN":        12,
	"CAP_NET_RAW":          13,
	"CAP_IPC_LOCK":         14,
	"CAP_SYS_CHROOT":       18,
	"CAP_SYS_ADMIN":        21,
	"CAP_MKNOD":            27,
	"CAP_AUDIT_WRITE":      29,
	"CAP_SETFCAP":          31,
}

// CapName resolves a capability bit number to its name.  Bits missing
// from CapMap resolve to the empty string.
func CapName(bit uint) string {
	for name, b := range CapMap {
		if b == bit {
			return name
		}
	}
	return ""
}

// Default sandbox settings
const (
	// Prefix for per-run temporary directories
	TempDirPattern = "sandbox-*"

	// Loopback interface name
	Loopback = "lo"
)

// Version of the sandbox toolkit, reported by every binary.
const Version = "0.3.0"
