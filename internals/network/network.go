//go:build linux

// Package network performs the direct interface manipulations the sandbox
// needs (a small sub-set of /sbin/ifconfig).  Inside a fresh network
// namespace only the loopback device exists, and nothing brings it up for
// us.
package network

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"sandbox/internals/logging"
	"sandbox/internals/types"
)

var log = logging.New("network")

// IfConfig issues interface ioctls through a dummy datagram socket.
type IfConfig struct {
	fd int
}

// NewIfConfig allocates the dummy socket.
func NewIfConfig() (*IfConfig, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "ifconfig socket")
	}
	return &IfConfig{fd: fd}, nil
}

// Close releases the dummy socket.
func (c *IfConfig) Close() error {
	return unix.Close(c.fd)
}

// Index maps an interface name to its numeric index.
func (c *IfConfig) Index(ifname string) (uint32, error) {
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return 0, errors.Wrapf(err, "ifreq %q", ifname)
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCGIFINDEX, ifr); err != nil {
		return 0, errors.Wrapf(err, "SIOCGIFINDEX %s", ifname)
	}
	idx := ifr.Uint32()
	log.Debugf("ifindex(%q) -> %d", ifname, idx)
	return idx, nil
}

// Flags looks up the interface flags bit mask.
func (c *IfConfig) Flags(ifname string) (uint16, error) {
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return 0, errors.Wrapf(err, "ifreq %q", ifname)
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, errors.Wrapf(err, "SIOCGIFFLAGS %s", ifname)
	}
	flags := ifr.Uint16()
	log.Debugf("ifflags(%q) -> %#x", ifname, flags)
	return flags, nil
}

// SetFlags overwrites the interface flags bit mask.
func (c *IfConfig) SetFlags(ifname string, flags uint16) error {
	log.Debugf("set_ifflags(%q, %#x)", ifname, flags)
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return errors.Wrapf(err, "ifreq %q", ifname)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(c.fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return errors.Wrapf(err, "SIOCSIFFLAGS %s", ifname)
	}
	return nil
}

// Address finds "the" IPv4 address of the named interface.  Unspecified
// which one wins when more than one IPv4 address is assigned.
func (c *IfConfig) Address(ifname string) (net.IP, error) {
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return nil, errors.Wrapf(err, "ifreq %q", ifname)
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCGIFADDR, ifr); err != nil {
		return nil, errors.Wrapf(err, "SIOCGIFADDR %s", ifname)
	}
	addr, err := ifr.Inet4Addr()
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s address not IPv4", ifname)
	}
	ip := net.IP(addr)
	log.Debugf("address(%q) -> %s", ifname, ip)
	return ip, nil
}

// SetAddress sets "the" IPv4 address of the named interface.
func (c *IfConfig) SetAddress(ifname string, ip net.IP) error {
	log.Debugf("set_address(%q, %s)", ifname, ip)
	v4 := ip.To4()
	if v4 == nil {
		return errors.Errorf("interface %s address not IPv4: %s", ifname, ip)
	}
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return errors.Wrapf(err, "ifreq %q", ifname)
	}
	if err := ifr.SetInet4Addr(v4); err != nil {
		return errors.Wrapf(err, "ifreq %q addr", ifname)
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCSIFADDR, ifr); err != nil {
		return errors.Wrapf(err, "SIOCSIFADDR %s", ifname)
	}
	return nil
}

// ConfigureLoopback brings the "lo" interface UP with 127.0.0.1.
func ConfigureLoopback() error {
	log.Debugf("Setup loopback interface")

	conf, err := NewIfConfig()
	if err != nil {
		return err
	}
	defer conf.Close()

	log.Debugf("Set lo address")
	if err := conf.SetAddress(types.Loopback, net.IPv4(127, 0, 0, 1)); err != nil {
		return err
	}

	flags, err := conf.Flags(types.Loopback)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP == 0 {
		log.Debugf("Bring lo UP")
		if err := conf.SetFlags(types.Loopback, flags|unix.IFF_UP); err != nil {
			return err
		}
	}
	return nil
}
