//go:build linux

package network

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"sandbox/internals/types"
)

func TestLoopbackFlags(t *testing.T) {
	conf, err := NewIfConfig()
	if err != nil {
		t.Fatal("ifconfig socket:", err)
	}
	defer conf.Close()

	flags, err := conf.Flags(types.Loopback)
	if err != nil {
		t.Skip("loopback not available:", err)
	}
	if flags&unix.IFF_LOOPBACK == 0 {
		t.Fatalf("lo flags %#x lack IFF_LOOPBACK", flags)
	}
}

func TestLoopbackIndex(t *testing.T) {
	conf, err := NewIfConfig()
	if err != nil {
		t.Fatal("ifconfig socket:", err)
	}
	defer conf.Close()

	idx, err := conf.Index(types.Loopback)
	if err != nil {
		t.Skip("loopback not available:", err)
	}
	if idx == 0 {
		t.Fatal("lo has index 0")
	}
}

func TestLoopbackAddress(t *testing.T) {
	conf, err := NewIfConfig()
	if err != nil {
		t.Fatal("ifconfig socket:", err)
	}
	defer conf.Close()

	ip, err := conf.Address(types.Loopback)
	if err != nil {
		// lo may be unconfigured in a fresh namespace
		t.Skip("loopback address not available:", err)
	}
	if !ip.IsLoopback() {
		t.Fatalf("lo address %s is not a loopback address", ip)
	}
}

func TestInterfaceNameTooLong(t *testing.T) {
	conf, err := NewIfConfig()
	if err != nil {
		t.Fatal("ifconfig socket:", err)
	}
	defer conf.Close()

	if _, err := conf.Flags(strings.Repeat("x", unix.IFNAMSIZ+1)); err == nil {
		t.Fatal("oversized interface name accepted")
	}
}

func TestSetAddressRejectsIPv6(t *testing.T) {
	conf, err := NewIfConfig()
	if err != nil {
		t.Fatal("ifconfig socket:", err)
	}
	defer conf.Close()

	if err := conf.SetAddress(types.Loopback, []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}); err == nil {
		t.Fatal("IPv6 address accepted")
	}
}
