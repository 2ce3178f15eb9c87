//go:build linux

package container

import (
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBaseHooksDefaults(t *testing.T) {
	var h BaseHooks
	if h.UnshareFlags() != 0 {
		t.Fatal("BaseHooks requests namespaces")
	}
	if err := h.AtStart(); err != nil {
		t.Fatal("AtStart:", err)
	}
	if err := h.SetIDMap(1); err != nil {
		t.Fatal("SetIDMap:", err)
	}
	if err := h.SetupPriv(); err != nil {
		t.Fatal("SetupPriv:", err)
	}
	if err := h.Setup(); err != nil {
		t.Fatal("Setup:", err)
	}
}

func TestInChild(t *testing.T) {
	t.Setenv(stageEnv, "")
	if InChild() {
		t.Fatal("InChild true without stage marker")
	}
	t.Setenv(stageEnv, stageChild)
	if !InChild() {
		t.Fatal("InChild false with stage marker set")
	}
}

func TestChildAttr(t *testing.T) {
	attr := childAttr(unix.CLONE_NEWNS | unix.CLONE_NEWPID)
	if attr.Cloneflags != unix.CLONE_NEWNS|unix.CLONE_NEWPID {
		t.Fatalf("clone flags %#x", attr.Cloneflags)
	}
	if len(attr.AmbientCaps) != 0 {
		t.Fatal("ambient capabilities raised without a user namespace")
	}

	attr = childAttr(unix.CLONE_NEWUSER | unix.CLONE_NEWNS)
	found := false
	for _, c := range attr.AmbientCaps {
		if c == unix.CAP_SYS_ADMIN {
			found = true
		}
	}
	if !found {
		t.Fatal("CAP_SYS_ADMIN missing from the ambient set")
	}
}

func TestUsernsChildKeepsCaps(t *testing.T) {
	// an execve with a yet-unmapped uid would otherwise leave the child
	// with an empty effective set
	cmd := exec.Command("grep", "CapEff", "/proc/self/status")
	cmd.SysProcAttr = childAttr(unix.CLONE_NEWUSER)
	out, err := cmd.Output()
	if err != nil {
		t.Skip("cannot create user namespace:", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		t.Fatalf("unexpected status line %q", out)
	}
	eff, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		t.Fatalf("unexpected CapEff value %q: %v", fields[1], err)
	}
	if eff == 0 {
		t.Fatal("effective capabilities lost across the namespace exec")
	}
}

func TestParkExitCode(t *testing.T) {
	cases := []struct {
		script string
		code   int
	}{
		{"exit 0", 0},
		{"exit 3", 3},
	}
	for _, c := range cases {
		cmd := exec.Command("sh", "-c", c.script)
		if err := cmd.Start(); err != nil {
			t.Fatal("start:", err)
		}
		code, err := park(cmd)
		if err != nil {
			t.Fatalf("park(%q): %v", c.script, err)
		}
		if code != c.code {
			t.Fatalf("park(%q) = %d, want %d", c.script, code, c.code)
		}
	}
}

func TestParkSignalExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -TERM $$")
	if err := cmd.Start(); err != nil {
		t.Fatal("start:", err)
	}
	code, err := park(cmd)
	if err != nil {
		t.Fatal("park:", err)
	}
	if code != 1 {
		t.Fatalf("signal death reported exit code %d, want 1", code)
	}
}
