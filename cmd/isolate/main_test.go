//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveMountsDedup(t *testing.T) {
	cwd := t.TempDir()
	cwd, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		t.Fatal("resolve temp dir:", err)
	}

	mounts := resolveMounts([]mountSpec{
		{mountWritable, cwd},
		{mountReadOnly, "."},
	}, cwd)

	// the later --ro . wins over the implicit writable $PWD
	if len(mounts) != 1 {
		t.Fatalf("resolved to %d mounts, want 1", len(mounts))
	}
	if mounts[0].kind != mountReadOnly || mounts[0].dir != cwd {
		t.Fatalf("unexpected mount %s %s", mounts[0].kind, mounts[0].dir)
	}
}

func TestResolveMountsDropsMissing(t *testing.T) {
	cwd := t.TempDir()
	mounts := resolveMounts([]mountSpec{
		{mountTmp, filepath.Join(cwd, "nope")},
	}, cwd)
	if len(mounts) != 0 {
		t.Fatalf("nonexistent directory kept: %v", mounts)
	}
}

func TestResolveMountsRelative(t *testing.T) {
	cwd := t.TempDir()
	cwd, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		t.Fatal("resolve temp dir:", err)
	}
	if err := os.Mkdir(filepath.Join(cwd, "sub"), 0o755); err != nil {
		t.Fatal("mkdir:", err)
	}

	mounts := resolveMounts([]mountSpec{{mountReadOnly, "sub"}}, cwd)
	if len(mounts) != 1 || mounts[0].dir != filepath.Join(cwd, "sub") {
		t.Fatalf("relative directory not anchored at cwd: %v", mounts)
	}
}

func TestMountFlagOrder(t *testing.T) {
	saved := cli.mounts
	cli.mounts = nil
	defer func() { cli.mounts = saved }()

	rw := &mountFlag{kind: mountWritable}
	ro := &mountFlag{kind: mountReadOnly}
	noPwd := &mountFlag{kind: mountReadOnly, usePWD: true}

	if err := rw.Set("/a"); err != nil {
		t.Fatal("set:", err)
	}
	if err := noPwd.Set("true"); err != nil {
		t.Fatal("set:", err)
	}
	if err := ro.Set("/b"); err != nil {
		t.Fatal("set:", err)
	}

	want := []mountSpec{
		{mountWritable, "/a"},
		{mountReadOnly, "."},
		{mountReadOnly, "/b"},
	}
	if len(cli.mounts) != len(want) {
		t.Fatalf("recorded %d mounts, want %d", len(cli.mounts), len(want))
	}
	for i := range want {
		if cli.mounts[i] != want[i] {
			t.Fatalf("mount %d = %v, want %v", i, cli.mounts[i], want[i])
		}
	}
}
