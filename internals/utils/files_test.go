//go:build linux

package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out")
	if err := WriteFile(name, []byte("payload")); err != nil {
		t.Fatal("write:", err)
	}
	got, err := os.ReadFile(name)
	if err != nil {
		t.Fatal("read back:", err)
	}
	if string(got) != "payload" {
		t.Fatalf("read back %q", got)
	}
}

func TestMkdirRmdir(t *testing.T) {
	name := filepath.Join(t.TempDir(), "sub")
	if _, err := Mkdir(name); err != nil {
		t.Fatal("mkdir:", err)
	}
	if st, err := os.Stat(name); err != nil || !st.IsDir() {
		t.Fatalf("not a directory after mkdir: %v", err)
	}
	if err := Rmdir(name); err != nil {
		t.Fatal("rmdir:", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("directory still present: %v", err)
	}
}

func TestMkdirs(t *testing.T) {
	name := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := Mkdirs(name); err != nil {
		t.Fatal("mkdirs:", err)
	}
	if st, err := os.Stat(name); err != nil || !st.IsDir() {
		t.Fatalf("nested directory missing: %v", err)
	}
}

func TestCloneDirs(t *testing.T) {
	if os.Getuid() != 0 {
		// replicating ownership of root-owned path components needs root
		t.Skip("needs root")
	}
	base := t.TempDir()
	src := filepath.Join(base, "deep", "tree")
	if _, err := Mkdirs(src); err != nil {
		t.Fatal("prepare source:", err)
	}
	if err := Chmod(filepath.Join(base, "deep"), 0o700); err != nil {
		t.Fatal("prepare mode:", err)
	}

	target := t.TempDir()
	if err := CloneDirs(src, target); err != nil {
		t.Fatal("clone:", err)
	}

	cloned := filepath.Join(target, src)
	st, err := os.Stat(cloned)
	if err != nil {
		t.Fatal("stat clone:", err)
	}
	if !st.IsDir() {
		t.Fatalf("%s is not a directory", cloned)
	}

	mid, err := os.Stat(filepath.Join(target, base, "deep"))
	if err != nil {
		t.Fatal("stat cloned parent:", err)
	}
	if mid.Mode().Perm() != 0o700 {
		t.Fatalf("cloned parent mode %#o, want 0700", mid.Mode().Perm())
	}

	// second clone over the same target is a no-op
	if err := CloneDirs(src, target); err != nil {
		t.Fatal("re-clone:", err)
	}
}

func TestCloneDirsRelative(t *testing.T) {
	if err := CloneDirs("relative/path", t.TempDir()); err == nil {
		t.Fatal("relative source accepted")
	}
	if err := CloneDirs(t.TempDir(), "relative/path"); err == nil {
		t.Fatal("relative target accepted")
	}
}
