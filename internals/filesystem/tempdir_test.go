//go:build linux

package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTempDirLifecycle(t *testing.T) {
	tdir, err := NewTempDir()
	if err != nil {
		t.Fatal("create temp dir:", err)
	}
	path := tdir.Path()

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal("stat temp dir:", err)
	}
	if !st.IsDir() {
		t.Fatalf("%s is not a directory", path)
	}

	// contents must go away with the dir
	if err := os.WriteFile(filepath.Join(path, "inner"), []byte("x"), 0o600); err != nil {
		t.Fatal("populate temp dir:", err)
	}

	if err := tdir.Close(); err != nil {
		t.Fatal("close temp dir:", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("temp dir still present after close: %v", err)
	}

	// closing again is harmless
	if err := tdir.Close(); err != nil {
		t.Fatal("second close:", err)
	}
}
