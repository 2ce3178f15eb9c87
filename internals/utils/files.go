//go:build linux

package utils

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"sandbox/internals/logging"
)

var log = logging.New("utils")

// WriteFile creates the named file if needed and writes buf to it.
func WriteFile(name string, buf []byte) error {
	log.Debugf("write_file(%q, ...)", name)
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", name)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", name)
	}
	return errors.Wrapf(f.Close(), "close %s", name)
}

// Mkdir creates the leaf directory only.
func Mkdir(name string) (string, error) {
	log.Debugf("mkdir(%q)", name)
	if err := os.Mkdir(name, 0o755); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", name)
	}
	return name, nil
}

// Mkdirs creates the leaf directory and all parents.  eg. install -d /some/dirs
func Mkdirs(name string) (string, error) {
	log.Debugf("mkdirs(%q)", name)
	if err := os.MkdirAll(name, 0o755); err != nil {
		return "", errors.Wrapf(err, "mkdirs %s", name)
	}
	return name, nil
}

// Rmdir removes an empty directory.
func Rmdir(name string) error {
	log.Debugf("rmdir(%q)", name)
	return errors.Wrapf(os.Remove(name), "rmdir %s", name)
}

// Chown wraps chown(2).
func Chown(path string, uid, gid int) error {
	log.Debugf("chown(%q, %d, %d)", path, uid, gid)
	return errors.Wrapf(os.Chown(path, uid, gid), "chown %s", path)
}

// Chmod wraps chmod(2).
func Chmod(path string, mode os.FileMode) error {
	log.Debugf("chmod(%q, %#o)", path, mode)
	return errors.Wrapf(os.Chmod(path, mode), "chmod %s", path)
}

// CloneDirs creates target/src with the same ownership and permissions as
// each component of src.  Regular files along the way become empty stubs so
// that a later bind mount has something to land on.
func CloneDirs(src, target string) error {
	if !filepath.IsAbs(src) || !filepath.IsAbs(target) {
		return errors.Errorf("clonedirs wants absolute paths: %q -> %q", src, target)
	}

	// iterate from root to leaf
	parts := strings.Split(strings.TrimPrefix(src, "/"), "/")
	for i := range parts {
		sdir := "/" + filepath.Join(parts[:i+1]...)
		tg := filepath.Join(target, filepath.Join(parts[:i+1]...))
		if _, err := os.Lstat(tg); err == nil {
			continue
		}
		log.Debugf("clone path %s", tg)

		st, err := os.Stat(sdir)
		if err != nil {
			return errors.Wrapf(err, "stat %s", sdir)
		}
		if st.IsDir() {
			if _, err := Mkdir(tg); err != nil {
				return err
			}
		} else {
			if err := os.WriteFile(tg, nil, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", tg)
			}
		}
		if err := Chmod(tg, st.Mode().Perm()); err != nil {
			return err
		}
		sys := st.Sys().(*syscall.Stat_t)
		if err := Chown(tg, int(sys.Uid), int(sys.Gid)); err != nil {
			return err
		}
	}
	return nil
}
