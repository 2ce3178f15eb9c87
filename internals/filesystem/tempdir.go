//go:build linux

package filesystem

import (
	"os"

	"github.com/pkg/errors"

	"sandbox/internals/types"
)

// TempDir is a temporary directory which is recursively removed on Close.
type TempDir struct {
	name string
}

// NewTempDir creates a fresh directory under the system temp location.
func NewTempDir() (*TempDir, error) {
	name, err := os.MkdirTemp("", types.TempDirPattern)
	if err != nil {
		return nil, errors.Wrap(err, "mkdtemp")
	}
	log.Debugf("Temp dir: %s", name)
	return &TempDir{name: name}, nil
}

// Path reports where the directory lives.
func (t *TempDir) Path() string {
	return t.name
}

// Close removes the directory and everything under it.
func (t *TempDir) Close() error {
	if err := os.RemoveAll(t.name); err != nil {
		log.Errorf("Unable to remove temporary directory: %s : %s", t.name, err)
		return errors.Wrapf(err, "remove %s", t.name)
	}
	log.Debugf("Cleaned up: %s", t.name)
	return nil
}
