//go:build linux

package utils

import (
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Exec builds up the argument and environment vectors for the final
// execvpe() of the sandboxed command.  The environment starts as a copy of
// the process environment and may be edited before Run.
type Exec struct {
	cmd  string
	args []string
	env  map[string]string
}

// NewExec prepares to execute cmd, which is resolved against PATH.
func NewExec(cmd string) *Exec {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return &Exec{cmd: cmd, env: env}
}

// Args sets the full argument vector, including argv[0].
func (e *Exec) Args(args ...string) *Exec {
	e.args = append(e.args, args...)
	return e
}

// Env sets one environment variable.
func (e *Exec) Env(name, value string) *Exec {
	e.env[name] = value
	return e
}

// EnvRemove unsets one environment variable.
func (e *Exec) EnvRemove(name string) *Exec {
	delete(e.env, name)
	return e
}

// EnvClear empties the environment.
func (e *Exec) EnvClear() *Exec {
	e.env = make(map[string]string)
	return e
}

func (e *Exec) environ() []string {
	env := make([]string, 0, len(e.env))
	for k, v := range e.env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Run replaces the current process image.  It only returns on error.
func (e *Exec) Run() error {
	path, err := exec.LookPath(e.cmd)
	if err != nil {
		return errors.Wrapf(err, "exec cmd=%q", e.cmd)
	}
	argv := e.args
	if len(argv) == 0 {
		argv = []string{e.cmd}
	}
	err = unix.Exec(path, argv, e.environ())
	// unix.Exec only returns on error
	return errors.Wrapf(err, "exec cmd=%q args=%q", e.cmd, argv)
}
