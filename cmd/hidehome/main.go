//go:build linux

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"sandbox/internals/capabilities"
	"sandbox/internals/container"
	"sandbox/internals/filesystem"
	"sandbox/internals/logging"
	"sandbox/internals/types"
	"sandbox/internals/utils"
)

var log = logging.New("hidehome")

// hideHome executes a command with most of the $HOME tree hidden behind a
// tmpfs.  Only $PWD is bound back in, and only when it lives under $HOME.
type hideHome struct {
	container.BaseHooks
	isUser bool
	args   []string
}

func newHideHome(args []string) (*hideHome, error) {
	caps, err := capabilities.Current()
	if err != nil {
		return nil, err
	}
	return &hideHome{
		isUser: !caps.HasEffective(unix.CAP_SYS_ADMIN),
		args:   args,
	}, nil
}

func (h *hideHome) UnshareFlags() uintptr {
	flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWCGROUP)
	if h.isUser {
		flags |= unix.CLONE_NEWUSER
	}
	return flags
}

func (h *hideHome) SetIDMap(pid int) error {
	if h.isUser {
		log.Debugf("Setup 1-1 UID mapping")
		uid := uint32(utils.Getuid())
		gid := uint32(utils.Getgid())
		if err := container.NewUIDMap(pid).Add(uid, uid, 1).Write(); err != nil {
			return err
		}
		if err := container.NewGIDMap(pid).Add(gid, gid, 1).Write(); err != nil {
			return err
		}
	}
	return nil
}

func (h *hideHome) SetupPriv() error {
	const tmp = "/tmp"

	// Taking the notion of /home from the caller's environment.
	// Not validated.  Should be ok as we will only hide,
	// and never grant more visibility or permission.
	home, err := filepath.EvalSymlinks(os.Getenv("HOME"))
	if err != nil {
		return errors.Wrap(err, "resolve $HOME")
	}
	if !filepath.IsAbs(home) {
		return errors.New("$HOME must be an absolute path")
	}

	// The root of the tree we will hide.
	// parent of $HOME eg. /home
	// but not / itself (eg. $HOME==/root)
	root := filepath.Dir(home)
	if root == "/" {
		root = home
	}

	cwd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getwd")
	}
	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return errors.Wrap(err, "resolve cwd")
	}

	if strings.HasPrefix(cwd, tmp+"/") || cwd == tmp {
		return errors.New("can't run under /tmp")
	}

	// begin by slaving the new mount ns
	if err := filesystem.Mount("", "/", "", unix.MS_REC|unix.MS_SLAVE); err != nil {
		return err
	}

	// mount for the new PID ns
	if _, err := utils.Mkdirs("/proc"); err != nil {
		return err
	}
	if err := filesystem.Mount("none", "/proc", "proc", filesystem.NoExecOpt); err != nil {
		return err
	}

	// mount for the new cgroup ns
	if _, err := utils.Mkdirs("/sys/fs/cgroup"); err != nil {
		return err
	}
	if err := filesystem.Mount("none", "/sys/fs/cgroup", "tmpfs", filesystem.NoExecOpt); err != nil {
		return err
	}
	if _, err := utils.Mkdirs("/sys/fs/cgroup/unified"); err != nil {
		return err
	}
	if err := filesystem.Mount("none", "/sys/fs/cgroup/unified", "cgroup2", filesystem.NoExecOpt); err != nil {
		return err
	}

	// begin preparing replacement /home.  will move after binding
	if err := filesystem.Mount("none", tmp, "tmpfs", filesystem.NoExecOpt); err != nil {
		return err
	}

	if rel, err := filepath.Rel(root, cwd); err == nil && !strings.HasPrefix(rel, "..") {
		// $CWD is under the hidden tree.  bind it under the new $HOME
		twd := filepath.Join(tmp, rel)
		if _, err := utils.Mkdirs(twd); err != nil {
			return err
		}
		if err := filesystem.Mount(cwd, twd, "", unix.MS_BIND); err != nil {
			return err
		}
	} else {
		if _, err := utils.Mkdirs(home); err != nil {
			return err
		}
	}

	// hide real /home
	if err := filesystem.Mount(tmp, root, "", unix.MS_MOVE); err != nil {
		return err
	}

	// hide real temporary files to prevent snooping
	if err := filesystem.Mount("none", "/tmp", "tmpfs", filesystem.NoExecOpt); err != nil {
		return err
	}
	if _, err := utils.Mkdirs("/var/tmp"); err != nil {
		return err
	}
	if err := filesystem.Mount("none", "/var/tmp", "tmpfs", filesystem.NoExecOpt); err != nil {
		return err
	}

	// switch to the new FS tree.  (avoid ../ escape)
	return errors.Wrap(os.Chdir(cwd), "chdir")
}

func (h *hideHome) Setup() error {
	log.Debugf("EXEC %q", h.args)
	return utils.NewExec(h.args[0]).Args(h.args...).Run()
}

var rootCommand = &cobra.Command{
	Use:          "hidehome <cmd> [args ...]",
	Short:        "Run a command with an (apparently) empty $HOME",
	Version:      types.Version,
	Args:         cobra.MinimumNArgs(1),
	RunE:         rootMain,
	SilenceUsage: true,
}

func rootMain(_ *cobra.Command, args []string) error {
	hooks, err := newHideHome(args)
	if err != nil {
		return err
	}
	code, err := container.Run(hooks)
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func init() {
	rootCommand.SetVersionTemplate("hidehome version {{ .Version }}\n")
	rootCommand.Flags().SetInterspersed(false)
	rootCommand.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	logging.Setup()
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
