//go:build linux

// isolate executes a command in an isolated environment: by default only
// $PWD is writable and no network access is allowed.
//
// eg. prevent a build from accidentally changing files outside of the
// build directory:
//
//	$ isolate make
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"sandbox/internals/capabilities"
	"sandbox/internals/container"
	"sandbox/internals/logging"
	"sandbox/internals/types"
)

var log = logging.New("isolate")

var rootCommand = &cobra.Command{
	Use:          "isolate [flags] <cmd> [args ...]",
	Short:        "Run a command with only $PWD writable and no network access",
	Version:      types.Version,
	Args:         cobra.MinimumNArgs(1),
	RunE:         rootMain,
	SilenceUsage: true,
}

// parse-order-sensitive CLI state.  The mount flags append to one shared
// list so that later mentions of a directory take precedence, exactly in
// command line order.
var cli struct {
	allowNet bool
	chdir    string
	mounts   []mountSpec
}

func init() {
	rootCommand.SetVersionTemplate("isolate version {{ .Version }}\n")
	flags := rootCommand.Flags()
	flags.SetInterspersed(false)
	flags.SortFlags = false

	flags.BoolVarP(&cli.allowNet, "net", "N", false,
		"Allow network access")
	flags.StringVarP(&cli.chdir, "chdir", "C", "",
		"Switch $PWD")
	noPwd := flags.VarPF(&mountFlag{kind: mountReadOnly, usePWD: true}, "no-pwd", "c",
		"Deny writes to $PWD  (shorthand for \"--ro .\")")
	noPwd.NoOptDefVal = "true"
	flags.VarP(&mountFlag{kind: mountWritable}, "rw", "W",
		"Allow writes to part of the directory tree")
	flags.VarP(&mountFlag{kind: mountReadOnly}, "ro", "O",
		"Deny writes to part of the directory tree")
	flags.VarP(&mountFlag{kind: mountTmp}, "tmp", "T",
		"Bind empty tmpfs to a directory")

	rootCommand.CompletionOptions.HiddenDefaultCmd = true
}

func rootMain(_ *cobra.Command, args []string) error {
	hooks, err := newIsolate(args)
	if err != nil {
		return err
	}
	defer hooks.cleanup()

	code, err := container.Run(hooks)
	if err != nil {
		return err
	}
	hooks.cleanup()
	os.Exit(code)
	return nil
}

func newIsolate(args []string) (*isolate, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if cli.chdir != "" {
		cwd = cli.chdir
	}
	cwd, err = filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}
	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return nil, err
	}

	// $PWD is writable first, so any subsequent --ro . takes precedence
	mounts := append([]mountSpec{{mountWritable, cwd}}, cli.mounts...)
	mounts = resolveMounts(mounts, cwd)

	caps, err := capabilities.Current()
	if err != nil {
		return nil, err
	}

	return &isolate{
		isUser:   !caps.HasEffective(unix.CAP_SYS_ADMIN),
		allowNet: cli.allowNet,
		args:     args,
		mounts:   mounts,
		cwd:      cwd,
	}, nil
}

// resolveMounts canonicalizes the directories, drops entries that are not
// directories, and removes duplicates in favor of the last mention.
func resolveMounts(mounts []mountSpec, cwd string) []mountSpec {
	var resolved []mountSpec
	for _, m := range mounts {
		dir := m.dir
		if dir == "." {
			dir = cwd
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cwd, dir)
		}
		dir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			log.Warnf("Ignore non-existant directory: %s", m.dir)
			continue
		}
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			log.Warnf("Ignore non-existant directory: %s", m.dir)
			continue
		}
		resolved = append(resolved, mountSpec{m.kind, dir})
	}

	var unique []mountSpec
	for i, m := range resolved {
		last := true
		for _, later := range resolved[i+1:] {
			if later.dir == m.dir {
				last = false
				break
			}
		}
		if last {
			unique = append(unique, m)
		}
	}
	return unique
}

func main() {
	logging.Setup()
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
