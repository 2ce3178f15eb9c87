//go:build linux

package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"sandbox/internals/container"
	"sandbox/internals/logging"
	"sandbox/internals/network"
	"sandbox/internals/types"
	"sandbox/internals/utils"
)

var log = logging.New("nonet")

// noNet runs a command in a fresh network namespace with only a loopback
// interface configured.
type noNet struct {
	container.BaseHooks
	args []string
}

func (*noNet) UnshareFlags() uintptr {
	return unix.CLONE_NEWNET
}

func (*noNet) SetupPriv() error {
	// setup loopback only
	return network.ConfigureLoopback()
}

func (h *noNet) Setup() error {
	log.Debugf("EXEC %q", h.args)
	return utils.NewExec(h.args[0]).Args(h.args...).Run()
}

var rootCommand = &cobra.Command{
	Use:          "nonet <cmd> [args ...]",
	Short:        "Run a command with no network access",
	Version:      types.Version,
	Args:         cobra.MinimumNArgs(1),
	RunE:         rootMain,
	SilenceUsage: true,
}

func rootMain(_ *cobra.Command, args []string) error {
	code, err := container.Run(&noNet{args: args})
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func init() {
	rootCommand.SetVersionTemplate("nonet version {{ .Version }}\n")
	rootCommand.Flags().SetInterspersed(false)
	rootCommand.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	logging.Setup()
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
