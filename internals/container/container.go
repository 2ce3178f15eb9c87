//go:build linux

// Package container places a command into newly created Linux namespaces.
//
// The Go runtime cannot fork(), so the lifecycle is built on re-executing
// /proc/self/exe with clone flags instead:
//
//	Run() \  # in parent process
//	      |- Hooks.AtStart()
//	      |- re-exec /proc/self/exe      # child enters namespaces (clone flags)
//	      |  \- child sends "." once alive
//	      |- Hooks.SetIDMap(pid)         # parent writes uid/gid maps
//	      |- parent acks "."
//	      |  \- Hooks.SetupPriv()        # child, full capabilities
//	      |   - drop all capabilities
//	      |   \- Hooks.Setup()           # child, no capabilities; ends in exec
//	      \- wait                        # signal-forwarding park
//
// When CLONE_NEWPID is among the flags the re-executed child is PID 1 of
// the new namespace, so no second fork level is needed.
//
// With CLONE_NEWUSER the uid is still unmapped at execve time, which strips
// the effective and permitted sets the new namespace granted; only the
// ambient set survives an execve.  The child is therefore launched with
// every capability raised to ambient so that SetupPriv really runs with
// full capabilities once the id maps are in place.
package container

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"sandbox/internals/capabilities"
	"sandbox/internals/logging"
	"sandbox/internals/utils"
)

var log = logging.New("container")

const (
	stageEnv   = "_SANDBOX_STAGE"
	stageChild = "child"

	// handshake fd passed to the child via ExtraFiles
	handshakeFD = 3
)

// Hooks are the container lifecycle callbacks.  Methods run in the process
// noted in the package comment; UnshareFlags is consulted in the parent
// before the child is spawned.
type Hooks interface {
	// AtStart runs in the parent before anything is spawned.
	AtStart() error
	// UnshareFlags returns the CLONE_NEW* set for the child.
	UnshareFlags() uintptr
	// SetIDMap runs in the parent once the child exists, before it
	// proceeds.  pid is the child's process id.
	SetIDMap(pid int) error
	// SetupPriv runs in the child with full (all permitted) capabilities.
	SetupPriv() error
	// Setup runs in the child with no capabilities.  It normally ends in
	// an exec and does not return.
	Setup() error
}

// BaseHooks provides no-op defaults for embedding.
type BaseHooks struct{}

func (BaseHooks) AtStart() error        { return nil }
func (BaseHooks) UnshareFlags() uintptr { return 0 }
func (BaseHooks) SetIDMap(int) error    { return nil }
func (BaseHooks) SetupPriv() error      { return nil }
func (BaseHooks) Setup() error          { return nil }

// InChild reports whether this process is the re-executed container child.
func InChild() bool {
	return os.Getenv(stageEnv) == stageChild
}

// Run launches the container described by hooks and blocks until its
// process 1 exits.  Returns the container's exit code.  When called inside
// the re-executed child it runs the child side instead and never returns.
func Run(hooks Hooks) (int, error) {
	if InChild() {
		runChild(hooks) // does not return
	}
	return runParent(hooks)
}

// childAttr builds the clone attributes for the re-exec.  Entering a user
// namespace raises every capability to ambient: an execve with a
// yet-unmapped uid strips the effective and permitted sets, and only the
// ambient set makes it across.
func childAttr(flags uintptr) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Cloneflags: flags}
	if flags&unix.CLONE_NEWUSER != 0 {
		attr.AmbientCaps = ambientCaps()
	}
	return attr
}

// ambientCaps lists every capability the running kernel knows.  Raising a
// bit past the kernel's last capability makes the whole exec fail.
func ambientCaps() []uintptr {
	last := uintptr(unix.CAP_LAST_CAP)
	if buf, err := os.ReadFile("/proc/sys/kernel/cap_last_cap"); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(buf))); err == nil {
			last = uintptr(n)
		}
	}
	caps := make([]uintptr, 0, last+1)
	for c := uintptr(0); c <= last; c++ {
		caps = append(caps, c)
	}
	return caps
}

func runParent(hooks Hooks) (int, error) {
	if err := hooks.AtStart(); err != nil {
		return 0, err
	}

	parent, child, err := utils.Socketpair()
	if err != nil {
		return 0, err
	}
	defer parent.Close()

	cmd := exec.Command("/proc/self/exe", os.Args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), stageEnv+"="+stageChild)
	cmd.ExtraFiles = []*os.File{child}
	cmd.SysProcAttr = childAttr(hooks.UnshareFlags())

	if err := cmd.Start(); err != nil {
		child.Close()
		if errors.Is(err, unix.EPERM) {
			fmt.Fprintln(os.Stderr, "Error: Insufficient permission to unshare.")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "       Must either have root (uid 0), CAP_SYS_ADMIN,")
			fmt.Fprintln(os.Stderr, "       or enable non-privileged user namespaces by eg.")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "       echo 1 > /proc/sys/kernel/unprivileged_userns_clone")
		}
		return 0, errors.Wrap(err, "start container child")
	}
	child.Close()
	log.Debugf("Forked child %d", cmd.Process.Pid)

	// wait for the child to come up inside its namespaces
	msg := make([]byte, 1)
	if _, err := io.ReadFull(parent, msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			msg[0] = '!'
		} else {
			cmd.Process.Kill()
			cmd.Wait()
			return 0, errors.Wrap(err, "handshake read")
		}
	}

	if msg[0] == '.' {
		if err := hooks.SetIDMap(cmd.Process.Pid); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return 0, err
		}
		// notify child to proceed
		if _, err := parent.Write([]byte(".")); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return 0, errors.Wrap(err, "handshake ack")
		}
	} else {
		log.Debugf("Child sent err msg %q", msg)
	}

	log.Debugf("Parent park")
	if err := utils.DropSUID(); err != nil {
		return 0, err
	}
	if err := capabilities.ClearAll(); err != nil {
		return 0, err
	}
	return park(cmd)
}

// park waits for the child while forwarding termination signals to it.
// The first two signals are forwarded as-is; after that the child gets
// SIGKILL.
func park(cmd *exec.Cmd) (int, error) {
	sigch := make(chan os.Signal, 4)
	signal.Notify(sigch, unix.SIGTERM, unix.SIGINT, unix.SIGQUIT)
	defer signal.Stop(sigch)

	done := make(chan struct{})
	go func() {
		cnt := 0
		for {
			select {
			case sig := <-sigch:
				log.Debugf("SIG %s", sig)
				// be delicate with the child at first
				if cnt >= 2 {
					sig = unix.SIGKILL
				}
				cnt++
				cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by signal
			code = 1
		}
		return code, nil
	}
	return 0, errors.Wrap(err, "wait for container child")
}

// runChild is the child side of the lifecycle.  Any failure here is fatal;
// on success the Setup hook replaces the process image.
func runChild(hooks Hooks) {
	sock := os.NewFile(handshakeFD, "handshake")
	if sock == nil {
		childFatal(errors.New("handshake descriptor missing"))
	}

	// ask parent to set up uid/gid maps
	if _, err := sock.Write([]byte(".")); err != nil {
		childFatal(errors.Wrap(err, "handshake write"))
	}
	msg := make([]byte, 1)
	if _, err := io.ReadFull(sock, msg); err != nil {
		childFatal(errors.Wrap(err, "handshake read"))
	}
	sock.Close()
	log.Debugf("child continue")

	// clear SUID-ness.  effective capabilities are cleared by the id
	// switch; permitted remain set, so re-activate everything.
	if err := utils.DropSUID(); err != nil {
		childFatal(err)
	}
	cur, err := capabilities.Current()
	if err != nil {
		childFatal(err)
	}
	if err := cur.ActivateAll().Apply(0); err != nil {
		childFatal(errors.WithMessage(err, "activate capabilities"))
	}
	log.Debugf("Child perms uid %d,%d gid %d,%d",
		utils.Getuid(), utils.Geteuid(), utils.Getgid(), utils.Getegid())
	if logging.Enabled(logging.LevelDebug) {
		if cur, err := capabilities.Current(); err == nil {
			log.Debugf("Cap %s", cur)
		}
	}

	if err := hooks.SetupPriv(); err != nil {
		childFatal(err)
	}

	// drop all capabilities: effective, permitted, inheritable, ambient
	if err := capabilities.ClearAll(); err != nil {
		childFatal(err)
	}
	log.Debugf("Drop caps")

	if err := hooks.Setup(); err != nil {
		childFatal(err)
	}
	os.Exit(0)
}

func childFatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
