// Package subprocess implements the process execution strategy: forking an
// agent binary, attaching it to shared-memory ports inherited across
// exec, and supervising its lifetime (graceful SIGTERM, forced SIGKILL, and
// exit-policy driven restart).
package subprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/orbagent/core/internal/shm"
)

// GracePeriod is how long a child gets to exit cleanly after SIGTERM before
// Handle.Stop escalates to SIGKILL.
const GracePeriod = 3 * time.Second

// Spec describes how to launch one agent subprocess.
type Spec struct {
	// Path is the agent binary to exec.
	Path string
	// Args are passed to the child after Path.
	Args []string
	// Title is passed to the child as ORB_PROCESS_TITLE, for the child to
	// adopt as its process title; the child's argv[0] is still Path.
	Title string
	// Regions are shared-memory regions whose memfd and eventfd are passed
	// to the child via ExtraFiles, one pair per region in order, starting at
	// fd 3.
	Regions []*shm.Region
	// Env is appended to the child's environment.
	Env []string
}

// Handle supervises one running agent subprocess.
type Handle struct {
	spec   Spec
	cmd    *exec.Cmd
	exited chan error
}

// Launch forks and execs the agent described by spec. The child inherits
// each shared-memory region as two file descriptors, its memfd then its
// eventfd, so region i arrives as fds 3+2i and 4+2i. It is told the region
// count and the base fd via
// ORB_SHM_FD_COUNT/ORB_SHM_FD_BASE environment variables so it can attach
// without prior knowledge of the parent's fd table.
func Launch(ctx context.Context, spec Spec) (*Handle, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("ORB_SHM_FD_BASE=%d", 3),
		fmt.Sprintf("ORB_SHM_FD_COUNT=%d", len(spec.Regions)),
	)
	if spec.Title != "" {
		cmd.Env = append(cmd.Env, "ORB_PROCESS_TITLE="+spec.Title)
	}

	for _, r := range spec.Regions {
		cmd.ExtraFiles = append(cmd.ExtraFiles, os.NewFile(uintptr(r.FD()), "shm"))
		cmd.ExtraFiles = append(cmd.ExtraFiles, os.NewFile(uintptr(r.EventFD()), "evfd"))
	}

	// Put the child in its own process group so a signal meant for it
	// doesn't also reach the parent's group on shells that forward SIGINT.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("subprocess: launch %s: %w", spec.Path, err)
	}

	h := &Handle{spec: spec, cmd: cmd, exited: make(chan error, 1)}
	go func() {
		h.exited <- cmd.Wait()
		close(h.exited)
	}()

	slog.Info("subprocess launched", "path", spec.Path, "pid", cmd.Process.Pid, "title", spec.Title)
	return h, nil
}

// PID returns the child's process ID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Exited returns a channel that receives the child's exit error (nil on a
// clean exit) exactly once, when the child has terminated.
func (h *Handle) Exited() <-chan error { return h.exited }

// Stop sends SIGTERM, waits up to GracePeriod, and escalates to SIGKILL if
// the child has not exited by then.
func (h *Handle) Stop() error {
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("subprocess: sigterm pid %d: %w", h.PID(), err)
	}
	select {
	case <-h.exited:
		return nil
	case <-time.After(GracePeriod):
		slog.Warn("subprocess did not exit after SIGTERM, escalating", "pid", h.PID())
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("subprocess: sigkill pid %d: %w", h.PID(), err)
		}
		<-h.exited
		return nil
	}
}

// Initializer holds process-wide properties a freshly forked child must
// establish before doing any real work: CPU affinity, scheduling class, and
// a reseeded RNG so sibling children forked in quick succession don't share
// PRNG state. Its Apply is called from the child's own main, not the parent.
type Initializer struct {
	// CPUAffinity pins the process to these CPU indices, if non-empty.
	CPUAffinity []int
	// Nice sets the scheduling priority (lower is higher priority).
	Nice int
}

// Apply applies the initializer's settings to the calling process.
func (init Initializer) Apply() error {
	if len(init.CPUAffinity) > 0 {
		if err := setAffinity(init.CPUAffinity); err != nil {
			return fmt.Errorf("subprocess: set cpu affinity: %w", err)
		}
	}
	if init.Nice != 0 {
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, init.Nice); err != nil {
			return fmt.Errorf("subprocess: setpriority: %w", err)
		}
	}
	reseedRNG()
	return nil
}
