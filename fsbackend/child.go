//go:build !windows

package fsbackend

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNoChildren is returned by WaitChild when the process has no children
// left to reap.
var ErrNoChildren = errors.New("fsbackend: no child processes")

// ChildProcessError reports a transfer helper child that terminated
// abnormally.
type ChildProcessError struct {
	PID        int
	ExitStatus int
	Signal     unix.Signal
}

func (e *ChildProcessError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("fsbackend: child %d killed by signal %s", e.PID, e.Signal)
	}
	return fmt.Sprintf("fsbackend: child %d exited with status %d", e.PID, e.ExitStatus)
}

// WaitChild blocks until any child process exits and reaps it. It returns
// the child's pid; a nonzero exit status or fatal signal is reported as a
// ChildProcessError.
func WaitChild() (int, error) {
	var ws unix.WaitStatus

	pid, err := unix.Wait4(-1, &ws, 0, nil)
	if err != nil {
		if errors.Is(err, unix.ECHILD) {
			return 0, ErrNoChildren
		}
		return 0, fmt.Errorf("fsbackend: wait4: %w", err)
	}

	switch {
	case ws.Exited() && ws.ExitStatus() != 0:
		return pid, &ChildProcessError{PID: pid, ExitStatus: ws.ExitStatus()}
	case ws.Signaled():
		return pid, &ChildProcessError{PID: pid, Signal: ws.Signal()}
	}

	return pid, nil
}
