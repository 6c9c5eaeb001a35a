//go:build !windows

package fsbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestChildProcessError_Error(t *testing.T) {
	err := &ChildProcessError{PID: 42, ExitStatus: 3}
	assert.Contains(t, err.Error(), "child 42")
	assert.Contains(t, err.Error(), "status 3")

	err = &ChildProcessError{PID: 7, Signal: unix.SIGKILL}
	assert.Contains(t, err.Error(), "signal")
}
