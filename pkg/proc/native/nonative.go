//go:build !linux
// +build !linux

package native

import (
	"errors"

	"github.com/rdbg/rdbg/pkg/proc"
)

// ErrNativeBackendDisabled is returned on platforms without a ptrace
// backend.
var ErrNativeBackendDisabled = errors.New("native backend is only available on linux")

// LaunchFlags modify how a process is launched.
type LaunchFlags uint8

// LaunchDisableASLR is accepted and ignored.
const LaunchDisableASLR LaunchFlags = 1

// Process is never instantiated on this platform.
type Process struct {
	proc.Process
}

// Launch returns ErrNativeBackendDisabled.
func Launch(_ []string, _ string, _ LaunchFlags, _ string) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}

// Attach returns ErrNativeBackendDisabled.
func Attach(_ int) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}
