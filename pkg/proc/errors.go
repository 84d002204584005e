package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrProcessNotRunning is returned by operations that need a tracee when
// none has been launched or attached yet.
var ErrProcessNotRunning = errors.New("no process is being debugged")

// ErrTargetExited is returned by every operation issued after the tracee
// was observed terminating. Status is the exit code, or the negated signal
// number if the process was killed by a signal.
type ErrTargetExited struct {
	Pid    int
	Status int
}

func (pe ErrTargetExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// OsTraceError wraps a failed tracing system call. These are surfaced
// as-is and never retried: the process behind the pid may be gone.
type OsTraceError struct {
	Syscall string
	Errno   syscall.Errno
}

func (e *OsTraceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Syscall, e.Errno)
}

func (e *OsTraceError) Unwrap() error {
	return e.Errno
}

// InvalidAddressError represents the result of
// attempting to access an address the tracee does not map.
type InvalidAddressError struct {
	Addr Address
	Err  error
}

func (iae *InvalidAddressError) Error() string {
	if iae.Err != nil {
		return fmt.Sprintf("invalid address %#x: %v", uint64(iae.Addr), iae.Err)
	}
	return fmt.Sprintf("invalid address %#x", uint64(iae.Addr))
}

func (iae *InvalidAddressError) Unwrap() error {
	return iae.Err
}

// UnsupportedRegisterError is returned when the session's architecture
// profile has no slot for the requested register.
type UnsupportedRegisterError struct {
	Register Register
	Arch     string
}

func (e *UnsupportedRegisterError) Error() string {
	return fmt.Sprintf("register %s is not available on %s", e.Register, e.Arch)
}

// MalformedArgumentError is returned when a textual argument can not be
// parsed into the value an operation expects.
type MalformedArgumentError struct {
	Arg    string
	Reason string
}

func (e *MalformedArgumentError) Error() string {
	return fmt.Sprintf("malformed argument %q: %s", e.Arg, e.Reason)
}

// ArchMismatchError is returned when the observed target architecture or
// register file layout differs from the profile fixed for the session.
type ArchMismatchError struct {
	Want string
	Got  string
}

func (e *ArchMismatchError) Error() string {
	return fmt.Sprintf("architecture mismatch: session uses %s, target reports %s", e.Want, e.Got)
}
