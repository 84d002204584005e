package proc

import (
	"fmt"
	"syscall"
)

// Status is the coarse execution state of a debugging session.
type Status uint8

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusStopped
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusExited:
		return "exited"
	}
	return "unknown"
}

// SessionState is the state of a debugging session. ExitStatus is only
// meaningful once Status is StatusExited, which is terminal.
type SessionState struct {
	Status     Status
	ExitStatus int
}

// Exited returns true if the tracee has terminated.
func (s SessionState) Exited() bool {
	return s.Status == StatusExited
}

func (s SessionState) String() string {
	if s.Status == StatusExited {
		return fmt.Sprintf("exited(%d)", s.ExitStatus)
	}
	return s.Status.String()
}

// StopReason describes the reason why the target process is stopped.
type StopReason uint8

const (
	StopUnknown    StopReason = iota
	StopLaunched              // The process was just launched
	StopAttached              // The debugger stopped the process after attaching
	StopBreakpoint            // The process hit a breakpoint
	StopStep                  // A single instruction was executed
	StopTrap                  // SIGTRAP not caused by one of our breakpoints
	StopSignal                // The process received a signal
	StopExited                // The target process terminated
)

// String maps StopReason to string representation.
func (sr StopReason) String() string {
	switch sr {
	case StopUnknown:
		return "unknown"
	case StopLaunched:
		return "launched"
	case StopAttached:
		return "attached"
	case StopBreakpoint:
		return "breakpoint"
	case StopStep:
		return "step"
	case StopTrap:
		return "trap"
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	}
	return ""
}

// StopInfo reports where and why the tracee stopped.
type StopInfo struct {
	Reason StopReason
	PC     Address
	// Signal is the stop signal for StopSignal, or the terminating signal
	// for StopExited when the process was killed.
	Signal     syscall.Signal
	ExitStatus int
	// Breakpoint is set when Reason is StopBreakpoint.
	Breakpoint *Breakpoint
}

func (si StopInfo) String() string {
	switch si.Reason {
	case StopExited:
		if si.Signal != 0 {
			return fmt.Sprintf("process exited, killed by %v", si.Signal)
		}
		return fmt.Sprintf("process exited with status %d", si.ExitStatus)
	case StopSignal:
		return fmt.Sprintf("stopped by %v at %#x", si.Signal, uint64(si.PC))
	case StopBreakpoint:
		return fmt.Sprintf("breakpoint %d at %#x", si.Breakpoint.ID, uint64(si.PC))
	}
	return fmt.Sprintf("stopped (%v) at %#x", si.Reason, uint64(si.PC))
}
