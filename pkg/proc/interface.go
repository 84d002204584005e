package proc

import (
	"fmt"
	"syscall"
)

// Process represents the tracee as seen through the operating system's
// tracing interface. Implementations are not safe for concurrent use and
// never patch memory on their own: every byte they write comes from the
// Memory accessor.
type Process interface {
	Pid() int
	// Arch returns the architecture profile resolved when the process was
	// launched or attached.
	Arch() *Arch

	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr Address) (n int, err error)
	WriteMemory(addr Address, data []byte) (written int, err error)

	// Registers copies the general purpose register file into regs and
	// returns the number of words the kernel provided.
	Registers(regs []uint64) (int, error)
	SetRegisters(regs []uint64) error

	// Resume continues the tracee, delivering sig if it is not zero, and
	// blocks until it stops or terminates.
	Resume(sig syscall.Signal) (TraceEvent, error)
	// SingleStep executes one instruction, delivering sig if it is not
	// zero, and blocks until the tracee stops or terminates.
	SingleStep(sig syscall.Signal) (TraceEvent, error)

	// Detach releases the tracee, killing it if kill is true.
	Detach(kill bool) error
}

// TraceEventKind classifies a wait status.
type TraceEventKind uint8

const (
	EventStopped TraceEventKind = iota // stopped by Signal
	EventExited                        // exited with Status
	EventKilled                        // terminated by Signal
)

// TraceEvent is what the tracer observed after resuming or stepping the
// tracee.
type TraceEvent struct {
	Kind   TraceEventKind
	Signal syscall.Signal
	Status int
}

func (ev TraceEvent) String() string {
	switch ev.Kind {
	case EventStopped:
		return fmt.Sprintf("stopped by %v", ev.Signal)
	case EventExited:
		return fmt.Sprintf("exited with status %d", ev.Status)
	case EventKilled:
		return fmt.Sprintf("killed by %v", ev.Signal)
	}
	return "unknown event"
}
