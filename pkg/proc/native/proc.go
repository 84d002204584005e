//go:build linux
// +build linux

package native

import (
	"os"
	"runtime"
	"syscall"

	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
)

// LaunchFlags modify how a process is launched.
type LaunchFlags uint8

const (
	// LaunchDisableASLR runs the target with address space layout
	// randomization turned off, so that addresses are stable across runs.
	LaunchDisableASLR LaunchFlags = 1 << iota
)

// Process is a single threaded tracee controlled through ptrace(2). It
// implements proc.Process.
type Process struct {
	pid  int
	arch *proc.Arch

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	childProcess   bool // this process was launched, not attached to
	ctty           *os.File

	exited, detached bool
	released         bool

	log logflags.Logger
}

var _ proc.Process = (*Process)(nil)

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *Process {
	dbp := &Process{
		pid:            pid,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.PtraceLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Arch returns the architecture profile resolved from the executable.
func (dbp *Process) Arch() *proc.Arch {
	return dbp.arch
}

// Exited returns true if the tracee was observed terminating.
func (dbp *Process) Exited() bool {
	return dbp.exited
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
	close(dbp.ptraceDoneChan)
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// valid returns an error if the process can not receive ptrace requests
// anymore. The kernel would answer them with ESRCH.
func (dbp *Process) valid(call string) error {
	if dbp.exited || dbp.detached {
		return &proc.OsTraceError{Syscall: call, Errno: syscall.ESRCH}
	}
	return nil
}

// postExit is called once the tracee is gone, either because it
// terminated or because we detached from it.
func (dbp *Process) postExit() {
	if dbp.released {
		return
	}
	dbp.released = true
	close(dbp.ptraceChan)
	if dbp.ctty != nil {
		dbp.ctty.Close()
	}
}

func osError(call string, err error) error {
	if errno, ok := err.(syscall.Errno); ok {
		return &proc.OsTraceError{Syscall: call, Errno: errno}
	}
	return err
}
