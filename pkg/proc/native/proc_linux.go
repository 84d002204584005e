package native

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	sys "golang.org/x/sys/unix"

	isatty "github.com/mattn/go-isatty"

	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
)

const (
	statusStopped = 'T'

	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// Launch creates and begins debugging a new process. First entry in
// `cmd` is the program to run, and then rest are the arguments
// to be supplied to that process. `wd` is working directory of the program.
// If tty is not empty the process uses it as its controlling terminal.
// The returned process is stopped at the execve trap, before its first
// instruction.
func Launch(cmd []string, wd string, flags LaunchFlags, tty string) (*Process, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no command to launch")
	}
	path, err := exec.LookPath(cmd[0])
	if err != nil {
		return nil, err
	}
	arch, err := proc.ExecutableArch(path)
	if err != nil {
		return nil, err
	}

	var process *exec.Cmd
	dbp := newProcess(0)
	dbp.arch = arch
	defer func() {
		if err != nil && dbp.pid != 0 {
			_ = dbp.Detach(true)
		}
	}()
	dbp.execPtraceFunc(func() {
		if flags&LaunchDisableASLR != 0 {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}

		process = exec.Command(path)
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		if tty != "" {
			dbp.ctty, err = attachProcessToTTY(process, tty)
			if err != nil {
				return
			}
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		dbp.postExit()
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true
	dbp.log = dbp.log.WithField("pid", dbp.pid)
	var ws *sys.WaitStatus
	if ws, err = dbp.wait(); err != nil {
		return nil, fmt.Errorf("waiting for target execve failed: %w", err)
	}
	if ws.Exited() || ws.Signaled() {
		dbp.exited = true
		dbp.postExit()
		err = proc.ErrTargetExited{Pid: dbp.pid, Status: exitStatus(ws)}
		return nil, err
	}
	if !ws.Stopped() || ws.StopSignal() != sys.SIGTRAP {
		err = fmt.Errorf("unexpected wait status %#x after execve", uint32(*ws))
		return nil, err
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceSetOptions(dbp.pid, sys.PTRACE_O_EXITKILL) })
	if err != nil {
		err = osError("ptrace(PTRACE_SETOPTIONS)", err)
		return nil, err
	}
	dbp.log.Debugf("launched %s", path)
	return dbp, nil
}

// Attach to an existing process with the given PID. The process is
// stopped when Attach returns.
func Attach(pid int) (*Process, error) {
	arch, err := proc.ExecutableArch(findExecutable("", pid))
	if err != nil {
		return nil, err
	}
	dbp := newProcess(pid)
	dbp.arch = arch
	dbp.log = dbp.log.WithField("pid", pid)

	dbp.execPtraceFunc(func() { err = ptraceAttach(dbp.pid) })
	if err != nil {
		dbp.postExit()
		return nil, osError("ptrace(PTRACE_ATTACH)", err)
	}
	for {
		ws, err := dbp.wait()
		if err != nil {
			_ = dbp.Detach(false)
			return nil, err
		}
		if ws.Exited() || ws.Signaled() {
			dbp.exited = true
			dbp.postExit()
			return nil, proc.ErrTargetExited{Pid: pid, Status: exitStatus(ws)}
		}
		if ws.Stopped() && ws.StopSignal() == sys.SIGSTOP {
			break
		}
		// some other signal raced with the attach, let it through
		dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, int(ws.StopSignal())) })
		if err != nil {
			_ = dbp.Detach(false)
			return nil, osError("ptrace(PTRACE_CONT)", err)
		}
	}
	dbp.log.Debugf("attached")
	return dbp, nil
}

func findExecutable(path string, pid int) string {
	if path == "" {
		path = fmt.Sprintf("/proc/%d/exe", pid)
	}
	return path
}

// ReadMemory reads len(buf) bytes at addr. On failure n is the number of
// bytes that could be read.
func (dbp *Process) ReadMemory(buf []byte, addr proc.Address) (n int, err error) {
	if err := dbp.valid("ptrace(PTRACE_PEEKDATA)"); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_PEEKDATA %#x %d bytes", uint64(addr), len(buf))
	}
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf) })
	if err != nil {
		return n, osError("ptrace(PTRACE_PEEKDATA)", err)
	}
	return n, nil
}

// WriteMemory writes data at addr. PTRACE_POKEDATA can write to read-only
// mappings such as the text segment.
func (dbp *Process) WriteMemory(addr proc.Address, data []byte) (written int, err error) {
	if err := dbp.valid("ptrace(PTRACE_POKEDATA)"); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_POKEDATA %#x % x", uint64(addr), data)
	}
	dbp.execPtraceFunc(func() { written, err = sys.PtracePokeData(dbp.pid, uintptr(addr), data) })
	if err != nil {
		return written, osError("ptrace(PTRACE_POKEDATA)", err)
	}
	return written, nil
}

// Registers reads the general purpose register file.
func (dbp *Process) Registers(regs []uint64) (n int, err error) {
	if err := dbp.valid("ptrace(PTRACE_GETREGSET)"); err != nil {
		return 0, err
	}
	// room for a register file larger than the profile expects, so that
	// the mismatch is detected instead of silently truncated
	buf := make([]uint64, len(regs)+8)
	dbp.execPtraceFunc(func() { n, err = ptraceGetRegset(dbp.pid, buf) })
	if err != nil {
		return 0, osError("ptrace(PTRACE_GETREGSET)", err)
	}
	copy(regs, buf[:n])
	return n, nil
}

// SetRegisters writes the general purpose register file.
func (dbp *Process) SetRegisters(regs []uint64) (err error) {
	if err := dbp.valid("ptrace(PTRACE_SETREGSET)"); err != nil {
		return err
	}
	if len(regs) == 0 {
		return nil
	}
	dbp.execPtraceFunc(func() { err = ptraceSetRegset(dbp.pid, regs) })
	if err != nil {
		return osError("ptrace(PTRACE_SETREGSET)", err)
	}
	return nil
}

// Resume continues the process and waits for it to stop or terminate.
func (dbp *Process) Resume(sig syscall.Signal) (ev proc.TraceEvent, err error) {
	if err := dbp.valid("ptrace(PTRACE_CONT)"); err != nil {
		return ev, err
	}
	dbp.log.Debugf("PTRACE_CONT signal %d", sig)
	dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, int(sig)) })
	if err != nil {
		return ev, osError("ptrace(PTRACE_CONT)", err)
	}
	return dbp.trapWait()
}

// SingleStep executes one instruction and waits for the process to stop
// or terminate.
func (dbp *Process) SingleStep(sig syscall.Signal) (ev proc.TraceEvent, err error) {
	if err := dbp.valid("ptrace(PTRACE_SINGLESTEP)"); err != nil {
		return ev, err
	}
	dbp.log.Debugf("PTRACE_SINGLESTEP signal %d", sig)
	dbp.execPtraceFunc(func() { err = ptraceSingleStep(dbp.pid, int(sig)) })
	if err != nil {
		return ev, osError("ptrace(PTRACE_SINGLESTEP)", err)
	}
	return dbp.trapWait()
}

// Detach from the process being debugged, optionally killing it.
func (dbp *Process) Detach(kill bool) (err error) {
	if dbp.exited || dbp.detached {
		return nil
	}
	if kill && dbp.childProcess {
		return dbp.kill()
	}
	dbp.execPtraceFunc(func() {
		err = ptraceDetach(dbp.pid, 0)
		if err != nil {
			err = osError("ptrace(PTRACE_DETACH)", err)
			return
		}
		if kill {
			err = sys.Kill(dbp.pid, sys.SIGKILL)
		}
	})
	dbp.detached = true
	dbp.postExit()
	if err == nil && !kill {
		// For some reason the process will sometimes enter stopped state after a
		// detach, this doesn't happen immediately either.
		// We have to wait a bit here, then check if the main thread is stopped and
		// SIGCONT it if it is.
		time.Sleep(50 * time.Millisecond)
		if s := status(dbp.pid); s == statusStopped {
			_ = sys.Kill(dbp.pid, sys.SIGCONT)
		}
	}
	return err
}

// kill terminates a launched process. The process is considered gone
// afterwards even if killing or reaping it failed.
func (dbp *Process) kill() error {
	defer func() {
		dbp.exited = true
		dbp.postExit()
	}()
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		return osError("kill", err)
	}
	for {
		ws, err := dbp.wait()
		if err != nil {
			return err
		}
		if ws.Exited() || ws.Signaled() {
			return nil
		}
	}
}

// trapWait waits for the next stop or the termination of the process.
func (dbp *Process) trapWait() (proc.TraceEvent, error) {
	ws, err := dbp.wait()
	if err != nil {
		return proc.TraceEvent{}, err
	}
	dbp.log.Debugf("wait status %#x", uint32(*ws))
	switch {
	case ws.Exited():
		dbp.exited = true
		dbp.postExit()
		return proc.TraceEvent{Kind: proc.EventExited, Status: ws.ExitStatus()}, nil
	case ws.Signaled():
		dbp.exited = true
		dbp.postExit()
		return proc.TraceEvent{Kind: proc.EventKilled, Signal: syscall.Signal(ws.Signal())}, nil
	case ws.Stopped():
		return proc.TraceEvent{Kind: proc.EventStopped, Signal: syscall.Signal(ws.StopSignal())}, nil
	}
	return proc.TraceEvent{}, fmt.Errorf("unexpected wait status %#x", uint32(*ws))
}

func (dbp *Process) wait() (*sys.WaitStatus, error) {
	var s sys.WaitStatus
	for {
		_, err := sys.Wait4(dbp.pid, &s, sys.WALL, nil)
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return nil, osError("wait4", err)
		}
		return &s, nil
	}
}

func exitStatus(ws *sys.WaitStatus) int {
	if ws.Signaled() {
		return -int(ws.Signal())
	}
	return ws.ExitStatus()
}

func attachProcessToTTY(process *exec.Cmd, tty string) (*os.File, error) {
	f, err := os.OpenFile(tty, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if !isatty.IsTerminal(f.Fd()) {
		f.Close()
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}
	process.Stdin = f
	process.Stdout = f
	process.Stderr = f
	process.SysProcAttr.Setpgid = false
	process.SysProcAttr.Setsid = true
	process.SysProcAttr.Setctty = true

	return f, nil
}

// status returns the state letter of the process as reported by
// /proc/<pid>/stat, or 0 if it can not be read.
func status(pid int) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	defer f.Close()
	rd := bufio.NewReader(f)
	line, _ := rd.ReadBytes('\n')
	// the command name is parenthesized and may contain spaces
	i := bytes.LastIndexByte(line, ')')
	if i < 0 || i+2 >= len(line) {
		return 0
	}
	return rune(line[i+2])
}
