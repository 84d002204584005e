package debugger

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
	"github.com/rdbg/rdbg/pkg/proc/native"
)

// ErrAlreadyStarted is returned by Launch and Attach when the session
// already has a target.
var ErrAlreadyStarted = errors.New("a process is already being debugged")

// Debugger is the engine of one debugging session. It composes the process
// controller, the memory and register accessors and the breakpoint manager
// of a single target behind the operations the command layer uses.
//
// A Debugger is bound to at most one target for its whole life; once the
// target exits a new Debugger must be created. It is not safe for
// concurrent use, callers serialize commands.
type Debugger struct {
	config *Config
	// arguments used to launch the target, empty when attached.
	processArgs []string
	target      *proc.Controller
	lastStop    proc.StopInfo
	log         logflags.Logger
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// WorkingDir is working directory of the new process. This field is used
	// only when launching a new process.
	WorkingDir string

	// TTY is the path of the terminal the launched process uses as its
	// controlling terminal, empty to share the debugger's.
	TTY string

	// DisableASLR launches the target without address space layout
	// randomization.
	DisableASLR bool

	// PassSignals are delivered back to the target immediately while
	// continuing. nil selects proc.DefaultPassSignals.
	PassSignals []syscall.Signal

	// Backend creates the traced process, nil selects the native ptrace
	// backend.
	Backend Backend
}

// Backend creates traced processes.
type Backend interface {
	Launch(cmd []string, wd string, disableASLR bool, tty string) (proc.Process, error)
	Attach(pid int) (proc.Process, error)
}

type nativeBackend struct{}

func (nativeBackend) Launch(cmd []string, wd string, disableASLR bool, tty string) (proc.Process, error) {
	var flags native.LaunchFlags
	if disableASLR {
		flags |= native.LaunchDisableASLR
	}
	p, err := native.Launch(cmd, wd, flags, tty)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (nativeBackend) Attach(pid int) (proc.Process, error) {
	p, err := native.Attach(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// New creates a Debugger with no target.
func New(config *Config) *Debugger {
	if config == nil {
		config = &Config{}
	}
	if config.Backend == nil {
		config.Backend = nativeBackend{}
	}
	if config.PassSignals == nil {
		config.PassSignals = proc.DefaultPassSignals
	}
	return &Debugger{
		config: config,
		log:    logflags.DebuggerLogger(),
	}
}

// Launch starts processArgs[0] with the remaining arguments under the
// debugger. The process is stopped before its first instruction.
func (d *Debugger) Launch(processArgs []string) (proc.StopInfo, error) {
	if d.target != nil {
		return proc.StopInfo{}, ErrAlreadyStarted
	}
	d.log.Infof("launching process with args: %v", processArgs)
	p, err := d.config.Backend.Launch(processArgs, d.config.WorkingDir, d.config.DisableASLR, d.config.TTY)
	if err != nil {
		return proc.StopInfo{}, fmt.Errorf("could not launch process: %w", err)
	}
	return d.start(p, processArgs, proc.StopLaunched)
}

// Attach stops the running process pid and debugs it.
func (d *Debugger) Attach(pid int) (proc.StopInfo, error) {
	if d.target != nil {
		return proc.StopInfo{}, ErrAlreadyStarted
	}
	d.log.Infof("attaching to pid %d", pid)
	p, err := d.config.Backend.Attach(pid)
	if err != nil {
		return proc.StopInfo{}, fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	return d.start(p, nil, proc.StopAttached)
}

// start binds the session to p. If p can not be debugged it is released,
// killing it if it was launched, and the session stays unstarted.
func (d *Debugger) start(p proc.Process, processArgs []string, reason proc.StopReason) (proc.StopInfo, error) {
	target := proc.NewController(p, d.config.PassSignals)
	pc, err := target.Registers().PC()
	if err != nil {
		if derr := target.Detach(processArgs != nil); derr != nil {
			err = multierror.Append(err, derr)
		}
		return proc.StopInfo{}, err
	}
	d.target = target
	d.processArgs = processArgs
	d.lastStop = proc.StopInfo{Reason: reason, PC: pc}
	return d.lastStop, nil
}

// ProcessPid returns the PID of the process
// the debugger is debugging, 0 if there is none.
func (d *Debugger) ProcessPid() int {
	if d.target == nil {
		return 0
	}
	return d.target.Pid()
}

// Arch returns the architecture profile of the target, nil if there is
// none.
func (d *Debugger) Arch() *proc.Arch {
	if d.target == nil {
		return nil
	}
	return d.target.Arch()
}

// State returns the state of the session.
func (d *Debugger) State() proc.SessionState {
	if d.target == nil {
		return proc.SessionState{Status: proc.StatusNotStarted}
	}
	return d.target.State()
}

// Attached returns true if the target was attached to rather than
// launched.
func (d *Debugger) Attached() bool {
	return d.target != nil && d.processArgs == nil
}

// LastStop returns where and why the target last stopped.
func (d *Debugger) LastStop() proc.StopInfo {
	return d.lastStop
}

func (d *Debugger) checkTarget() error {
	if d.target == nil {
		return proc.ErrProcessNotRunning
	}
	return d.target.CheckAlive()
}

// Continue resumes the target until it stops or exits.
func (d *Debugger) Continue() (proc.StopInfo, error) {
	if err := d.checkTarget(); err != nil {
		return proc.StopInfo{}, err
	}
	si, err := d.target.Continue()
	if err != nil {
		return si, err
	}
	d.lastStop = si
	d.log.Debugf("continue: %v", si)
	return si, nil
}

// StepInstruction executes a single instruction, stepping over a
// breakpoint at the current PC.
func (d *Debugger) StepInstruction() (proc.StopInfo, error) {
	if err := d.checkTarget(); err != nil {
		return proc.StopInfo{}, err
	}
	si, err := d.target.StepInstruction()
	if err != nil {
		return si, err
	}
	d.lastStop = si
	d.log.Debugf("step: %v", si)
	return si, nil
}

// SetBreakpoint installs a breakpoint at addr. Setting a breakpoint twice
// returns the existing one.
func (d *Debugger) SetBreakpoint(addr proc.Address) (proc.Breakpoint, error) {
	if err := d.checkTarget(); err != nil {
		return proc.Breakpoint{}, err
	}
	bp, err := d.target.Breakpoints().Set(addr)
	if err != nil {
		return proc.Breakpoint{}, err
	}
	d.log.Debugf("breakpoint %d set at %v", bp.ID, bp.Addr)
	return *bp, nil
}

// ClearBreakpoint removes the breakpoint at addr, if any.
func (d *Debugger) ClearBreakpoint(addr proc.Address) error {
	if err := d.checkTarget(); err != nil {
		return err
	}
	return d.target.Breakpoints().Clear(addr)
}

// Breakpoints returns the breakpoints in the order they were set.
func (d *Debugger) Breakpoints() ([]proc.Breakpoint, error) {
	if err := d.checkTarget(); err != nil {
		return nil, err
	}
	return d.target.Breakpoints().List(), nil
}

// ReadMemory returns count bytes of memory at addr, as the target would
// read them.
func (d *Debugger) ReadMemory(addr proc.Address, count int) ([]byte, error) {
	if err := d.checkTarget(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, &proc.MalformedArgumentError{Arg: fmt.Sprint(count), Reason: "negative count"}
	}
	return d.target.Memory().Read(addr, count)
}

// ReadWord returns the pointer sized value at addr.
func (d *Debugger) ReadWord(addr proc.Address) (uint64, error) {
	if err := d.checkTarget(); err != nil {
		return 0, err
	}
	return d.target.Memory().ReadWord(addr)
}

// WriteWord stores the pointer sized value at addr.
func (d *Debugger) WriteWord(addr proc.Address, value int64) error {
	if err := d.checkTarget(); err != nil {
		return err
	}
	return d.target.Memory().WriteWord(addr, uint64(value))
}

// Register returns the value of reg.
func (d *Debugger) Register(reg proc.Register) (uint64, error) {
	if err := d.checkTarget(); err != nil {
		return 0, err
	}
	return d.target.Registers().Get(reg)
}

// SetRegister changes the value of reg. Changing the PC redirects
// execution.
func (d *Debugger) SetRegister(reg proc.Register, value uint64) error {
	if err := d.checkTarget(); err != nil {
		return err
	}
	return d.target.Registers().Set(reg, value)
}

// Registers returns every register of the target's profile.
func (d *Debugger) Registers() ([]proc.RegisterValue, error) {
	if err := d.checkTarget(); err != nil {
		return nil, err
	}
	return d.target.Registers().Slice()
}

// PC returns the current instruction pointer.
func (d *Debugger) PC() (proc.Address, error) {
	if err := d.checkTarget(); err != nil {
		return 0, err
	}
	return d.target.Registers().PC()
}

// Detach detaches from the target process.
// If `kill` is true we will kill the process after
// detaching.
func (d *Debugger) Detach(kill bool) error {
	if d.target == nil {
		return nil
	}
	return d.target.Detach(kill)
}

// Close ends the session: launched targets are killed, attached ones are
// released with every breakpoint removed.
func (d *Debugger) Close() error {
	if d.target == nil {
		return nil
	}
	var result *multierror.Error
	kill := d.processArgs != nil
	if err := d.target.Detach(kill); err != nil {
		result = multierror.Append(result, err)
	}
	if st := d.target.State(); st.Exited() {
		d.log.Debugf("target exited with status %d", st.ExitStatus)
	}
	return result.ErrorOrNil()
}
