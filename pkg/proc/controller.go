package proc

import (
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/rdbg/rdbg/pkg/logflags"
)

// DefaultPassSignals are the signals delivered straight back to the
// tracee while continuing, without returning control to the user.
var DefaultPassSignals = []syscall.Signal{syscall.SIGURG, syscall.SIGCHLD, syscall.SIGWINCH}

// Controller owns the tracee's lifecycle and execution state. It drives
// continue and single step, stepping over breakpoints and reporting every
// stop at the address of the instruction that caused it.
//
// A Controller is not safe for concurrent use.
type Controller struct {
	proc  Process
	arch  *Arch
	table *BreakpointMap
	mem   *Memory
	regs  *RegisterAccessor
	bps   *BreakpointManager

	state    SessionState
	detached bool

	// pendingSignal is delivered to the tracee the next time it is resumed.
	pendingSignal syscall.Signal
	passSignals   map[syscall.Signal]bool

	log logflags.Logger
}

// NewController takes ownership of p, which must be stopped.
func NewController(p Process, passSignals []syscall.Signal) *Controller {
	arch := p.Arch()
	table := NewBreakpointMap()
	mem := NewMemory(arch, p, table)
	c := &Controller{
		proc:        p,
		arch:        arch,
		table:       table,
		mem:         mem,
		regs:        NewRegisterAccessor(arch, p),
		bps:         NewBreakpointManager(arch, mem, table),
		state:       SessionState{Status: StatusStopped},
		passSignals: make(map[syscall.Signal]bool, len(passSignals)),
		log:         logflags.DebuggerLogger().WithField("pid", p.Pid()),
	}
	for _, sig := range passSignals {
		c.passSignals[sig] = true
	}
	return c
}

// Pid returns the process id of the tracee.
func (c *Controller) Pid() int {
	return c.proc.Pid()
}

// Arch returns the architecture profile of the session.
func (c *Controller) Arch() *Arch {
	return c.arch
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	return c.state
}

// Memory returns the memory accessor of the tracee.
func (c *Controller) Memory() *Memory {
	return c.mem
}

// Registers returns the register accessor of the tracee.
func (c *Controller) Registers() *RegisterAccessor {
	return c.regs
}

// Breakpoints returns the breakpoint manager of the tracee.
func (c *Controller) Breakpoints() *BreakpointManager {
	return c.bps
}

// CheckAlive returns an error if the tracee can not be operated on.
func (c *Controller) CheckAlive() error {
	if c.detached {
		return ErrProcessNotRunning
	}
	if c.state.Exited() {
		return ErrTargetExited{Pid: c.proc.Pid(), Status: c.state.ExitStatus}
	}
	return nil
}

// Continue resumes the tracee and blocks until it stops or terminates.
// If the tracee is sitting on a breakpoint the original instruction is
// executed first, so the same breakpoint is not hit twice in a row.
func (c *Controller) Continue() (StopInfo, error) {
	if err := c.CheckAlive(); err != nil {
		return StopInfo{}, err
	}
	pc, err := c.regs.PC()
	if err != nil {
		return StopInfo{}, err
	}
	if bp := c.bps.Find(pc); bp != nil && bp.Enabled {
		for {
			c.log.Debugf("stepping over breakpoint %d at %#x", bp.ID, uint64(pc))
			si, err := c.stepOver(bp)
			if err != nil {
				return si, err
			}
			// a pass-through signal is pending again: redo the step if it
			// did not execute the instruction, otherwise deliver it below
			if si.Reason == StopSignal && c.passSignals[si.Signal] {
				if si.PC == pc {
					continue
				}
				break
			}
			if si.Reason != StopStep {
				return si, nil
			}
			break
		}
	}
	for {
		sig := c.takePendingSignal()
		c.log.Debugf("continue, signal %d", sig)
		c.state.Status = StatusRunning
		ev, err := c.proc.Resume(sig)
		if err != nil {
			c.state.Status = StatusStopped
			return StopInfo{}, err
		}
		si, resume, err := c.handleEvent(ev, false)
		if resume {
			continue
		}
		return si, err
	}
}

// StepInstruction executes exactly one instruction. A breakpoint at the
// current PC is suspended for the duration of the step and reinstalled
// afterwards; it is not reported as hit.
func (c *Controller) StepInstruction() (StopInfo, error) {
	if err := c.CheckAlive(); err != nil {
		return StopInfo{}, err
	}
	pc, err := c.regs.PC()
	if err != nil {
		return StopInfo{}, err
	}
	if bp := c.bps.Find(pc); bp != nil && bp.Enabled {
		return c.stepOver(bp)
	}
	return c.step()
}

func (c *Controller) stepOver(bp *Breakpoint) (StopInfo, error) {
	if err := c.bps.suspend(bp); err != nil {
		return StopInfo{}, err
	}
	si, err := c.step()
	if c.state.Exited() {
		return si, err
	}
	if rerr := c.bps.restore(bp); rerr != nil {
		if err == nil {
			return si, rerr
		}
		return si, multierror.Append(err, rerr)
	}
	return si, err
}

func (c *Controller) step() (StopInfo, error) {
	sig := c.takePendingSignal()
	c.state.Status = StatusRunning
	ev, err := c.proc.SingleStep(sig)
	if err != nil {
		c.state.Status = StatusStopped
		return StopInfo{}, err
	}
	si, _, err := c.handleEvent(ev, true)
	return si, err
}

// handleEvent classifies a trace event. The returned bool is true when
// the event was a pass-through signal and the tracee must be resumed
// again.
func (c *Controller) handleEvent(ev TraceEvent, stepping bool) (StopInfo, bool, error) {
	c.log.Debugf("trace event: %v", ev)
	switch ev.Kind {
	case EventExited:
		c.exited(ev.Status)
		return StopInfo{Reason: StopExited, ExitStatus: ev.Status}, false, nil
	case EventKilled:
		c.exited(-int(ev.Signal))
		return StopInfo{Reason: StopExited, Signal: ev.Signal, ExitStatus: -int(ev.Signal)}, false, nil
	}

	c.state.Status = StatusStopped
	if !stepping && ev.Signal != syscall.SIGTRAP && c.passSignals[ev.Signal] {
		c.pendingSignal = ev.Signal
		return StopInfo{}, true, nil
	}

	pc, err := c.regs.PC()
	if err != nil {
		return StopInfo{}, false, err
	}
	if ev.Signal != syscall.SIGTRAP {
		c.pendingSignal = ev.Signal
		return StopInfo{Reason: StopSignal, PC: pc, Signal: ev.Signal}, false, nil
	}
	if stepping {
		return StopInfo{Reason: StopStep, PC: pc}, false, nil
	}

	bpaddr := pc - Address(c.arch.TrapPCOffset())
	if bp := c.bps.Find(bpaddr); bp != nil && bp.Enabled {
		if bpaddr != pc {
			if err := c.regs.SetPC(bpaddr); err != nil {
				return StopInfo{}, false, err
			}
		}
		return StopInfo{Reason: StopBreakpoint, PC: bpaddr, Breakpoint: bp}, false, nil
	}
	return StopInfo{Reason: StopTrap, PC: pc}, false, nil
}

func (c *Controller) exited(status int) {
	c.log.Debugf("process exited with status %d", status)
	c.state = SessionState{Status: StatusExited, ExitStatus: status}
	c.pendingSignal = 0
	c.bps.Forget()
}

func (c *Controller) takePendingSignal() syscall.Signal {
	sig := c.pendingSignal
	c.pendingSignal = 0
	return sig
}

// Detach releases the tracee. Unless kill is set every breakpoint is
// removed first, so that the process keeps running unmodified. Detaching
// from a process that already exited does nothing.
func (c *Controller) Detach(kill bool) error {
	if c.detached || c.state.Exited() {
		c.detached = true
		return nil
	}
	var result error
	if logflags.Debugger() {
		c.log.Debugf("detaching, kill=%v, %d breakpoints installed", kill, c.table.Len())
	}
	if !kill {
		if err := c.bps.ClearAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.proc.Detach(kill); err != nil {
		result = multierror.Append(result, err)
	}
	c.bps.Forget()
	c.detached = true
	return result
}
