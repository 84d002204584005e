package test

import (
	"bytes"
	"errors"
	"syscall"

	"github.com/rdbg/rdbg/pkg/proc"
)

// HaltInstruction makes a FakeProcess exit with its ExitCode when executed.
const HaltInstruction = 0xF4

const maxFakeInstructions = 1 << 20

var errFakeRunaway = errors.New("fake process executed too many instructions")

type fakeRegion struct {
	base     proc.Address
	data     []byte
	writable bool
}

func (r *fakeRegion) contains(addr proc.Address) bool {
	return addr >= r.base && addr < r.base+proc.Address(len(r.data))
}

// FakeProcess is an in-memory proc.Process. It executes one instruction per
// alignment unit of its architecture profile: a trap instruction stops it
// with SIGTRAP (leaving the PC where the real CPU would), HaltInstruction
// terminates it, everything else just advances the PC. Running off mapped
// memory kills it with SIGSEGV.
type FakeProcess struct {
	ArchProfile *proc.Arch
	PID         int
	Regs        []uint64
	// RegisterWords, when not zero, is the register file size reported
	// instead of the profile's.
	RegisterWords int
	ExitCode      int

	// Signals maps a PC to a signal the process receives when it is about
	// to execute the instruction there. Each entry fires once.
	Signals map[proc.Address]syscall.Signal
	// IgnoredSignals are not fatal when delivered.
	IgnoredSignals map[syscall.Signal]bool
	// Delivered records every signal injected by Resume and SingleStep.
	Delivered []syscall.Signal

	// Executed counts the instructions executed without trapping.
	Executed int
	Detached bool
	Killed   bool

	regions []*fakeRegion
	gone    bool
}

// NewFakeProcess returns a stopped FakeProcess with no memory mapped.
func NewFakeProcess(arch *proc.Arch) *FakeProcess {
	return &FakeProcess{
		ArchProfile: arch,
		PID:         4242,
		Regs:        make([]uint64, arch.RegisterFileWords()),
		Signals:     make(map[proc.Address]syscall.Signal),
		IgnoredSignals: map[syscall.Signal]bool{
			syscall.SIGURG:   true,
			syscall.SIGCHLD:  true,
			syscall.SIGWINCH: true,
		},
	}
}

// Map adds a region of memory at base with a copy of data.
func (p *FakeProcess) Map(base proc.Address, data []byte, writable bool) {
	p.regions = append(p.regions, &fakeRegion{base: base, data: append([]byte(nil), data...), writable: writable})
}

// Code maps n bytes of no-op instructions at base followed by a halt
// instruction, and points the PC at base.
func (p *FakeProcess) Code(base proc.Address, n int) {
	data := bytes.Repeat([]byte{0x90}, n)
	data = append(data, bytes.Repeat([]byte{HaltInstruction}, p.ArchProfile.InstructionAlignment())...)
	p.Map(base, data, true)
	p.SetPC(base)
}

// Peek returns the byte at addr as it is physically stored, trap
// instructions included. It panics if addr is not mapped.
func (p *FakeProcess) Peek(addr proc.Address) byte {
	r := p.region(addr)
	if r == nil {
		panic("fake process: peek of unmapped address")
	}
	return r.data[addr-r.base]
}

// PC returns the raw value of the instruction pointer.
func (p *FakeProcess) PC() proc.Address {
	return proc.Address(p.Regs[p.slot(proc.PC)])
}

// SetPC sets the raw value of the instruction pointer.
func (p *FakeProcess) SetPC(pc proc.Address) {
	p.Regs[p.slot(proc.PC)] = uint64(pc)
}

func (p *FakeProcess) slot(reg proc.Register) int {
	slot, err := p.ArchProfile.RegisterSlot(reg)
	if err != nil {
		panic(err)
	}
	return slot
}

func (p *FakeProcess) region(addr proc.Address) *fakeRegion {
	for _, r := range p.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func (p *FakeProcess) Pid() int {
	return p.PID
}

func (p *FakeProcess) Arch() *proc.Arch {
	return p.ArchProfile
}

func (p *FakeProcess) errGone(call string) error {
	return &proc.OsTraceError{Syscall: call, Errno: syscall.ESRCH}
}

func (p *FakeProcess) ReadMemory(buf []byte, addr proc.Address) (int, error) {
	if p.gone {
		return 0, p.errGone("process_vm_readv")
	}
	for i := range buf {
		r := p.region(addr + proc.Address(i))
		if r == nil {
			return i, &proc.OsTraceError{Syscall: "process_vm_readv", Errno: syscall.EFAULT}
		}
		buf[i] = r.data[addr+proc.Address(i)-r.base]
	}
	return len(buf), nil
}

func (p *FakeProcess) WriteMemory(addr proc.Address, data []byte) (int, error) {
	if p.gone {
		return 0, p.errGone("process_vm_writev")
	}
	for i := range data {
		r := p.region(addr + proc.Address(i))
		if r == nil || !r.writable {
			return i, &proc.OsTraceError{Syscall: "process_vm_writev", Errno: syscall.EFAULT}
		}
		r.data[addr+proc.Address(i)-r.base] = data[i]
	}
	return len(data), nil
}

func (p *FakeProcess) Registers(regs []uint64) (int, error) {
	if p.gone {
		return 0, p.errGone("ptrace(PTRACE_GETREGSET)")
	}
	copy(regs, p.Regs)
	if p.RegisterWords != 0 {
		return p.RegisterWords, nil
	}
	return len(p.Regs), nil
}

func (p *FakeProcess) SetRegisters(regs []uint64) error {
	if p.gone {
		return p.errGone("ptrace(PTRACE_SETREGSET)")
	}
	copy(p.Regs, regs)
	return nil
}

func (p *FakeProcess) Resume(sig syscall.Signal) (proc.TraceEvent, error) {
	if p.gone {
		return proc.TraceEvent{}, p.errGone("ptrace(PTRACE_CONT)")
	}
	if ev, done := p.deliver(sig); done {
		return ev, nil
	}
	for i := 0; i < maxFakeInstructions; i++ {
		if ev, stop := p.exec(); stop {
			return ev, nil
		}
	}
	return proc.TraceEvent{}, errFakeRunaway
}

func (p *FakeProcess) SingleStep(sig syscall.Signal) (proc.TraceEvent, error) {
	if p.gone {
		return proc.TraceEvent{}, p.errGone("ptrace(PTRACE_SINGLESTEP)")
	}
	if ev, done := p.deliver(sig); done {
		return ev, nil
	}
	if ev, stop := p.exec(); stop {
		return ev, nil
	}
	return proc.TraceEvent{Kind: proc.EventStopped, Signal: syscall.SIGTRAP}, nil
}

func (p *FakeProcess) Detach(kill bool) error {
	if p.gone {
		return p.errGone("ptrace(PTRACE_DETACH)")
	}
	p.Detached = true
	p.Killed = kill
	p.gone = true
	return nil
}

func (p *FakeProcess) deliver(sig syscall.Signal) (proc.TraceEvent, bool) {
	if sig == 0 {
		return proc.TraceEvent{}, false
	}
	p.Delivered = append(p.Delivered, sig)
	if p.IgnoredSignals[sig] {
		return proc.TraceEvent{}, false
	}
	p.gone = true
	return proc.TraceEvent{Kind: proc.EventKilled, Signal: sig}, true
}

// exec executes the instruction at the PC. It returns true if the process
// stopped or terminated doing so.
func (p *FakeProcess) exec() (proc.TraceEvent, bool) {
	pc := p.PC()
	if sig, ok := p.Signals[pc]; ok {
		delete(p.Signals, pc)
		return proc.TraceEvent{Kind: proc.EventStopped, Signal: sig}, true
	}
	instr := make([]byte, p.ArchProfile.BreakpointSize())
	if n, _ := p.ReadMemory(instr, pc); n == 0 {
		p.gone = true
		return proc.TraceEvent{Kind: proc.EventKilled, Signal: syscall.SIGSEGV}, true
	}
	switch {
	case bytes.Equal(instr, p.ArchProfile.BreakpointInstruction()):
		p.SetPC(pc + proc.Address(p.ArchProfile.TrapPCOffset()))
		return proc.TraceEvent{Kind: proc.EventStopped, Signal: syscall.SIGTRAP}, true
	case instr[0] == HaltInstruction:
		p.gone = true
		return proc.TraceEvent{Kind: proc.EventExited, Status: p.ExitCode}, true
	}
	p.Executed++
	p.SetPC(pc + proc.Address(p.ArchProfile.InstructionAlignment()))
	return proc.TraceEvent{}, false
}

// FakeBackend hands out Process to whoever launches or attaches, and
// records how it was asked to.
type FakeBackend struct {
	Process  *FakeProcess
	Err      error
	Launched []string
	Attached int
}

func (b *FakeBackend) Launch(cmd []string, wd string, disableASLR bool, tty string) (proc.Process, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.Launched = cmd
	return b.Process, nil
}

func (b *FakeBackend) Attach(pid int) (proc.Process, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.Attached = pid
	return b.Process, nil
}
