package proc

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"runtime"
)

// Arch is the architecture profile of a debugging session: the trap
// instruction, how the kernel reports the PC after it, and where every
// logical register lives in the kernel's general purpose register file
// (struct user_regs_struct, as returned by PTRACE_GETREGSET/NT_PRSTATUS).
//
// A profile is resolved once, when the target is launched or attached, and
// never changes for the rest of the session.
type Arch struct {
	Name    string
	Machine elf.Machine

	ptrSize   int
	byteOrder binary.ByteOrder

	breakpointInstruction []byte
	// trapPCOffset is the distance between the address of an executed trap
	// instruction and the PC the kernel reports when the trap stops the
	// tracee.
	trapPCOffset int
	// instructionAlign is the alignment required of instruction addresses.
	instructionAlign int

	regFileWords int
	regSlots     map[Register]int
	regOrder     []Register
	pcReg, spReg Register
}

// PtrSize returns the size of a pointer
// on this architecture.
func (a *Arch) PtrSize() int {
	return a.ptrSize
}

// ByteOrder returns the byte order used to assemble memory words.
func (a *Arch) ByteOrder() binary.ByteOrder {
	return a.byteOrder
}

// BreakpointInstruction returns the Breakpoint
// instruction for this architecture.
func (a *Arch) BreakpointInstruction() []byte {
	return a.breakpointInstruction
}

// BreakpointSize returns the size of the
// breakpoint instruction on this architecture.
func (a *Arch) BreakpointSize() int {
	return len(a.breakpointInstruction)
}

// BreakInstrMovesPC returns whether the
// breakpoint instruction will change the value
// of PC after being executed
func (a *Arch) BreakInstrMovesPC() bool {
	return a.trapPCOffset != 0
}

// TrapPCOffset returns how far past the trap instruction the reported PC
// is after the trap fires.
func (a *Arch) TrapPCOffset() int {
	return a.trapPCOffset
}

// InstructionAlignment returns the required alignment of instruction
// addresses.
func (a *Arch) InstructionAlignment() int {
	return a.instructionAlign
}

// RegisterFileWords returns the number of 64bit words in the kernel's
// general purpose register file for this architecture.
func (a *Arch) RegisterFileWords() int {
	return a.regFileWords
}

// PCRegister returns the register holding the instruction pointer.
func (a *Arch) PCRegister() Register {
	return a.pcReg
}

// SPRegister returns the register holding the stack pointer.
func (a *Arch) SPRegister() Register {
	return a.spReg
}

// Registers returns the registers this profile maps, in display order.
func (a *Arch) Registers() []Register {
	r := make([]Register, len(a.regOrder))
	copy(r, a.regOrder)
	return r
}

// RegisterSlot translates a logical register into its index in the
// register file. The architecture neutral PC and SP registers resolve to
// the profile's instruction and stack pointer.
func (a *Arch) RegisterSlot(reg Register) (int, error) {
	switch reg {
	case PC:
		reg = a.pcReg
	case SP:
		reg = a.spReg
	}
	slot, ok := a.regSlots[reg]
	if !ok {
		return 0, &UnsupportedRegisterError{Register: reg, Arch: a.Name}
	}
	return slot, nil
}

// fitsAddress reports whether the n bytes starting at addr are
// addressable with this architecture's pointer width.
func (a *Arch) fitsAddress(addr Address, n int) bool {
	end := addr + Address(n)
	if end < addr {
		return false
	}
	if a.ptrSize >= 8 {
		return true
	}
	return uint64(end) <= uint64(1)<<(8*uint(a.ptrSize))
}

func (a *Arch) String() string {
	return a.Name
}

// ArchForMachine returns the profile for an ELF machine type.
func ArchForMachine(m elf.Machine) (*Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return AMD64Arch(), nil
	case elf.EM_AARCH64:
		return ARM64Arch(), nil
	}
	return nil, fmt.Errorf("unsupported architecture %v", m)
}

// HostArch returns the profile of the machine the debugger runs on.
func HostArch() (*Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return AMD64Arch(), nil
	case "arm64":
		return ARM64Arch(), nil
	}
	return nil, fmt.Errorf("unsupported host architecture %s", runtime.GOARCH)
}

// ExecutableArch resolves the profile of the ELF executable at path and
// checks that it matches the host: a tracee of a different architecture
// would have its register file silently reinterpreted.
func ExecutableArch(path string) (*Arch, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	arch, err := ArchForMachine(f.Machine)
	if err != nil {
		return nil, err
	}
	host, err := HostArch()
	if err != nil {
		return nil, err
	}
	if host.Machine != arch.Machine {
		return nil, &ArchMismatchError{Want: host.Name, Got: arch.Name}
	}
	return arch, nil
}

func newRegSlots(order []Register) map[Register]int {
	m := make(map[Register]int, len(order))
	for i, reg := range order {
		m[reg] = i
	}
	return m
}
