package proc

import (
	"fmt"
	"strings"
)

// Register is a logical CPU register. The set is closed: every value is
// one of the constants below, and an architecture profile decides which of
// them it can map.
type Register uint8

// Architecture neutral aliases, resolved by every profile.
const (
	RegisterUnknown Register = iota
	PC                       // instruction pointer
	SP                       // stack pointer
)

const (
	AMD64_Rax Register = 16 + iota
	AMD64_Rbx
	AMD64_Rcx
	AMD64_Rdx
	AMD64_Rsi
	AMD64_Rdi
	AMD64_Rbp
	AMD64_Rsp
	AMD64_R8
	AMD64_R9
	AMD64_R10
	AMD64_R11
	AMD64_R12
	AMD64_R13
	AMD64_R14
	AMD64_R15
	AMD64_Rip
	AMD64_Eflags
	AMD64_Orig_rax
	AMD64_Cs
	AMD64_Ss
	AMD64_Ds
	AMD64_Es
	AMD64_Fs
	AMD64_Gs
	AMD64_Fs_base
	AMD64_Gs_base
)

const (
	ARM64_X0 Register = 64 // X1 through X30 follow
	ARM64_Fp Register = ARM64_X0 + 29
	ARM64_Lr Register = ARM64_X0 + 30
)

const (
	ARM64_Sp Register = ARM64_X0 + 31 + iota
	ARM64_Pc
	ARM64_Pstate
)

var registerNames = map[Register]string{
	PC:             "pc",
	SP:             "sp",
	AMD64_Rax:      "rax",
	AMD64_Rbx:      "rbx",
	AMD64_Rcx:      "rcx",
	AMD64_Rdx:      "rdx",
	AMD64_Rsi:      "rsi",
	AMD64_Rdi:      "rdi",
	AMD64_Rbp:      "rbp",
	AMD64_Rsp:      "rsp",
	AMD64_R8:       "r8",
	AMD64_R9:       "r9",
	AMD64_R10:      "r10",
	AMD64_R11:      "r11",
	AMD64_R12:      "r12",
	AMD64_R13:      "r13",
	AMD64_R14:      "r14",
	AMD64_R15:      "r15",
	AMD64_Rip:      "rip",
	AMD64_Eflags:   "eflags",
	AMD64_Orig_rax: "orig_rax",
	AMD64_Cs:       "cs",
	AMD64_Ss:       "ss",
	AMD64_Ds:       "ds",
	AMD64_Es:       "es",
	AMD64_Fs:       "fs",
	AMD64_Gs:       "gs",
	AMD64_Fs_base:  "fs_base",
	AMD64_Gs_base:  "gs_base",
	ARM64_Pstate:   "pstate",
}

var nameToRegister = func() map[string]Register {
	r := make(map[string]Register, len(registerNames)+34)
	for reg, name := range registerNames {
		r[name] = reg
	}
	for i := 0; i <= 30; i++ {
		r[fmt.Sprintf("x%d", i)] = ARM64_X0 + Register(i)
	}
	r["fp"] = ARM64_Fp
	r["lr"] = ARM64_Lr
	r["rflags"] = AMD64_Eflags
	return r
}()

func (reg Register) String() string {
	switch {
	case reg >= ARM64_X0 && reg <= ARM64_Lr:
		return fmt.Sprintf("x%d", reg-ARM64_X0)
	case reg == ARM64_Sp:
		return "sp"
	case reg == ARM64_Pc:
		return "pc"
	}
	if name, ok := registerNames[reg]; ok {
		return name
	}
	return fmt.Sprintf("unknown%d", uint8(reg))
}

// ParseRegister resolves a register name, case insensitively. "pc" and
// "sp" resolve to the architecture neutral aliases.
func ParseRegister(name string) (Register, error) {
	reg, ok := nameToRegister[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return RegisterUnknown, &MalformedArgumentError{Arg: name, Reason: "unknown register"}
	}
	return reg, nil
}

// RegisterValue is a register paired with its value.
type RegisterValue struct {
	Register Register
	Value    uint64
}

// RegisterAccessor reads and writes logical registers of the tracee by
// translating them through the session's architecture profile.
type RegisterAccessor struct {
	arch *Arch
	proc Process
}

// NewRegisterAccessor returns a RegisterAccessor for p.
func NewRegisterAccessor(arch *Arch, p Process) *RegisterAccessor {
	return &RegisterAccessor{arch: arch, proc: p}
}

// load fetches the whole register file. The size the kernel reports must
// match the profile; anything else means the layout can not be trusted.
func (r *RegisterAccessor) load() ([]uint64, error) {
	regs := make([]uint64, r.arch.RegisterFileWords())
	n, err := r.proc.Registers(regs)
	if err != nil {
		return nil, err
	}
	if n != len(regs) {
		return nil, &ArchMismatchError{
			Want: fmt.Sprintf("%s (%d register words)", r.arch.Name, len(regs)),
			Got:  fmt.Sprintf("%d register words", n),
		}
	}
	return regs, nil
}

// Get returns the value of reg.
func (r *RegisterAccessor) Get(reg Register) (uint64, error) {
	slot, err := r.arch.RegisterSlot(reg)
	if err != nil {
		return 0, err
	}
	regs, err := r.load()
	if err != nil {
		return 0, err
	}
	return regs[slot], nil
}

// Set changes the value of reg, leaving every other register untouched.
func (r *RegisterAccessor) Set(reg Register, value uint64) error {
	slot, err := r.arch.RegisterSlot(reg)
	if err != nil {
		return err
	}
	regs, err := r.load()
	if err != nil {
		return err
	}
	regs[slot] = value
	return r.proc.SetRegisters(regs)
}

// PC returns the current PC.
func (r *RegisterAccessor) PC() (Address, error) {
	pc, err := r.Get(PC)
	return Address(pc), err
}

// SetPC sets the instruction pointer to pc.
func (r *RegisterAccessor) SetPC(pc Address) error {
	return r.Set(PC, uint64(pc))
}

// Slice returns every register of the profile in display order.
func (r *RegisterAccessor) Slice() ([]RegisterValue, error) {
	regs, err := r.load()
	if err != nil {
		return nil, err
	}
	order := r.arch.Registers()
	out := make([]RegisterValue, 0, len(order))
	for _, reg := range order {
		slot, err := r.arch.RegisterSlot(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, RegisterValue{Register: reg, Value: regs[slot]})
	}
	return out, nil
}
