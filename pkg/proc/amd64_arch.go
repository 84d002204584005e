package proc

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var amd64BreakInstruction = []byte{0xCC}

// amd64RegisterFile lists the registers in the order of the kernel's
// struct user_regs_struct for x86_64.
var amd64RegisterFile = []Register{
	AMD64_R15,
	AMD64_R14,
	AMD64_R13,
	AMD64_R12,
	AMD64_Rbp,
	AMD64_Rbx,
	AMD64_R11,
	AMD64_R10,
	AMD64_R9,
	AMD64_R8,
	AMD64_Rax,
	AMD64_Rcx,
	AMD64_Rdx,
	AMD64_Rsi,
	AMD64_Rdi,
	AMD64_Orig_rax,
	AMD64_Rip,
	AMD64_Cs,
	AMD64_Eflags,
	AMD64_Rsp,
	AMD64_Ss,
	AMD64_Fs_base,
	AMD64_Gs_base,
	AMD64_Ds,
	AMD64_Es,
	AMD64_Fs,
	AMD64_Gs,
}

var amd64DisplayOrder = []Register{
	AMD64_Rip, AMD64_Rsp, AMD64_Rax, AMD64_Rbx, AMD64_Rcx, AMD64_Rdx,
	AMD64_Rdi, AMD64_Rsi, AMD64_Rbp, AMD64_R8, AMD64_R9, AMD64_R10,
	AMD64_R11, AMD64_R12, AMD64_R13, AMD64_R14, AMD64_R15, AMD64_Orig_rax,
	AMD64_Cs, AMD64_Eflags, AMD64_Ss, AMD64_Fs_base, AMD64_Gs_base,
	AMD64_Ds, AMD64_Es, AMD64_Fs, AMD64_Gs,
}

// AMD64Arch returns an initialized AMD64
// profile.
func AMD64Arch() *Arch {
	return &Arch{
		Name:                  "amd64",
		Machine:               elf.EM_X86_64,
		ptrSize:               8,
		byteOrder:             binary.LittleEndian,
		breakpointInstruction: amd64BreakInstruction,
		trapPCOffset:          amd64TrapPCOffset(amd64BreakInstruction),
		instructionAlign:      1,
		regFileWords:          len(amd64RegisterFile),
		regSlots:              newRegSlots(amd64RegisterFile),
		regOrder:              amd64DisplayOrder,
		pcReg:                 AMD64_Rip,
		spReg:                 AMD64_Rsp,
	}
}

// amd64TrapPCOffset decodes the trap instruction. INT3 is a trap-class
// exception: the CPU finishes the instruction before raising it, so the
// reported PC is the address following the whole encoding.
func amd64TrapPCOffset(instr []byte) int {
	inst, err := x86asm.Decode(instr, 64)
	if err != nil {
		panic(fmt.Sprintf("could not decode amd64 breakpoint instruction %x: %v", instr, err))
	}
	if inst.Op != x86asm.INT {
		panic(fmt.Sprintf("amd64 breakpoint instruction %x decodes to %v", instr, inst.Op))
	}
	return inst.Len
}
