package proc

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

var arm64BreakInstruction = []byte{0x0, 0x0, 0x20, 0xd4}

// arm64RegisterFile lists the registers in the order of the kernel's
// struct user_pt_regs for aarch64.
var arm64RegisterFile = func() []Register {
	r := make([]Register, 0, 34)
	for i := 0; i <= 30; i++ {
		r = append(r, ARM64_X0+Register(i))
	}
	return append(r, ARM64_Sp, ARM64_Pc, ARM64_Pstate)
}()

var arm64DisplayOrder = func() []Register {
	r := []Register{ARM64_Pc, ARM64_Sp}
	for i := 0; i <= 30; i++ {
		r = append(r, ARM64_X0+Register(i))
	}
	return append(r, ARM64_Pstate)
}()

// ARM64Arch returns an initialized ARM64
// profile.
func ARM64Arch() *Arch {
	return &Arch{
		Name:                  "arm64",
		Machine:               elf.EM_AARCH64,
		ptrSize:               8,
		byteOrder:             binary.LittleEndian,
		breakpointInstruction: arm64BreakInstruction,
		trapPCOffset:          arm64TrapPCOffset(arm64BreakInstruction),
		instructionAlign:      4,
		regFileWords:          len(arm64RegisterFile),
		regSlots:              newRegSlots(arm64RegisterFile),
		regOrder:              arm64DisplayOrder,
		pcReg:                 ARM64_Pc,
		spReg:                 ARM64_Sp,
	}
}

// arm64TrapPCOffset decodes the trap instruction. BRK raises a synchronous
// exception before it retires: the kernel reports the PC of the BRK itself.
func arm64TrapPCOffset(instr []byte) int {
	inst, err := arm64asm.Decode(instr)
	if err != nil {
		panic(fmt.Sprintf("could not decode arm64 breakpoint instruction %x: %v", instr, err))
	}
	if inst.Op != arm64asm.BRK {
		panic(fmt.Sprintf("arm64 breakpoint instruction %x decodes to %v", instr, inst.Op))
	}
	return 0
}
