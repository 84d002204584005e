package proc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdbg/rdbg/pkg/proc"
)

func TestTrapPCOffset(t *testing.T) {
	amd64 := proc.AMD64Arch()
	assert.Equal(t, []byte{0xCC}, amd64.BreakpointInstruction())
	assert.Equal(t, 1, amd64.TrapPCOffset())
	assert.True(t, amd64.BreakInstrMovesPC())

	arm64 := proc.ARM64Arch()
	assert.Equal(t, 4, arm64.BreakpointSize())
	assert.Equal(t, 0, arm64.TrapPCOffset())
	assert.False(t, arm64.BreakInstrMovesPC())
	assert.Equal(t, 4, arm64.InstructionAlignment())
}

func TestRegisterSlots(t *testing.T) {
	amd64 := proc.AMD64Arch()
	for reg, want := range map[proc.Register]int{
		proc.AMD64_R15: 0,
		proc.AMD64_Rax: 10,
		proc.AMD64_Rip: 16,
		proc.PC:        16,
		proc.AMD64_Rsp: 19,
		proc.SP:        19,
		proc.AMD64_Gs:  26,
	} {
		slot, err := amd64.RegisterSlot(reg)
		require.NoError(t, err)
		assert.Equalf(t, want, slot, "slot of %v", reg)
	}
	assert.Equal(t, 27, amd64.RegisterFileWords())

	arm64 := proc.ARM64Arch()
	for reg, want := range map[proc.Register]int{
		proc.ARM64_X0:     0,
		proc.ARM64_Lr:     30,
		proc.SP:           31,
		proc.PC:           32,
		proc.ARM64_Pstate: 33,
	} {
		slot, err := arm64.RegisterSlot(reg)
		require.NoError(t, err)
		assert.Equalf(t, want, slot, "slot of %v", reg)
	}
	_, err := arm64.RegisterSlot(proc.AMD64_Rip)
	var ure *proc.UnsupportedRegisterError
	assert.ErrorAs(t, err, &ure)
}

func TestParseRegister(t *testing.T) {
	for name, want := range map[string]proc.Register{
		"rax":    proc.AMD64_Rax,
		"RIP":    proc.AMD64_Rip,
		"rflags": proc.AMD64_Eflags,
		"pc":     proc.PC,
		"sp":     proc.SP,
		"x29":    proc.ARM64_Fp,
		"lr":     proc.ARM64_Lr,
		"pstate": proc.ARM64_Pstate,
	} {
		reg, err := proc.ParseRegister(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, reg, name)
	}
	_, err := proc.ParseRegister("xmm0")
	var mae *proc.MalformedArgumentError
	assert.ErrorAs(t, err, &mae)
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]proc.Address{
		"401000":           0x401000,
		"0x401000":         0x401000,
		"0X7FFE":           0x7ffe,
		" deadbeef ":       0xdeadbeef,
		"ffffffffffffffff": proc.Address(^uint64(0)),
	} {
		addr, err := proc.ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, addr, in)
	}
	for _, in := range []string{"", "0x", "zz", "-10", "10000000000000000"} {
		_, err := proc.ParseAddress(in)
		var mae *proc.MalformedArgumentError
		assert.ErrorAsf(t, err, &mae, "input %q", in)
	}
}

func TestParseWord(t *testing.T) {
	for in, want := range map[string]int64{
		"42":                 42,
		"-1":                 -1,
		"0x2a":               42,
		"010":                10,
		"-0x10":              -16,
		"0xffffffffffffffff": -1,
	} {
		v, err := proc.ParseWord(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, v, in)
	}
	for _, in := range []string{"forty", "0x", "08x", "0o17"} {
		_, err := proc.ParseWord(in)
		var mae *proc.MalformedArgumentError
		assert.ErrorAsf(t, err, &mae, "input %q", in)
	}
}
