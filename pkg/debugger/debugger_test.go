package debugger

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdbg/rdbg/pkg/proc"
	protest "github.com/rdbg/rdbg/pkg/proc/test"
)

const (
	codeBase = proc.Address(0x401000)
	dataBase = proc.Address(0x601020)
)

func newFakeDebugger(t *testing.T) (*Debugger, *protest.FakeProcess) {
	p := protest.NewFakeProcess(proc.AMD64Arch())
	p.Code(codeBase, 0x100)
	p.Map(dataBase, make([]byte, 0x40), true)
	p.ExitCode = 0
	d := New(&Config{Backend: &protest.FakeBackend{Process: p}})
	_, err := d.Launch([]string{"./target"})
	require.NoError(t, err)
	return d, p
}

func TestNotStarted(t *testing.T) {
	d := New(&Config{Backend: &protest.FakeBackend{}})
	assert.Equal(t, proc.StatusNotStarted, d.State().Status)
	assert.Equal(t, 0, d.ProcessPid())
	assert.Nil(t, d.Arch())

	_, err := d.Continue()
	assert.Equal(t, proc.ErrProcessNotRunning, err)
	_, err = d.StepInstruction()
	assert.Equal(t, proc.ErrProcessNotRunning, err)
	_, err = d.SetBreakpoint(codeBase)
	assert.Equal(t, proc.ErrProcessNotRunning, err)
	_, err = d.ReadWord(codeBase)
	assert.Equal(t, proc.ErrProcessNotRunning, err)
	assert.Equal(t, proc.ErrProcessNotRunning, d.WriteWord(codeBase, 1))
	_, err = d.PC()
	assert.Equal(t, proc.ErrProcessNotRunning, err)
	assert.NoError(t, d.Close())
}

func TestLaunch(t *testing.T) {
	d, p := newFakeDebugger(t)
	assert.Equal(t, proc.StatusStopped, d.State().Status)
	assert.Equal(t, p.PID, d.ProcessPid())
	assert.Equal(t, "amd64", d.Arch().Name)
	assert.Equal(t, proc.StopInfo{Reason: proc.StopLaunched, PC: codeBase}, d.LastStop())

	_, err := d.Launch([]string{"./target"})
	assert.Equal(t, ErrAlreadyStarted, err)
	_, err = d.Attach(1)
	assert.Equal(t, ErrAlreadyStarted, err)
}

func TestLaunchError(t *testing.T) {
	d := New(&Config{Backend: &protest.FakeBackend{Err: &proc.OsTraceError{Syscall: "fork/exec", Errno: syscall.ENOENT}}})
	_, err := d.Launch([]string{"./missing"})
	var ote *proc.OsTraceError
	require.ErrorAs(t, err, &ote)
	assert.Equal(t, proc.StatusNotStarted, d.State().Status)
}

func TestLaunchUnusableTarget(t *testing.T) {
	p := protest.NewFakeProcess(proc.AMD64Arch())
	p.Code(codeBase, 0x10)
	p.RegisterWords = 5
	b := &protest.FakeBackend{Process: p}
	d := New(&Config{Backend: b})

	_, err := d.Launch([]string{"./target"})
	var ame *proc.ArchMismatchError
	require.ErrorAs(t, err, &ame)
	assert.Equal(t, proc.StatusNotStarted, d.State().Status)
	assert.Equal(t, 0, d.ProcessPid())
	assert.False(t, d.Attached())
	assert.True(t, p.Detached)
	assert.True(t, p.Killed, "a launched process that can not be debugged is killed")

	// the session can be started again
	q := protest.NewFakeProcess(proc.AMD64Arch())
	q.Code(codeBase, 0x10)
	b.Process = q
	_, err = d.Launch([]string{"./target"})
	require.NoError(t, err)
	assert.Equal(t, proc.StatusStopped, d.State().Status)
}

func TestAttachUnusableTarget(t *testing.T) {
	p := protest.NewFakeProcess(proc.AMD64Arch())
	p.RegisterWords = 5
	d := New(&Config{Backend: &protest.FakeBackend{Process: p}})

	_, err := d.Attach(77)
	require.Error(t, err)
	assert.Equal(t, proc.StatusNotStarted, d.State().Status)
	assert.True(t, p.Detached)
	assert.False(t, p.Killed)
}

func TestAttachAndClose(t *testing.T) {
	p := protest.NewFakeProcess(proc.AMD64Arch())
	p.Code(codeBase, 0x10)
	b := &protest.FakeBackend{Process: p}
	d := New(&Config{Backend: b})
	si, err := d.Attach(77)
	require.NoError(t, err)
	assert.Equal(t, 77, b.Attached)
	assert.Equal(t, proc.StopAttached, si.Reason)
	assert.True(t, d.Attached())

	_, err = d.SetBreakpoint(codeBase + 4)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.True(t, p.Detached)
	assert.False(t, p.Killed, "attached processes are released, not killed")
	assert.Equal(t, byte(0x90), p.Peek(codeBase+4))
}

func TestCloseKillsLaunched(t *testing.T) {
	d, p := newFakeDebugger(t)
	assert.False(t, d.Attached())
	require.NoError(t, d.Close())
	assert.True(t, p.Killed)
}

// Launch, break, continue, then read the original instruction byte back.
func TestBreakContinueRead(t *testing.T) {
	d, p := newFakeDebugger(t)
	addr := codeBase + 0x10
	bp, err := d.SetBreakpoint(addr)
	require.NoError(t, err)
	assert.Equal(t, 1, bp.ID)

	si, err := d.Continue()
	require.NoError(t, err)
	assert.Equal(t, proc.StopBreakpoint, si.Reason)
	pc, err := d.PC()
	require.NoError(t, err)
	assert.Equal(t, addr, pc)
	assert.Equal(t, si, d.LastStop())

	data, err := d.ReadMemory(addr, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90}, data)
	assert.Equal(t, byte(0xCC), p.Peek(addr))
}

func TestWriteReadWord(t *testing.T) {
	d, _ := newFakeDebugger(t)
	require.NoError(t, d.WriteWord(dataBase, 42))
	v, err := d.ReadWord(dataBase)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = d.ReadMemory(dataBase, -1)
	var mae *proc.MalformedArgumentError
	assert.ErrorAs(t, err, &mae)
}

func TestBreakpointsListAndClear(t *testing.T) {
	d, _ := newFakeDebugger(t)
	for _, addr := range []proc.Address{codeBase + 8, codeBase + 2} {
		_, err := d.SetBreakpoint(addr)
		require.NoError(t, err)
	}
	require.NoError(t, d.ClearBreakpoint(codeBase+8))
	require.NoError(t, d.ClearBreakpoint(codeBase+8))
	bps, err := d.Breakpoints()
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, codeBase+2, bps[0].Addr)
}

func TestRegisters(t *testing.T) {
	d, p := newFakeDebugger(t)
	require.NoError(t, d.SetRegister(proc.AMD64_Rax, 0xdead))
	v, err := d.Register(proc.AMD64_Rax)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead), v)

	require.NoError(t, d.SetRegister(proc.PC, uint64(codeBase+0x20)))
	assert.Equal(t, codeBase+0x20, p.PC())

	regs, err := d.Registers()
	require.NoError(t, err)
	assert.Equal(t, proc.AMD64_Rip, regs[0].Register)
	assert.Equal(t, uint64(codeBase+0x20), regs[0].Value)

	_, err = d.Register(proc.ARM64_Pstate)
	var ure *proc.UnsupportedRegisterError
	assert.ErrorAs(t, err, &ure)
}

func TestExitIsTerminal(t *testing.T) {
	d, _ := newFakeDebugger(t)
	si, err := d.Continue()
	require.NoError(t, err)
	assert.Equal(t, proc.StopExited, si.Reason)
	assert.Equal(t, proc.SessionState{Status: proc.StatusExited, ExitStatus: 0}, d.State())

	_, err = d.Continue()
	var exited proc.ErrTargetExited
	require.True(t, errors.As(err, &exited))
	_, err = d.SetBreakpoint(codeBase)
	require.True(t, errors.As(err, &exited))
	_, err = d.ReadWord(dataBase)
	require.True(t, errors.As(err, &exited))
	assert.Equal(t, proc.SessionState{Status: proc.StatusExited, ExitStatus: 0}, d.State())
	assert.NoError(t, d.Close())
}
