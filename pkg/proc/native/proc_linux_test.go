package native_test

import (
	"bufio"
	"debug/elf"
	"errors"
	"flag"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
	"github.com/rdbg/rdbg/pkg/proc/native"
	protest "github.com/rdbg/rdbg/pkg/proc/test"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(protest.RunTestsWithFixtures(m))
}

func withTestProcess(name string, t *testing.T, fn func(c *proc.Controller, fixture protest.Fixture)) {
	fixture := protest.BuildFixture(name)
	p, err := native.Launch([]string{fixture.Path}, ".", native.LaunchDisableASLR, "")
	require.NoError(t, err, "Launch")
	c := proc.NewController(p, proc.DefaultPassSignals)
	defer func() {
		_ = c.Detach(true)
	}()
	fn(c, fixture)
}

// textBytes returns n bytes of the executable file at addr.
func textBytes(t *testing.T, fixture protest.Fixture, addr uint64, n int) []byte {
	t.Helper()
	f, err := elf.Open(fixture.Path)
	require.NoError(t, err)
	defer f.Close()
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_PROGBITS && addr >= sec.Addr && addr+uint64(n) <= sec.Addr+sec.Size {
			buf := make([]byte, n)
			_, err := sec.ReadAt(buf, int64(addr-sec.Addr))
			require.NoError(t, err)
			return buf
		}
	}
	t.Fatalf("%#x not in any section of %s", addr, fixture.Name)
	return nil
}

func TestLaunchStopsBeforeFirstInstruction(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		assert.Equal(t, proc.StatusStopped, c.State().Status)
		pc, err := c.Registers().PC()
		require.NoError(t, err)
		assert.NotZero(t, pc)

		f, err := elf.Open(fixture.Path)
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, proc.Address(f.Entry), pc)
	})
}

func TestBreakpointAtMain(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		mainAddr := proc.Address(protest.SymbolAddr(t, fixture, "main.main"))
		orig := textBytes(t, fixture, uint64(mainAddr), 1)

		_, err := c.Breakpoints().Set(mainAddr)
		require.NoError(t, err)

		si, err := c.Continue()
		require.NoError(t, err)
		require.Equal(t, proc.StopBreakpoint, si.Reason)
		assert.Equal(t, mainAddr, si.PC)
		pc, err := c.Registers().PC()
		require.NoError(t, err)
		assert.Equal(t, mainAddr, pc)

		data, err := c.Memory().Read(mainAddr, 1)
		require.NoError(t, err)
		assert.Equal(t, orig, data, "breakpoint visible through memory reads")

		si, err = c.StepInstruction()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStep, si.Reason)
		assert.NotEqual(t, mainAddr, si.PC)
		assert.True(t, c.Breakpoints().Find(mainAddr).Enabled)

		si, err = c.Continue()
		require.NoError(t, err)
		assert.Equal(t, proc.StopExited, si.Reason)
		assert.Equal(t, 8, si.ExitStatus)
	})
}

func TestWriteGlobal(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		counter := proc.Address(protest.SymbolAddr(t, fixture, "main.counter"))
		v, err := c.Memory().ReadWord(counter)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), v)

		require.NoError(t, c.Memory().WriteWord(counter, 41))
		v, err = c.Memory().ReadWord(counter)
		require.NoError(t, err)
		assert.Equal(t, uint64(41), v)

		si, err := c.Continue()
		require.NoError(t, err)
		assert.Equal(t, proc.StopExited, si.Reason)
		assert.Equal(t, 42, si.ExitStatus)
	})
}

func TestWriteUnderBreakpoint(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		bump := proc.Address(protest.SymbolAddr(t, fixture, "main.bump"))
		orig := textBytes(t, fixture, uint64(bump), 8)

		_, err := c.Breakpoints().Set(bump)
		require.NoError(t, err)
		data, err := c.Memory().Read(bump, 8)
		require.NoError(t, err)
		assert.Equal(t, orig, data)

		// rewriting the same bytes keeps the trap and the original data
		require.NoError(t, c.Memory().Write(bump, orig))
		si, err := c.Continue()
		require.NoError(t, err)
		assert.Equal(t, proc.StopBreakpoint, si.Reason)
		assert.Equal(t, bump, si.PC)

		require.NoError(t, c.Breakpoints().Clear(bump))
		data, err = c.Memory().Read(bump, 8)
		require.NoError(t, err)
		assert.Equal(t, orig, data)
	})
}

func TestContinueAfterExit(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		si, err := c.Continue()
		require.NoError(t, err)
		require.Equal(t, proc.StopExited, si.Reason)

		_, err = c.Continue()
		var exited proc.ErrTargetExited
		require.True(t, errors.As(err, &exited))
		assert.Equal(t, 8, exited.Status)
		assert.Equal(t, proc.SessionState{Status: proc.StatusExited, ExitStatus: 8}, c.State())
	})
}

func TestInvalidAddress(t *testing.T) {
	withTestProcess("exitcode", t, func(c *proc.Controller, fixture protest.Fixture) {
		var iae *proc.InvalidAddressError
		_, err := c.Memory().ReadWord(0x8)
		require.ErrorAs(t, err, &iae)
		err = c.Memory().WriteWord(0x8, 1)
		require.ErrorAs(t, err, &iae)
		_, err = c.Breakpoints().Set(0x8)
		require.ErrorAs(t, err, &iae)
	})
}

func TestLaunchWithTTY(t *testing.T) {
	fixture := protest.BuildFixture("loopprog")
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	p, err := native.Launch([]string{fixture.Path}, "", native.LaunchDisableASLR, tty.Name())
	require.NoError(t, err)
	c := proc.NewController(p, proc.DefaultPassSignals)
	defer c.Detach(true)

	_, err = c.Breakpoints().Set(proc.Address(protest.SymbolAddr(t, fixture, "main.loop")))
	require.NoError(t, err)
	si, err := c.Continue()
	require.NoError(t, err)
	require.Equal(t, proc.StopBreakpoint, si.Reason)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(ptmx).ReadString('\n')
		lines <- line
	}()
	select {
	case line := <-lines:
		assert.Equal(t, "past main", strings.TrimSpace(line))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fixture output")
	}
}

func TestAttachDetach(t *testing.T) {
	fixture := protest.BuildFixture("loopprog")
	cmd := exec.Command(fixture.Path)
	require.NoError(t, cmd.Start())
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()
	time.Sleep(200 * time.Millisecond)

	p, err := native.Attach(cmd.Process.Pid)
	if errors.Is(err, syscall.EPERM) {
		t.Skip("not allowed to attach to processes")
	}
	require.NoError(t, err)
	c := proc.NewController(p, proc.DefaultPassSignals)
	assert.Equal(t, cmd.Process.Pid, c.Pid())

	loop := proc.Address(protest.SymbolAddr(t, fixture, "main.loop"))
	_, err = c.Breakpoints().Set(loop)
	require.NoError(t, err)
	_, err = c.Registers().PC()
	require.NoError(t, err)

	require.NoError(t, c.Detach(false))
	_, err = c.Continue()
	assert.True(t, errors.Is(err, proc.ErrProcessNotRunning))

	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, cmd.Process.Signal(syscall.Signal(0)))
}

func TestKillReapedProcess(t *testing.T) {
	fixture := protest.BuildFixture("exitcode")
	p, err := native.Launch([]string{fixture.Path}, ".", 0, "")
	require.NoError(t, err)
	assert.False(t, p.Exited())

	// reap the tracee behind the backend's back, killing it must still
	// release the process
	require.NoError(t, syscall.Kill(p.Pid(), syscall.SIGKILL))
	var ws syscall.WaitStatus
	_, err = syscall.Wait4(p.Pid(), &ws, syscall.WALL, nil)
	require.NoError(t, err)

	assert.Error(t, p.Detach(true))
	assert.True(t, p.Exited())
	assert.NoError(t, p.Detach(true))
	_, err = p.ReadMemory(make([]byte, 1), 0x1000)
	var ote *proc.OsTraceError
	require.ErrorAs(t, err, &ote)
	assert.Equal(t, syscall.ESRCH, ote.Errno)
}
