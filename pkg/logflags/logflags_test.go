package logflags

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func resetLayers() {
	debugger, ptrace, terminal = false, false, false
	logOut = nil
	loggerFactory = nil
}

func TestMakeLoggerUsesFactory(t *testing.T) {
	defer resetLayers()
	logOut = &bufferWriter{}

	var got struct {
		level  logrus.Level
		fields Fields
		out    io.Writer
	}
	want := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		got.level, got.fields, got.out = level, fields, out
		return want
	})

	l := makeLogger(logrus.TraceLevel, Fields{"layer": "ptrace"})
	assert.Same(t, want, l)
	assert.Equal(t, logrus.TraceLevel, got.level)
	assert.Equal(t, Fields{"layer": "ptrace"}, got.fields)
	assert.Equal(t, logOut, got.out)
}

func TestMakeLoggerDefault(t *testing.T) {
	defer resetLayers()
	out := &bufferWriter{}
	logOut = out

	l, ok := makeLogger(logrus.InfoLevel, Fields{"layer": "debugger"}).(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.InfoLevel, l.Logger.Level)
	assert.Equal(t, out, l.Logger.Out)
	assert.Equal(t, textFormatterInstance, l.Logger.Formatter)
	assert.Equal(t, "debugger", l.Data["layer"])

	l.WithField("pid", 7).Infof("launched %s", "./prog")
	assert.Contains(t, out.String(), " info debugger pid=7 launched ./prog\n")
}

func TestFlaggableLoggerLevels(t *testing.T) {
	defer resetLayers()
	off := makeFlaggableLogger(false, Fields{}).(*logrusLogger)
	assert.Equal(t, logrus.ErrorLevel, off.Logger.Level)
	on := makeFlaggableLogger(true, Fields{}).(*logrusLogger)
	assert.Equal(t, logrus.DebugLevel, on.Logger.Level)
}

func TestSetupSelectsLayers(t *testing.T) {
	defer resetLayers()
	require.NoError(t, Setup(true, "ptrace,terminal", ""))
	assert.False(t, Debugger())
	assert.True(t, Ptrace())
	assert.True(t, Terminal())

	l := PtraceLogger().(*logrusLogger)
	assert.Equal(t, logrus.DebugLevel, l.Logger.Level)
	assert.Equal(t, "ptrace", l.Data["layer"])
	assert.Equal(t, logrus.ErrorLevel, DebuggerLogger().(*logrusLogger).Logger.Level)
}

func TestSetupDefaultsToDebugger(t *testing.T) {
	defer resetLayers()
	require.NoError(t, Setup(true, "", ""))
	assert.True(t, Debugger())
	assert.False(t, Ptrace())
}

func TestSetupOutputWithoutLog(t *testing.T) {
	defer resetLayers()
	assert.Equal(t, errLogstrWithoutLog, Setup(false, "debugger", ""))
	assert.False(t, Debugger())
}

func TestSetupLogDestFile(t *testing.T) {
	defer resetLayers()
	path := filepath.Join(t.TempDir(), "rdbg.log")
	require.NoError(t, Setup(true, "terminal", path))
	TerminalLogger().Debugf("status %d", 2)
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), " debug terminal status 2\n")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bufferWriter{}))
	f, err := os.CreateTemp(t.TempDir(), "notatty")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
