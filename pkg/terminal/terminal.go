package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"

	"github.com/rdbg/rdbg/pkg/config"
	"github.com/rdbg/rdbg/pkg/debugger"
	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
)

const (
	prompt                      string = "rdbg> "
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiGreen = 32
)

// Term represents the terminal running rdbg.
type Term struct {
	debugger *debugger.Debugger
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	log      logflags.Logger
	InitFile string
}

// New returns a new Term.
func New(d *debugger.Debugger, conf *config.Config) *Term {
	cmds := NewCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !logflags.IsTerminal(os.Stdout)
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	p := prompt
	if !dumb {
		p = fmt.Sprintf(terminalHighlightEscapeCode, ansiGreen) + prompt + terminalResetEscapeCode
	}

	return &Term{
		debugger: d,
		conf:     conf,
		prompt:   p,
		line:     liner.NewLiner(),
		cmds:     cmds,
		dumb:     dumb,
		stdout:   w,
		log:      logflags.TerminalLogger(),
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run begins running rdbg in the terminal. The returned status is the
// exit status of the rdbg process.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.cmds.Complete)

	t.readHistory()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	ctx := &Context{Debugger: t.debugger, Out: t.stdout}

	if t.InitFile != "" {
		if err := t.cmds.executeFile(ctx, t.InitFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
		if ctx.ExitRequested() {
			return t.handleExit()
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %w", err)
		}

		if status := t.cmds.Call(ctx, cmdstr); status != StatusOK {
			t.log.Debugf("%q returned status %d", cmdstr, status)
		}
		if ctx.ExitRequested() {
			return t.handleExit()
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) readHistory() {
	path := t.conf.History()
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Unable to open history file: %v.\n", err)
		}
		return
	}
	defer f.Close()
	if _, err := t.line.ReadHistory(f); err != nil {
		t.log.Warnf("reading history: %v", err)
	}
}

// writeHistory saves at most the configured number of history entries,
// keeping the most recent ones.
func (t *Term) writeHistory() error {
	path := t.conf.History()
	if path == "" {
		return nil
	}
	var buf bytes.Buffer
	if _, err := t.line.WriteHistory(&buf); err != nil {
		return err
	}
	var lines []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if max := t.conf.HistoryLimit(); len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(f, l)
	}
	return f.Close()
}

// handleExit saves the history and ends the session. An attached target
// that is still alive is killed only if the user agrees.
func (t *Term) handleExit() (int, error) {
	if err := t.writeHistory(); err != nil {
		fmt.Fprintln(os.Stderr, "Error saving history file:", err)
	}

	d := t.debugger
	if d == nil || d.State().Status != proc.StatusStopped {
		return 0, nil
	}
	if d.Attached() {
		kill, err := yesno(t.line, "Would you like to kill the process? [y/n] ")
		if err != nil {
			return 2, err
		}
		if err := d.Detach(kill); err != nil {
			return 1, err
		}
		return 0, nil
	}
	if err := d.Close(); err != nil {
		return 1, err
	}
	return 0, nil
}
