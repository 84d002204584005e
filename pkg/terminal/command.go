// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/rdbg/rdbg/pkg/debugger"
	"github.com/rdbg/rdbg/pkg/logflags"
	"github.com/rdbg/rdbg/pkg/proc"
)

// Handler statuses.
const (
	StatusOK        = 0
	StatusMalformed = 1
	StatusFailed    = 2
)

// Context is what a command handler operates on.
type Context struct {
	Debugger *debugger.Debugger
	Out      io.Writer

	cmds *Commands
	exit bool
}

// ExitRequested reports whether a command asked to end the session.
func (ctx *Context) ExitRequested() bool {
	return ctx.exit
}

func (ctx *Context) printf(format string, args ...interface{}) {
	fmt.Fprintf(ctx.Out, format, args...)
}

// fail reports err and maps it to a handler status.
func (ctx *Context) fail(err error) int {
	var mae *proc.MalformedArgumentError
	status := StatusFailed
	if errors.As(err, &mae) {
		status = StatusMalformed
	}
	ctx.printf("Command failed (status %d): %v\n", status, err)
	return status
}

// usage fails with the synopsis lines of the help of cmd.
func (ctx *Context) usage(cmd Command) int {
	var synopsis []string
	for _, line := range strings.Split(cmd.Help(), "\n") {
		if strings.HasPrefix(line, "\t") {
			synopsis = append(synopsis, strings.TrimSpace(line))
		}
	}
	return ctx.fail(&proc.MalformedArgumentError{Arg: cmd.Name(), Reason: "usage: " + strings.Join(synopsis, " | ")})
}

// Command is a debugger command available at the prompt.
type Command interface {
	// Name is the canonical name of the command, also used as the key of
	// configured aliases.
	Name() string
	Aliases() []string
	// Help returns the documentation of the command, its first line is
	// the summary shown by "help".
	Help() string
	Execute(ctx *Context, args []string) int
}

// Builtins returns the commands understood by the prompt.
func Builtins() []Command {
	return []Command{
		continueCommand{},
		breakCommand{},
		clearCommand{},
		breakpointsCommand{},
		stepInstructionCommand{},
		printCommand{},
		memoryCommand{},
		regsCommand{},
		setCommand{},
		stateCommand{},
		helpCommand{},
		exitCommand{},
	}
}

// Commands is the table of commands available at the prompt.
type Commands struct {
	cmds []Command
	// aliases added by the configuration, keyed by command name.
	extra map[string][]string
	names *trie.Trie
	log   logflags.Logger
}

// NewCommands returns a table holding the builtin commands.
func NewCommands() *Commands {
	c := &Commands{
		cmds: Builtins(),
		log:  logflags.TerminalLogger(),
	}
	c.index()
	return c
}

func (c *Commands) index() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range c.aliasesOf(cmd) {
			c.names.Add(alias, cmd)
		}
	}
}

// aliasesOf returns the name, the builtin aliases and the configured
// aliases of cmd.
func (c *Commands) aliasesOf(cmd Command) []string {
	r := append([]string{cmd.Name()}, cmd.Aliases()...)
	return append(r, c.extra[cmd.Name()]...)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	c.extra = make(map[string][]string)
	for _, cmd := range c.cmds {
		if aliases, ok := allAliases[cmd.Name()]; ok {
			c.extra[cmd.Name()] = aliases
		}
	}
	c.index()
}

// Find returns the command called cmdstr, nil if there is none.
func (c *Commands) Find(cmdstr string) Command {
	node, ok := c.names.Find(cmdstr)
	if !ok {
		return nil
	}
	return node.Meta().(Command)
}

// Complete returns the command names and aliases starting with prefix.
func (c *Commands) Complete(prefix string) []string {
	r := c.names.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

// Call parses cmdstr and executes the command it names.
func (c *Commands) Call(ctx *Context, cmdstr string) int {
	args, err := splitArgs(cmdstr)
	if err != nil {
		return ctx.fail(err)
	}
	if len(args) == 0 {
		return StatusOK
	}
	cmd := c.Find(args[0])
	if cmd == nil {
		ctx.printf("Undefined command: %q.  Try \"help\"\n", args[0])
		return StatusMalformed
	}
	ctx.cmds = c
	status := cmd.Execute(ctx, args[1:])
	if logflags.Terminal() {
		c.log.Debugf("%s %v: status %d", cmd.Name(), args[1:], status)
	}
	return status
}

func splitArgs(cmdstr string) ([]string, error) {
	if strings.TrimSpace(cmdstr) == "" {
		return nil, nil
	}
	v, err := argv.Argv(cmdstr, func(s string) (string, error) {
		return "", &proc.MalformedArgumentError{Arg: s, Reason: "backtick not supported"}
	}, nil)
	if err != nil {
		return nil, &proc.MalformedArgumentError{Arg: cmdstr, Reason: err.Error()}
	}
	switch len(v) {
	case 0:
		return nil, nil
	case 1:
		return v[0], nil
	}
	return nil, &proc.MalformedArgumentError{Arg: cmdstr, Reason: "pipes not supported"}
}

// executeFile runs every line of the file name as a command. Empty lines
// and lines starting with # are skipped.
func (c *Commands) executeFile(ctx *Context, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if status := c.Call(ctx, line); status != StatusOK {
			ctx.printf("%s:%d: %q returned status %d\n", name, lineno, line, status)
		}
		if ctx.exit {
			return nil
		}
	}

	return scanner.Err()
}

func (c *Commands) help(ctx *Context, args []string) int {
	if len(args) > 0 {
		cmd := c.Find(args[0])
		if cmd == nil {
			ctx.printf("Undefined command: %q.  Try \"help\"\n", args[0])
			return StatusMalformed
		}
		ctx.printf("%s\n", cmd.Help())
		return StatusOK
	}

	ctx.printf("The following commands are available:\n")
	w := new(tabwriter.Writer)
	w.Init(ctx.Out, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.Help()
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		aliases := c.aliasesOf(cmd)
		if len(aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", aliases[0], strings.Join(aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return ctx.fail(err)
	}
	ctx.printf("\nType help followed by a command for full documentation.\n")
	return StatusOK
}

type continueCommand struct{}

func (continueCommand) Name() string      { return "continue" }
func (continueCommand) Aliases() []string { return []string{"c"} }
func (continueCommand) Help() string {
	return `Run until breakpoint or program termination.

	continue

A breakpoint at the current instruction is stepped over first.`
}

func (cmd continueCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	si, err := ctx.Debugger.Continue()
	if err != nil {
		return ctx.fail(err)
	}
	printStop(ctx, si)
	return StatusOK
}

type stepInstructionCommand struct{}

func (stepInstructionCommand) Name() string      { return "stepi" }
func (stepInstructionCommand) Aliases() []string { return []string{"si"} }
func (stepInstructionCommand) Help() string {
	return `Single step a single cpu instruction.

	stepi`
}

func (cmd stepInstructionCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	si, err := ctx.Debugger.StepInstruction()
	if err != nil {
		return ctx.fail(err)
	}
	printStop(ctx, si)
	return StatusOK
}

func printStop(ctx *Context, si proc.StopInfo) {
	if si.Reason == proc.StopExited {
		ctx.printf("Process %d has exited: %v\n", ctx.Debugger.ProcessPid(), si)
		return
	}
	ctx.printf("> %v\n", si)
}

type breakCommand struct{}

func (breakCommand) Name() string      { return "break" }
func (breakCommand) Aliases() []string { return []string{"b"} }
func (breakCommand) Help() string {
	return `Sets a breakpoint.

	break <address>

The address is base 16, the 0x prefix is optional. Setting a breakpoint
twice at the same address is not an error.`
}

func (cmd breakCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 1 {
		return ctx.usage(cmd)
	}
	addr, err := proc.ParseAddress(args[0])
	if err != nil {
		return ctx.fail(err)
	}
	bp, err := ctx.Debugger.SetBreakpoint(addr)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.printf("Breakpoint %d set at %v\n", bp.ID, bp.Addr)
	return StatusOK
}

type clearCommand struct{}

func (clearCommand) Name() string      { return "clear" }
func (clearCommand) Aliases() []string { return nil }
func (clearCommand) Help() string {
	return `Deletes breakpoint.

	clear <address>`
}

func (cmd clearCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 1 {
		return ctx.usage(cmd)
	}
	addr, err := proc.ParseAddress(args[0])
	if err != nil {
		return ctx.fail(err)
	}
	if err := ctx.Debugger.ClearBreakpoint(addr); err != nil {
		return ctx.fail(err)
	}
	ctx.printf("Breakpoint at %v cleared\n", addr)
	return StatusOK
}

type breakpointsCommand struct{}

func (breakpointsCommand) Name() string      { return "breakpoints" }
func (breakpointsCommand) Aliases() []string { return []string{"bp"} }
func (breakpointsCommand) Help() string {
	return `Print out info for active breakpoints.

	breakpoints`
}

func (cmd breakpointsCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	bps, err := ctx.Debugger.Breakpoints()
	if err != nil {
		return ctx.fail(err)
	}
	if len(bps) == 0 {
		ctx.printf("No breakpoints set\n")
	}
	for i := range bps {
		ctx.printf("%s original=% x\n", bps[i].String(), bps[i].OriginalData)
	}
	return StatusOK
}

type printCommand struct{}

func (printCommand) Name() string      { return "print" }
func (printCommand) Aliases() []string { return []string{"p"} }
func (printCommand) Help() string {
	return `Print the current instruction pointer.

	print`
}

func (cmd printCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	pc, err := ctx.Debugger.PC()
	if err != nil {
		return ctx.fail(err)
	}
	ctx.printf("%v\n", pc)
	return StatusOK
}

type memoryCommand struct{}

func (memoryCommand) Name() string      { return "memory" }
func (memoryCommand) Aliases() []string { return []string{"mem"} }
func (memoryCommand) Help() string {
	return `Read or write target memory.

	memory read <address> [count]
	memory write <address> <value>

Without a count, read prints the pointer sized word at address. With a
count, it prints count bytes. write stores value, a signed integer, as a
pointer sized word. Breakpoints never show up in the bytes read and are
kept in place by writes.`
}

func (cmd memoryCommand) Execute(ctx *Context, args []string) int {
	if len(args) < 2 {
		return ctx.usage(cmd)
	}
	addr, err := proc.ParseAddress(args[1])
	if err != nil {
		return ctx.fail(err)
	}
	switch args[0] {
	case "read":
		return cmd.read(ctx, addr, args[2:])
	case "write":
		return cmd.write(ctx, addr, args[2:])
	}
	return ctx.usage(cmd)
}

func (cmd memoryCommand) read(ctx *Context, addr proc.Address, args []string) int {
	switch len(args) {
	case 0:
		v, err := ctx.Debugger.ReadWord(addr)
		if err != nil {
			return ctx.fail(err)
		}
		ctx.printf("%v: %#x (%d)\n", addr, v, int64(v))
		return StatusOK
	case 1:
		count, err := proc.ParseWord(args[0])
		if err != nil {
			return ctx.fail(err)
		}
		if count <= 0 {
			return ctx.fail(&proc.MalformedArgumentError{Arg: args[0], Reason: "count must be positive"})
		}
		mem, err := ctx.Debugger.ReadMemory(addr, int(count))
		if err != nil {
			return ctx.fail(err)
		}
		printMemory(ctx.Out, addr, mem)
		return StatusOK
	}
	return ctx.usage(cmd)
}

func (cmd memoryCommand) write(ctx *Context, addr proc.Address, args []string) int {
	if len(args) != 1 {
		return ctx.usage(cmd)
	}
	v, err := proc.ParseWord(args[0])
	if err != nil {
		return ctx.fail(err)
	}
	if err := ctx.Debugger.WriteWord(addr, v); err != nil {
		return ctx.fail(err)
	}
	return StatusOK
}

// printMemory prints mem as 16 bytes per line, prefixed with the address
// of the line.
func printMemory(w io.Writer, addr proc.Address, mem []byte) {
	const perLine = 16
	for len(mem) > 0 {
		n := perLine
		if n > len(mem) {
			n = len(mem)
		}
		fmt.Fprintf(w, "%v: % x\n", addr, mem[:n])
		addr = addr.Add(int64(n))
		mem = mem[n:]
	}
}

type regsCommand struct{}

func (regsCommand) Name() string      { return "regs" }
func (regsCommand) Aliases() []string { return nil }
func (regsCommand) Help() string {
	return `Print contents of CPU registers.

	regs`
}

func (cmd regsCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	regs, err := ctx.Debugger.Registers()
	if err != nil {
		return ctx.fail(err)
	}
	w := tabwriter.NewWriter(ctx.Out, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%#018x\t\n", r.Register, r.Value)
	}
	if err := w.Flush(); err != nil {
		return ctx.fail(err)
	}
	return StatusOK
}

type setCommand struct{}

func (setCommand) Name() string      { return "set" }
func (setCommand) Aliases() []string { return nil }
func (setCommand) Help() string {
	return `Changes the value of a register.

	set <register> <value>

Setting pc moves execution to value.`
}

func (cmd setCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 2 {
		return ctx.usage(cmd)
	}
	reg, err := proc.ParseRegister(args[0])
	if err != nil {
		return ctx.fail(err)
	}
	v, err := proc.ParseWord(args[1])
	if err != nil {
		return ctx.fail(err)
	}
	if err := ctx.Debugger.SetRegister(reg, uint64(v)); err != nil {
		return ctx.fail(err)
	}
	return StatusOK
}

type stateCommand struct{}

func (stateCommand) Name() string      { return "state" }
func (stateCommand) Aliases() []string { return nil }
func (stateCommand) Help() string {
	return `Print the state of the target process.

	state`
}

func (cmd stateCommand) Execute(ctx *Context, args []string) int {
	if len(args) != 0 {
		return ctx.usage(cmd)
	}
	d := ctx.Debugger
	st := d.State()
	switch st.Status {
	case proc.StatusNotStarted:
		ctx.printf("%v\n", st)
	case proc.StatusStopped:
		ctx.printf("pid %d %s on %v: %v\n", d.ProcessPid(), st, d.Arch(), d.LastStop())
	default:
		ctx.printf("pid %d %v\n", d.ProcessPid(), st)
	}
	return StatusOK
}

type helpCommand struct{}

func (helpCommand) Name() string      { return "help" }
func (helpCommand) Aliases() []string { return []string{"h"} }
func (helpCommand) Help() string {
	return `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`
}

func (helpCommand) Execute(ctx *Context, args []string) int {
	return ctx.cmds.help(ctx, args)
}

type exitCommand struct{}

func (exitCommand) Name() string      { return "exit" }
func (exitCommand) Aliases() []string { return []string{"quit", "q"} }
func (exitCommand) Help() string {
	return `Exit the debugger.

	exit

A launched target is killed, an attached one is detached from.`
}

func (exitCommand) Execute(ctx *Context, args []string) int {
	ctx.exit = true
	return StatusOK
}
