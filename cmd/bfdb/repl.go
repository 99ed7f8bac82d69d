package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/chazu/bfdb/vm"
)

// session is what the dispatcher drives: a local *vm.Debugger or a remote
// *server.Client.
type session interface {
	Load(path string) error
	Run() error
	Next(count int) (vm.StepReport, error)
	Jump(index int) error
	Continue() (vm.StepReport, error)
	DataPointer() (int, error)
	Print(index int) (vm.CellView, error)
	PrintCurrent() (vm.CellView, error)
	Tape() (vm.TapeWindow, error)
	Set(value int) error
	Listing(radius int) ([]string, error)
	Current() (vm.Location, bool)
	State() vm.State
}

// listRadius is how many instructions either side of the program counter
// 'list' shows.
const listRadius = 5

// command is one debugger command.
type command struct {
	name string
	abbr byte
	args string // argument synopsis for help, empty if none
	desc string
	run  func(r *repl, args []string)
}

var commands []command

func init() {
	commands = []command{
		{"help", 'h', "", "Print this help", (*repl).cmdHelp},
		{"quit", 'q', "", "Exit debugger", (*repl).cmdQuit},
		{"file", 'f', "<filename>", "Use file", (*repl).cmdFile},
		{"run", 'r', "", "Start execution", (*repl).cmdRun},
		{"next", 'n', "[count = 1]", "Step instructions", (*repl).cmdNext},
		{"jump", 'j', "<instr_index>", "Jumps to an instruction", (*repl).cmdJump},
		{"continue", 'c', "", "Continue execution", (*repl).cmdContinue},
		{"dataptr", 'd', "", "Prints the data pointer", (*repl).cmdDataptr},
		{"print", 'p', "[index = $ptr]", "Print cell", (*repl).cmdPrint},
		{"tape", 't', "", "Print the cells around the data pointer", (*repl).cmdTape},
		{"set", 's', "<value>", "Set the current cell", (*repl).cmdSet},
		{"list", 'l', "", "List instructions around the program counter", (*repl).cmdList},
	}
}

// lookupCommand matches a full command name or its single-letter
// abbreviation.
func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if name == c.name || (len(name) == 1 && name[0] == c.abbr) {
			return c, true
		}
	}
	return command{}, false
}

type repl struct {
	s      session
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	prompt string
	echo   bool // print the next instruction before each prompt
	quit   bool
}

// loop reads and executes commands until quit or end of input.
func (r *repl) loop() {
	for !r.quit {
		if r.echo {
			if loc, ok := r.s.Current(); ok {
				fmt.Fprintln(r.out, loc)
			}
		}
		fmt.Fprint(r.out, r.prompt)

		line, err := r.in.ReadString('\n')
		if line == "" && err != nil {
			fmt.Fprintln(r.out)
			return
		}
		r.execute(line)
	}
}

// execute runs one command line.
func (r *repl) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	c, ok := lookupCommand(fields[0])
	if !ok {
		fmt.Fprintf(r.out, "Undefined command: %q. Try \"help\".\n", fields[0])
		return
	}
	c.run(r, fields[1:])
}

// report prints a debugger error the way the command line shows it.
func (r *repl) report(err error) {
	var ue *vm.UsageError
	switch {
	case errors.Is(err, vm.ErrNotLoaded):
		fmt.Fprintln(r.out, "No brainfuck file specified, use 'file'.")
	case errors.Is(err, vm.ErrNotRunning):
		fmt.Fprintln(r.out, "The program is not being run.")
	case errors.As(err, &ue):
		fmt.Fprintln(r.out, ue.Msg)
	default:
		fmt.Fprintf(r.errOut, "error: %v\n", err)
	}
}

// intArg parses a decimal argument, reporting it if malformed.
func (r *repl) intArg(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(r.out, "%s: Not a number.\n", s)
		return 0, false
	}
	return n, true
}

// stopped prints how a stepping command ended.
func (r *repl) stopped(report vm.StepReport) {
	switch report.Outcome {
	case vm.Halted:
		fmt.Fprintln(r.out, "Brainfuck exited normally.")
	case vm.Faulted:
		fmt.Fprintf(r.errOut, "error: %v\n", report.Fault)
		fmt.Fprintln(r.errOut, report.Fault.Detail())
		fmt.Fprintln(r.out, "Brainfuck exited with error.")
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (r *repl) cmdHelp(args []string) {
	fmt.Fprint(r.out, "List of commands:\n\n")
	for _, c := range commands {
		if c.args != "" {
			fmt.Fprintf(r.out, "(%c)%s %s -- %s.\n", c.abbr, c.name[1:], c.args, c.desc)
		} else {
			fmt.Fprintf(r.out, "(%c)%s -- %s.\n", c.abbr, c.name[1:], c.desc)
		}
	}
}

func (r *repl) cmdQuit(args []string) {
	r.quit = true
}

func (r *repl) cmdFile(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "error: 'file' takes exactly one file path argument.")
		return
	}
	r.load(args[0])
}

// load loads path and prints the outcome.
func (r *repl) load(path string) {
	err := r.s.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(r.errOut, "%s: No such file or directory.\n", path)
		return
	}

	var pe *fs.PathError
	if errors.As(err, &pe) {
		fmt.Fprintf(r.errOut, "%s: %v.\n", path, pe.Err)
		return
	}

	fmt.Fprintf(r.out, "Reading %s...\n", path)
	if err != nil {
		fmt.Fprintf(r.out, "Could not read from %s.\n", path)
		var le *vm.LoadError
		if errors.As(err, &le) {
			err = le.Err
		}
		fmt.Fprintf(r.errOut, "error: %v\n", err)
	}
}

func (r *repl) cmdRun(args []string) {
	if err := r.s.Run(); err != nil {
		r.report(err)
	}
}

func (r *repl) cmdNext(args []string) {
	count := 1
	if len(args) > 0 {
		n, ok := r.intArg(args[0])
		if !ok {
			return
		}
		count = n
	}

	report, err := r.s.Next(count)
	if err != nil {
		r.report(err)
		return
	}
	r.stopped(report)
}

func (r *repl) cmdJump(args []string) {
	if len(args) != 1 {
		// Not running takes precedence over the missing argument.
		if r.s.State() != vm.StateRunning {
			r.report(vm.ErrNotRunning)
			return
		}
		fmt.Fprintln(r.out, "error: 'jump' takes exactly one instruction index argument.")
		return
	}
	index, ok := r.intArg(args[0])
	if !ok {
		return
	}
	if err := r.s.Jump(index); err != nil {
		r.report(err)
	}
}

func (r *repl) cmdContinue(args []string) {
	report, err := r.s.Continue()
	if err != nil {
		r.report(err)
		return
	}
	if report.Outcome == vm.Continue {
		fmt.Fprintf(r.out, "Stopped after %d instructions.\n", report.Executed)
		return
	}
	r.stopped(report)
}

func (r *repl) cmdDataptr(args []string) {
	ptr, err := r.s.DataPointer()
	if err != nil {
		r.report(err)
		return
	}
	fmt.Fprintf(r.out, "$ptr: %d\n", ptr)
}

func (r *repl) cmdPrint(args []string) {
	var (
		cell vm.CellView
		err  error
	)
	if len(args) > 0 {
		index, ok := r.intArg(args[0])
		if !ok {
			return
		}
		cell, err = r.s.Print(index)
	} else {
		cell, err = r.s.PrintCurrent()
	}
	if err != nil {
		r.report(err)
		return
	}
	fmt.Fprintln(r.out, cell)
}

func (r *repl) cmdTape(args []string) {
	w, err := r.s.Tape()
	if err != nil {
		r.report(err)
		return
	}
	for _, c := range w.Cells {
		marker := "  "
		if c.Index == w.Pointer {
			marker = "=>"
		}
		fmt.Fprintf(r.out, "%s %s\n", marker, c)
	}
}

func (r *repl) cmdSet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "error: 'set' takes exactly one value argument.")
		return
	}
	value, ok := r.intArg(args[0])
	if !ok {
		return
	}
	if err := r.s.Set(value); err != nil {
		r.report(err)
		return
	}
	if cell, err := r.s.PrintCurrent(); err == nil {
		fmt.Fprintln(r.out, cell)
	}
}

func (r *repl) cmdList(args []string) {
	lines, err := r.s.Listing(listRadius)
	if err != nil {
		r.report(err)
		return
	}
	current := ""
	if loc, ok := r.s.Current(); ok {
		current = strconv.Itoa(loc.Index + 1)
	}
	for _, line := range lines {
		marker := "  "
		if fields := strings.Fields(line); current != "" && len(fields) > 0 && fields[0] == current {
			marker = "=>"
		}
		fmt.Fprintf(r.out, "%s%s\n", marker, line)
	}
}
