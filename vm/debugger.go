package vm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/chazu/bfdb/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Precondition failures. Neither changes debugger state.
var (
	ErrNotLoaded  = errors.New("no brainfuck file specified, use 'file'")
	ErrNotRunning = errors.New("the program is not being run")
)

// UsageError reports a bad argument to a debugger operation.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// LoadError is returned by Load when the file cannot be read or does not
// compile. Err is the OS error, the *bytecode.CompileError or an image
// error.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the debugger session state.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loaded reports whether a program is installed.
func (s State) Loaded() bool { return s != StateUnloaded }

// StepEvent describes one executed instruction and the registers after it.
type StepEvent struct {
	Index   int // 0-based index of the instruction executed
	Op      bytecode.Opcode
	Pointer int
	Cell    uint16 // value of the current cell after execution
}

// TraceLimit is the most step events a Next report keeps. Longer runs keep
// the last TraceLimit.
const TraceLimit = 256

// checkInterval is how many instructions run between context checks.
const checkInterval = 1024

// StepReport summarizes a Next or Continue call.
type StepReport struct {
	Executed int
	Outcome  Outcome       // Continue if the run is still going
	Fault    *RuntimeError // set when Outcome is Faulted
	Steps    []StepEvent   // trailing per-instruction trace, Next only
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

type debuggerConfig struct {
	in      io.Reader
	out     io.Writer
	limits  bytecode.Limits
	machine MachineConfig
}

// Option configures a Debugger.
type Option func(*debuggerConfig)

// WithInput sets where the debugged program's ',' reads from.
func WithInput(r io.Reader) Option {
	return func(c *debuggerConfig) { c.in = r }
}

// WithOutput sets where the debugged program's '.' writes to.
func WithOutput(w io.Writer) Option {
	return func(c *debuggerConfig) { c.out = w }
}

// WithLimits sets the compiler capacities.
func WithLimits(l bytecode.Limits) Option {
	return func(c *debuggerConfig) { c.limits = l }
}

// WithTapeSize sets the number of tape cells.
func WithTapeSize(n int) Option {
	return func(c *debuggerConfig) { c.machine.TapeSize = n }
}

// WithCellBits sets the cell width, 8 or 16.
func WithCellBits(bits int) Option {
	return func(c *debuggerConfig) { c.machine.CellBits = bits }
}

// ---------------------------------------------------------------------------
// Debugger
// ---------------------------------------------------------------------------

// Debugger drives one program on one machine. It is not safe for
// concurrent use.
type Debugger struct {
	cfg debuggerConfig

	name    string
	program *bytecode.Program
	machine *Machine
	state   State
}

// NewDebugger creates an unloaded debugger.
func NewDebugger(opts ...Option) *Debugger {
	cfg := debuggerConfig{
		limits:  bytecode.DefaultLimits(),
		machine: DefaultMachineConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.in != nil {
		// Shared by every machine this debugger creates.
		if _, ok := cfg.in.(io.ByteReader); !ok {
			cfg.in = bufio.NewReader(cfg.in)
		}
	}
	return &Debugger{cfg: cfg}
}

// State returns the session state.
func (d *Debugger) State() State { return d.state }

// Name returns the path or name of the loaded program.
func (d *Debugger) Name() string { return d.name }

// Program returns the loaded program, or nil.
func (d *Debugger) Program() *bytecode.Program { return d.program }

// Load stops any run and replaces the program with the one in path. The
// file may be brainfuck source or a compiled BFBC image. On failure the
// debugger is left unloaded.
func (d *Debugger) Load(path string) error {
	d.unload()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warningf("load %s: %v", path, err)
		return &LoadError{Path: path, Err: err}
	}
	return d.LoadBytes(path, data)
}

// LoadFS is Load for a file in fsys.
func (d *Debugger) LoadFS(fsys fs.FS, name string) error {
	d.unload()

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		log.Warningf("load %s: %v", name, err)
		return &LoadError{Path: name, Err: err}
	}
	return d.LoadBytes(name, data)
}

// LoadBytes is Load for file contents held in memory: source or an image.
// Images are held to the same program capacity as source.
func (d *Debugger) LoadBytes(name string, data []byte) error {
	d.unload()

	var (
		p   *bytecode.Program
		err error
	)
	if bytecode.IsImage(data) {
		capacity := d.cfg.limits.ProgramCapacity
		if capacity <= 0 {
			capacity = bytecode.DefaultProgramCapacity
		}
		p, err = bytecode.Deserialize(data)
		if err == nil && p.Len() > capacity {
			err = fmt.Errorf("%w: image has %d instructions, capacity is %d",
				bytecode.ErrProgramTooLarge, p.Len(), capacity)
		}
	} else {
		p, err = bytecode.Compile(bytes.NewReader(data), d.cfg.limits)
	}
	if err != nil {
		log.Warningf("load %s: %v", name, err)
		return &LoadError{Path: name, Err: err}
	}

	d.install(name, p)
	return nil
}

// LoadSource is Load for source held in memory.
func (d *Debugger) LoadSource(name string, r io.Reader) error {
	d.unload()

	p, err := bytecode.Compile(r, d.cfg.limits)
	if err != nil {
		log.Warningf("load %s: %v", name, err)
		return &LoadError{Path: name, Err: err}
	}

	d.install(name, p)
	return nil
}

func (d *Debugger) unload() {
	if d.state == StateRunning {
		log.Infof("stopping run of %s", d.name)
	}
	d.name = ""
	d.program = nil
	d.machine = nil
	d.state = StateUnloaded
}

func (d *Debugger) install(name string, p *bytecode.Program) {
	d.name = name
	d.program = p
	d.machine = NewMachine(p, d.cfg.machine, d.cfg.in, d.cfg.out)
	d.state = StateLoaded
	log.Infof("loaded %s: %d instructions", name, p.Len())
}

// Run zeroes the tape, resets both registers and starts a run.
func (d *Debugger) Run() error {
	if d.state == StateUnloaded {
		return ErrNotLoaded
	}
	d.machine.Reset()
	d.state = StateRunning
	log.Debugf("run %s", d.name)
	return nil
}

func (d *Debugger) requireRunning() error {
	if d.state != StateRunning {
		return ErrNotRunning
	}
	return nil
}

// Next executes up to count instructions, stopping early when the program
// halts or faults.
func (d *Debugger) Next(count int) (StepReport, error) {
	return d.NextContext(context.Background(), count)
}

// NextContext is Next that also stops when ctx is done. The run stays live
// and the error is ctx.Err().
func (d *Debugger) NextContext(ctx context.Context, count int) (StepReport, error) {
	if err := d.requireRunning(); err != nil {
		return StepReport{}, err
	}
	if count < 0 {
		return StepReport{}, usageErrorf("%d: Not a valid step count", count)
	}

	report := StepReport{Outcome: Continue}
	trace := make([]StepEvent, 0, min(count, TraceLimit))
	for report.Executed < count {
		if report.Executed%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				report.Steps = unwindTrace(trace, report.Executed)
				return report, err
			}
		}
		pc := d.machine.PC()
		op := d.machine.Current().Op()
		res := d.step()
		ev := StepEvent{
			Index:   pc,
			Op:      op,
			Pointer: d.machine.Pointer(),
			Cell:    d.machine.Cell(d.machine.Pointer()),
		}
		if len(trace) < TraceLimit {
			trace = append(trace, ev)
		} else {
			trace[report.Executed%TraceLimit] = ev
		}
		report.Executed++
		if res.Outcome != Continue {
			report.Outcome = res.Outcome
			report.Fault = res.Fault
			break
		}
	}
	report.Steps = unwindTrace(trace, report.Executed)
	return report, nil
}

// unwindTrace puts a full ring of events back in execution order.
func unwindTrace(trace []StepEvent, executed int) []StepEvent {
	if len(trace) == 0 {
		return nil
	}
	if executed <= TraceLimit {
		return trace
	}
	start := executed % TraceLimit
	return slices.Concat(trace[start:], trace[:start])
}

// Continue runs until the program halts or faults.
func (d *Debugger) Continue() (StepReport, error) {
	return d.ContinueContext(context.Background(), 0)
}

// ContinueLimit is Continue bounded by maxSteps instructions; 0 means no
// bound. When the bound is reached the run stays live and the report's
// Outcome is Continue.
func (d *Debugger) ContinueLimit(maxSteps int) (StepReport, error) {
	return d.ContinueContext(context.Background(), maxSteps)
}

// ContinueContext is ContinueLimit that also stops when ctx is done. The
// run stays live and the error is ctx.Err().
func (d *Debugger) ContinueContext(ctx context.Context, maxSteps int) (StepReport, error) {
	if err := d.requireRunning(); err != nil {
		return StepReport{}, err
	}
	if maxSteps < 0 {
		return StepReport{}, usageErrorf("%d: Not a valid step budget", maxSteps)
	}

	report := StepReport{Outcome: Continue}
	for maxSteps == 0 || report.Executed < maxSteps {
		if report.Executed%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return report, err
			}
		}
		res := d.step()
		report.Executed++
		if res.Outcome != Continue {
			report.Outcome = res.Outcome
			report.Fault = res.Fault
			break
		}
	}
	return report, nil
}

func (d *Debugger) step() StepResult {
	res := d.machine.Step()
	switch res.Outcome {
	case Halted:
		d.state = StateHalted
		log.Debugf("%s halted", d.name)
	case Faulted:
		d.state = StateHalted
		log.Noticef("%s faulted: %v", d.name, res.Fault)
	}
	return res
}

// Jump moves the program counter to the 1-based instruction index without
// executing anything.
func (d *Debugger) Jump(index int) error {
	if err := d.requireRunning(); err != nil {
		return err
	}
	if n := d.program.Len(); index < 1 || index > n {
		return usageErrorf("%d: Not in range of program's instructions [1..%d]", index, n)
	}
	d.machine.SetPC(index - 1)
	return nil
}

// DataPointer returns the data pointer.
func (d *Debugger) DataPointer() (int, error) {
	if err := d.requireRunning(); err != nil {
		return 0, err
	}
	return d.machine.Pointer(), nil
}

// Print returns the value of tape cell index.
func (d *Debugger) Print(index int) (CellView, error) {
	if err := d.requireRunning(); err != nil {
		return CellView{}, err
	}
	if n := d.machine.TapeSize(); index < 0 || index >= n {
		return CellView{}, usageErrorf("%d: Not in range [0..%d).", index, n)
	}
	return CellView{Index: index, Value: d.machine.Cell(index)}, nil
}

// PrintCurrent returns the value of the cell under the data pointer.
func (d *Debugger) PrintCurrent() (CellView, error) {
	if err := d.requireRunning(); err != nil {
		return CellView{}, err
	}
	return d.Print(d.machine.Pointer())
}

// Tape returns the cells around the data pointer.
func (d *Debugger) Tape() (TapeWindow, error) {
	if err := d.requireRunning(); err != nil {
		return TapeWindow{}, err
	}
	return tapeWindow(d.machine), nil
}

// Set overwrites the current cell.
func (d *Debugger) Set(value int) error {
	if err := d.requireRunning(); err != nil {
		return err
	}
	if maxv := int(d.machine.CellMax()); value < 0 || value > maxv {
		return usageErrorf("%d: Not in range [0..%d].", value, maxv)
	}
	d.machine.SetCell(d.machine.Pointer(), uint16(value))
	return nil
}

// Current returns the instruction at the program counter while running.
func (d *Debugger) Current() (Location, bool) {
	if d.state != StateRunning {
		return Location{}, false
	}
	pc := d.machine.PC()
	return Location{Index: pc, Op: d.machine.Current().Op(), Pos: d.program.Position(pc)}, true
}

// Listing disassembles radius instructions either side of the program
// counter, or of the start of the program when not running.
func (d *Debugger) Listing(radius int) ([]string, error) {
	if d.state == StateUnloaded {
		return nil, ErrNotLoaded
	}
	if radius < 0 {
		return nil, usageErrorf("%d: Not a valid listing radius", radius)
	}
	center := 0
	if d.state == StateRunning {
		center = d.machine.PC()
	}
	return d.program.DisassembleRange(center-radius, center+radius+1), nil
}
