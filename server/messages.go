package server

import (
	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/vm"
)

// Procedure paths for the debug service.
const (
	DebugServiceName = "bfdb.v1.DebugService"

	DebugServiceCreateSessionProcedure  = "/bfdb.v1.DebugService/CreateSession"
	DebugServiceDestroySessionProcedure = "/bfdb.v1.DebugService/DestroySession"
	DebugServiceLoadProcedure           = "/bfdb.v1.DebugService/Load"
	DebugServiceRunProcedure            = "/bfdb.v1.DebugService/Run"
	DebugServiceNextProcedure           = "/bfdb.v1.DebugService/Next"
	DebugServiceJumpProcedure           = "/bfdb.v1.DebugService/Jump"
	DebugServiceContinueProcedure       = "/bfdb.v1.DebugService/Continue"
	DebugServiceDataPointerProcedure    = "/bfdb.v1.DebugService/DataPointer"
	DebugServicePrintProcedure          = "/bfdb.v1.DebugService/Print"
	DebugServiceTapeProcedure           = "/bfdb.v1.DebugService/Tape"
	DebugServiceSetProcedure            = "/bfdb.v1.DebugService/Set"
	DebugServiceStateProcedure          = "/bfdb.v1.DebugService/State"
	DebugServiceListProcedure           = "/bfdb.v1.DebugService/List"
)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type CreateSessionRequest struct {
	Name  string `cbor:"1,keyasint,omitempty"`
	Input string `cbor:"2,keyasint,omitempty"` // bytes the program reads with ','
}

type CreateSessionResponse struct {
	SessionID string `cbor:"1,keyasint"`
}

type DestroySessionRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type DestroySessionResponse struct{}

// ---------------------------------------------------------------------------
// Loading and running
// ---------------------------------------------------------------------------

// LoadRequest loads a file under the server's program root when Path is
// set. Otherwise it loads Data, the contents of a source file or a BFBC
// image, or else compiles Source, under Name.
type LoadRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Path      string `cbor:"2,keyasint,omitempty"`
	Source    string `cbor:"3,keyasint,omitempty"`
	Name      string `cbor:"4,keyasint,omitempty"`
	Data      []byte `cbor:"5,keyasint,omitempty"`
}

type LoadResponse struct {
	Name         string `cbor:"1,keyasint"`
	Instructions int    `cbor:"2,keyasint"`
}

type RunRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type RunResponse struct {
	State string `cbor:"1,keyasint"`
}

type NextRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Count     int    `cbor:"2,keyasint"`
}

type ContinueRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

// Step is one executed instruction.
type Step struct {
	Index   int    `cbor:"1,keyasint"`
	Op      uint8  `cbor:"2,keyasint"`
	Pointer int    `cbor:"3,keyasint"`
	Cell    uint16 `cbor:"4,keyasint"`
}

// Fault is a run-time error.
type Fault struct {
	Overflow bool   `cbor:"1,keyasint"`
	PC       int    `cbor:"2,keyasint"`
	Op       uint8  `cbor:"3,keyasint"`
	Ptr      int    `cbor:"4,keyasint"`
	Cell     uint16 `cbor:"5,keyasint"`
	Limit    int    `cbor:"6,keyasint"`
}

// StepResponse answers Next and Continue. Output is what the program wrote
// during the call.
type StepResponse struct {
	Executed int    `cbor:"1,keyasint"`
	Outcome  int    `cbor:"2,keyasint"`
	Fault    *Fault `cbor:"3,keyasint,omitempty"`
	Steps    []Step `cbor:"4,keyasint,omitempty"`
	Output   []byte `cbor:"5,keyasint,omitempty"`
	State    string `cbor:"6,keyasint"`
}

type JumpRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Index     int    `cbor:"2,keyasint"`
}

type JumpResponse struct{}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

type DataPointerRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type DataPointerResponse struct {
	Pointer int `cbor:"1,keyasint"`
}

// PrintRequest reads cell Index, or the current cell when Current is set.
type PrintRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Index     int    `cbor:"2,keyasint"`
	Current   bool   `cbor:"3,keyasint,omitempty"`
}

type Cell struct {
	Index int    `cbor:"1,keyasint"`
	Value uint16 `cbor:"2,keyasint"`
}

type PrintResponse struct {
	Cell Cell `cbor:"1,keyasint"`
}

type TapeRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type TapeResponse struct {
	Pointer int    `cbor:"1,keyasint"`
	Cells   []Cell `cbor:"2,keyasint"`
}

type SetRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Value     int    `cbor:"2,keyasint"`
}

type SetResponse struct{}

type StateRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

// StateResponse describes the session. PC, Op, Line and Column are only
// meaningful while running.
type StateResponse struct {
	State        string `cbor:"1,keyasint"`
	Name         string `cbor:"2,keyasint,omitempty"`
	Instructions int    `cbor:"3,keyasint,omitempty"`
	PC           int    `cbor:"4,keyasint"`
	Op           uint8  `cbor:"5,keyasint"`
	Line         int    `cbor:"6,keyasint"`
	Column       int    `cbor:"7,keyasint"`
}

type ListRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Radius    int    `cbor:"2,keyasint"`
}

type ListResponse struct {
	Lines []string `cbor:"1,keyasint"`
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func stepResponse(r vm.StepReport, state vm.State, output []byte) *StepResponse {
	resp := &StepResponse{
		Executed: r.Executed,
		Outcome:  int(r.Outcome),
		Output:   output,
		State:    state.String(),
	}
	if r.Fault != nil {
		resp.Fault = &Fault{
			Overflow: r.Fault.Kind == vm.ErrPointerOverflow,
			PC:       r.Fault.PC,
			Op:       uint8(r.Fault.Op),
			Ptr:      r.Fault.Ptr,
			Cell:     r.Fault.Cell,
			Limit:    r.Fault.Limit,
		}
	}
	for _, s := range r.Steps {
		resp.Steps = append(resp.Steps, Step{Index: s.Index, Op: uint8(s.Op), Pointer: s.Pointer, Cell: s.Cell})
	}
	return resp
}

// Report converts the response back into a vm.StepReport.
func (r *StepResponse) Report() vm.StepReport {
	report := vm.StepReport{
		Executed: r.Executed,
		Outcome:  vm.Outcome(r.Outcome),
	}
	if f := r.Fault; f != nil {
		kind := vm.ErrPointerUnderflow
		if f.Overflow {
			kind = vm.ErrPointerOverflow
		}
		report.Fault = &vm.RuntimeError{
			Kind:  kind,
			PC:    f.PC,
			Op:    bytecode.Opcode(f.Op),
			Ptr:   f.Ptr,
			Cell:  f.Cell,
			Limit: f.Limit,
		}
	}
	for _, s := range r.Steps {
		report.Steps = append(report.Steps, vm.StepEvent{Index: s.Index, Op: bytecode.Opcode(s.Op), Pointer: s.Pointer, Cell: s.Cell})
	}
	return report
}

func tapeResponse(w vm.TapeWindow) *TapeResponse {
	resp := &TapeResponse{Pointer: w.Pointer}
	for _, c := range w.Cells {
		resp.Cells = append(resp.Cells, Cell{Index: c.Index, Value: c.Value})
	}
	return resp
}

// Window converts the response back into a vm.TapeWindow.
func (r *TapeResponse) Window() vm.TapeWindow {
	w := vm.TapeWindow{Pointer: r.Pointer}
	for _, c := range r.Cells {
		w.Cells = append(w.Cells, vm.CellView{Index: c.Index, Value: c.Value})
	}
	return w
}

// parseState maps a State string back to a vm.State.
func parseState(s string) vm.State {
	for _, st := range []vm.State{vm.StateUnloaded, vm.StateLoaded, vm.StateRunning, vm.StateHalted} {
		if st.String() == s {
			return st
		}
	}
	return vm.StateUnloaded
}
