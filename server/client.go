package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/vm"
)

// Client drives one remote session with the same methods as vm.Debugger,
// so a front end can use either. Program output returned by the server is
// written to the client's writer.
type Client struct {
	ctx       context.Context
	sessionID string
	out       io.Writer

	createSession  *connect.Client[CreateSessionRequest, CreateSessionResponse]
	destroySession *connect.Client[DestroySessionRequest, DestroySessionResponse]
	load           *connect.Client[LoadRequest, LoadResponse]
	run            *connect.Client[RunRequest, RunResponse]
	next           *connect.Client[NextRequest, StepResponse]
	jump           *connect.Client[JumpRequest, JumpResponse]
	cont           *connect.Client[ContinueRequest, StepResponse]
	dataPointer    *connect.Client[DataPointerRequest, DataPointerResponse]
	print          *connect.Client[PrintRequest, PrintResponse]
	tape           *connect.Client[TapeRequest, TapeResponse]
	set            *connect.Client[SetRequest, SetResponse]
	state          *connect.Client[StateRequest, StateResponse]
	list           *connect.Client[ListRequest, ListResponse]
}

// NewClient creates a client for the server at baseURL. Call Open before
// any other method.
func NewClient(httpClient connect.HTTPClient, baseURL string, out io.Writer, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	if out == nil {
		out = io.Discard
	}
	return &Client{
		ctx:            context.Background(),
		out:            out,
		createSession:  connect.NewClient[CreateSessionRequest, CreateSessionResponse](httpClient, baseURL+DebugServiceCreateSessionProcedure, opts...),
		destroySession: connect.NewClient[DestroySessionRequest, DestroySessionResponse](httpClient, baseURL+DebugServiceDestroySessionProcedure, opts...),
		load:           connect.NewClient[LoadRequest, LoadResponse](httpClient, baseURL+DebugServiceLoadProcedure, opts...),
		run:            connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+DebugServiceRunProcedure, opts...),
		next:           connect.NewClient[NextRequest, StepResponse](httpClient, baseURL+DebugServiceNextProcedure, opts...),
		jump:           connect.NewClient[JumpRequest, JumpResponse](httpClient, baseURL+DebugServiceJumpProcedure, opts...),
		cont:           connect.NewClient[ContinueRequest, StepResponse](httpClient, baseURL+DebugServiceContinueProcedure, opts...),
		dataPointer:    connect.NewClient[DataPointerRequest, DataPointerResponse](httpClient, baseURL+DebugServiceDataPointerProcedure, opts...),
		print:          connect.NewClient[PrintRequest, PrintResponse](httpClient, baseURL+DebugServicePrintProcedure, opts...),
		tape:           connect.NewClient[TapeRequest, TapeResponse](httpClient, baseURL+DebugServiceTapeProcedure, opts...),
		set:            connect.NewClient[SetRequest, SetResponse](httpClient, baseURL+DebugServiceSetProcedure, opts...),
		state:          connect.NewClient[StateRequest, StateResponse](httpClient, baseURL+DebugServiceStateProcedure, opts...),
		list:           connect.NewClient[ListRequest, ListResponse](httpClient, baseURL+DebugServiceListProcedure, opts...),
	}
}

// Open creates the remote session. ctx is used for every later call.
func (c *Client) Open(ctx context.Context, name, input string) error {
	resp, err := c.createSession.CallUnary(ctx, connect.NewRequest(&CreateSessionRequest{Name: name, Input: input}))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.ctx = ctx
	c.sessionID = resp.Msg.SessionID
	return nil
}

// SessionID returns the remote session ID.
func (c *Client) SessionID() string { return c.sessionID }

// Close destroys the remote session.
func (c *Client) Close() error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.destroySession.CallUnary(c.ctx, connect.NewRequest(&DestroySessionRequest{SessionID: c.sessionID}))
	c.sessionID = ""
	return err
}

// fromConnectError maps Connect errors back to the debugger's errors.
func fromConnectError(err error) error {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code() {
	case connect.CodeFailedPrecondition:
		if ce.Message() == vm.ErrNotLoaded.Error() {
			return vm.ErrNotLoaded
		}
		return vm.ErrNotRunning
	case connect.CodeInvalidArgument:
		return &vm.UsageError{Msg: ce.Message()}
	case connect.CodeNotFound:
		if msg, ok := strings.CutPrefix(ce.Message(), ErrSessionNotFound.Error()); ok {
			return fmt.Errorf("%w%s", ErrSessionNotFound, msg)
		}
	}
	return err
}

// loadError maps a failed Load call. Rejected programs come back as a
// *vm.LoadError carrying the server's message.
func loadError(name string, err error) error {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return &vm.LoadError{Path: name, Err: err}
	}
	switch ce.Code() {
	case connect.CodeInvalidArgument:
		msg := strings.TrimPrefix(ce.Message(), "load "+name+": ")
		return &vm.LoadError{Path: name, Err: errors.New(msg)}
	case connect.CodeNotFound:
		if err := fromConnectError(err); errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	return &vm.LoadError{Path: name, Err: err}
}

// Load reads a source file or image on the client side and loads it into
// the remote session under path.
func (c *Client) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &vm.LoadError{Path: path, Err: err}
	}
	_, err = c.load.CallUnary(c.ctx, connect.NewRequest(&LoadRequest{SessionID: c.sessionID, Name: path, Data: data}))
	if err != nil {
		return loadError(path, err)
	}
	return nil
}

// LoadSource compiles source on the server under name.
func (c *Client) LoadSource(name, source string) error {
	_, err := c.load.CallUnary(c.ctx, connect.NewRequest(&LoadRequest{SessionID: c.sessionID, Name: name, Source: source}))
	if err != nil {
		return loadError(name, err)
	}
	return nil
}

func (c *Client) Run() error {
	_, err := c.run.CallUnary(c.ctx, connect.NewRequest(&RunRequest{SessionID: c.sessionID}))
	if err != nil {
		return fromConnectError(err)
	}
	return nil
}

func (c *Client) stepped(resp *connect.Response[StepResponse], err error) (vm.StepReport, error) {
	if err != nil {
		return vm.StepReport{}, fromConnectError(err)
	}
	if len(resp.Msg.Output) > 0 {
		c.out.Write(resp.Msg.Output)
	}
	return resp.Msg.Report(), nil
}

func (c *Client) Next(count int) (vm.StepReport, error) {
	return c.stepped(c.next.CallUnary(c.ctx, connect.NewRequest(&NextRequest{SessionID: c.sessionID, Count: count})))
}

func (c *Client) Continue() (vm.StepReport, error) {
	return c.stepped(c.cont.CallUnary(c.ctx, connect.NewRequest(&ContinueRequest{SessionID: c.sessionID})))
}

func (c *Client) Jump(index int) error {
	_, err := c.jump.CallUnary(c.ctx, connect.NewRequest(&JumpRequest{SessionID: c.sessionID, Index: index}))
	if err != nil {
		return fromConnectError(err)
	}
	return nil
}

func (c *Client) DataPointer() (int, error) {
	resp, err := c.dataPointer.CallUnary(c.ctx, connect.NewRequest(&DataPointerRequest{SessionID: c.sessionID}))
	if err != nil {
		return 0, fromConnectError(err)
	}
	return resp.Msg.Pointer, nil
}

func (c *Client) printCell(req *PrintRequest) (vm.CellView, error) {
	req.SessionID = c.sessionID
	resp, err := c.print.CallUnary(c.ctx, connect.NewRequest(req))
	if err != nil {
		return vm.CellView{}, fromConnectError(err)
	}
	return vm.CellView{Index: resp.Msg.Cell.Index, Value: resp.Msg.Cell.Value}, nil
}

func (c *Client) Print(index int) (vm.CellView, error) {
	return c.printCell(&PrintRequest{Index: index})
}

func (c *Client) PrintCurrent() (vm.CellView, error) {
	return c.printCell(&PrintRequest{Current: true})
}

func (c *Client) Tape() (vm.TapeWindow, error) {
	resp, err := c.tape.CallUnary(c.ctx, connect.NewRequest(&TapeRequest{SessionID: c.sessionID}))
	if err != nil {
		return vm.TapeWindow{}, fromConnectError(err)
	}
	return resp.Msg.Window(), nil
}

func (c *Client) Set(value int) error {
	_, err := c.set.CallUnary(c.ctx, connect.NewRequest(&SetRequest{SessionID: c.sessionID, Value: value}))
	if err != nil {
		return fromConnectError(err)
	}
	return nil
}

func (c *Client) Listing(radius int) ([]string, error) {
	resp, err := c.list.CallUnary(c.ctx, connect.NewRequest(&ListRequest{SessionID: c.sessionID, Radius: radius}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Lines, nil
}

func (c *Client) remoteState() (*StateResponse, error) {
	resp, err := c.state.CallUnary(c.ctx, connect.NewRequest(&StateRequest{SessionID: c.sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// State returns the remote session state, or StateUnloaded if the server
// cannot be reached.
func (c *Client) State() vm.State {
	st, err := c.remoteState()
	if err != nil {
		log.Warningf("state: %v", err)
		return vm.StateUnloaded
	}
	return parseState(st.State)
}

// Current returns the remote instruction at the program counter while
// running.
func (c *Client) Current() (vm.Location, bool) {
	st, err := c.remoteState()
	if err != nil {
		log.Warningf("state: %v", err)
		return vm.Location{}, false
	}
	if parseState(st.State) != vm.StateRunning {
		return vm.Location{}, false
	}
	return vm.Location{
		Index: st.PC,
		Op:    bytecode.Opcode(st.Op),
		Pos:   bytecode.Position{Line: st.Line, Column: st.Column},
	}, true
}
