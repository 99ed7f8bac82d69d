package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/vm"
)

var (
	// ErrSessionNotFound is returned for a session ID the server does not
	// know, including one that has been destroyed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPathNotAllowed is returned for a Load by path outside the
	// server's program root, or when no root is configured.
	ErrPathNotAllowed = errors.New("load by path not allowed")
)

// DebugService implements the bfdb.v1.DebugService Connect/gRPC handlers.
type DebugService struct {
	sessions *SessionStore
	maxSteps int
	root     string
}

// NewDebugService creates a DebugService. maxSteps bounds each Next and
// Continue call; 0 means no bound. Loads by path are resolved inside root
// and refused when root is empty.
func NewDebugService(sessions *SessionStore, maxSteps int, root string) *DebugService {
	return &DebugService{
		sessions: sessions,
		maxSteps: maxSteps,
		root:     root,
	}
}

// Handler returns the path prefix and handler serving every procedure.
func (s *DebugService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(DebugServiceCreateSessionProcedure, connect.NewUnaryHandler(DebugServiceCreateSessionProcedure, s.CreateSession, opts...))
	mux.Handle(DebugServiceDestroySessionProcedure, connect.NewUnaryHandler(DebugServiceDestroySessionProcedure, s.DestroySession, opts...))
	mux.Handle(DebugServiceLoadProcedure, connect.NewUnaryHandler(DebugServiceLoadProcedure, s.Load, opts...))
	mux.Handle(DebugServiceRunProcedure, connect.NewUnaryHandler(DebugServiceRunProcedure, s.Run, opts...))
	mux.Handle(DebugServiceNextProcedure, connect.NewUnaryHandler(DebugServiceNextProcedure, s.Next, opts...))
	mux.Handle(DebugServiceJumpProcedure, connect.NewUnaryHandler(DebugServiceJumpProcedure, s.Jump, opts...))
	mux.Handle(DebugServiceContinueProcedure, connect.NewUnaryHandler(DebugServiceContinueProcedure, s.Continue, opts...))
	mux.Handle(DebugServiceDataPointerProcedure, connect.NewUnaryHandler(DebugServiceDataPointerProcedure, s.DataPointer, opts...))
	mux.Handle(DebugServicePrintProcedure, connect.NewUnaryHandler(DebugServicePrintProcedure, s.Print, opts...))
	mux.Handle(DebugServiceTapeProcedure, connect.NewUnaryHandler(DebugServiceTapeProcedure, s.Tape, opts...))
	mux.Handle(DebugServiceSetProcedure, connect.NewUnaryHandler(DebugServiceSetProcedure, s.Set, opts...))
	mux.Handle(DebugServiceStateProcedure, connect.NewUnaryHandler(DebugServiceStateProcedure, s.State, opts...))
	mux.Handle(DebugServiceListProcedure, connect.NewUnaryHandler(DebugServiceListProcedure, s.List, opts...))
	return "/" + DebugServiceName + "/", mux
}

// withSession runs fn on the named session's worker and maps debugger
// errors to Connect codes.
func (s *DebugService) withSession(ctx context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return sessionNotFound(id)
	}
	if err := session.worker.DoContext(ctx, func() error { return fn(session) }); err != nil {
		if errors.Is(err, ErrWorkerStopped) {
			return sessionNotFound(id)
		}
		return toConnectError(err)
	}
	return nil
}

func sessionNotFound(id string) error {
	return connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %q", ErrSessionNotFound, id))
}

// toConnectError maps debugger errors to Connect error codes.
func toConnectError(err error) error {
	var (
		usage *vm.UsageError
		load  *vm.LoadError
		ce    *bytecode.CompileError
		pe    *fs.PathError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, vm.ErrNotLoaded), errors.Is(err, vm.ErrNotRunning):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &usage):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &load):
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return connect.NewError(connect.CodeNotFound, err)
		case errors.Is(err, fs.ErrPermission):
			return connect.NewError(connect.CodePermissionDenied, err)
		case errors.As(err, &ce), errors.Is(err, bytecode.ErrProgramTooLarge),
			errors.Is(err, bytecode.ErrCorruptImage), errors.Is(err, bytecode.ErrInvalidProgram):
			return connect.NewError(connect.CodeInvalidArgument, err)
		case errors.As(err, &pe):
			// a directory, an invalid name and the like
			return connect.NewError(connect.CodeInvalidArgument, err)
		}
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// CreateSession creates a session with its own debugger.
func (s *DebugService) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[CreateSessionResponse], error) {
	session := s.sessions.Create(req.Msg.Name, req.Msg.Input)
	return connect.NewResponse(&CreateSessionResponse{SessionID: session.ID}), nil
}

// DestroySession discards a session.
func (s *DebugService) DestroySession(
	ctx context.Context,
	req *connect.Request[DestroySessionRequest],
) (*connect.Response[DestroySessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	if !s.sessions.Destroy(req.Msg.SessionID) {
		return nil, sessionNotFound(req.Msg.SessionID)
	}
	return connect.NewResponse(&DestroySessionResponse{}), nil
}

// Load loads a program into the session: a file under the server's
// program root when Path is set, else file Data, else Source. Empty source
// is a valid program.
func (s *DebugService) Load(
	ctx context.Context,
	req *connect.Request[LoadRequest],
) (*connect.Response[LoadResponse], error) {
	msg := req.Msg
	if msg.Path != "" {
		if err := s.checkPath(msg.Path); err != nil {
			return nil, connect.NewError(connect.CodePermissionDenied, err)
		}
	}

	name := msg.Name
	if name == "" {
		name = "<inline>"
	}

	resp := &LoadResponse{}
	err := s.withSession(ctx, msg.SessionID, func(sess *Session) error {
		d := sess.Debugger
		var err error
		switch {
		case msg.Path != "":
			err = s.loadPath(d, msg.Path)
		case len(msg.Data) > 0:
			err = d.LoadBytes(name, msg.Data)
		default:
			err = d.LoadSource(name, strings.NewReader(msg.Source))
		}
		if err != nil {
			return err
		}
		resp.Name = d.Name()
		resp.Instructions = d.Program().Len()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// checkPath refuses path loads without a program root, and paths that
// would leave it.
func (s *DebugService) checkPath(path string) error {
	if s.root == "" {
		return fmt.Errorf("%w: no program root configured", ErrPathNotAllowed)
	}
	if !fs.ValidPath(path) {
		return fmt.Errorf("%w: %q is not a path inside the program root", ErrPathNotAllowed, path)
	}
	return nil
}

// loadPath loads path, resolved inside the program root. Symbolic links
// may not escape the root either.
func (s *DebugService) loadPath(d *vm.Debugger, path string) error {
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return fmt.Errorf("open program root: %w", err)
	}
	defer root.Close()
	return d.LoadFS(root.FS(), path)
}

// Run starts a fresh run.
func (s *DebugService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	resp := &RunResponse{}
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		if err := sess.Debugger.Run(); err != nil {
			return err
		}
		resp.State = sess.Debugger.State().String()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Next executes up to Count instructions, no more than the step budget.
func (s *DebugService) Next(
	ctx context.Context,
	req *connect.Request[NextRequest],
) (*connect.Response[StepResponse], error) {
	count := req.Msg.Count
	if s.maxSteps > 0 && count > s.maxSteps {
		count = s.maxSteps
	}

	var resp *StepResponse
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		report, err := sess.Debugger.NextContext(ctx, count)
		if err != nil {
			return err
		}
		resp = stepResponse(report, sess.Debugger.State(), sess.drainOutput())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Continue runs until the program stops or the step budget runs out.
func (s *DebugService) Continue(
	ctx context.Context,
	req *connect.Request[ContinueRequest],
) (*connect.Response[StepResponse], error) {
	var resp *StepResponse
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		report, err := sess.Debugger.ContinueContext(ctx, s.maxSteps)
		if err != nil {
			return err
		}
		resp = stepResponse(report, sess.Debugger.State(), sess.drainOutput())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Jump moves the program counter.
func (s *DebugService) Jump(
	ctx context.Context,
	req *connect.Request[JumpRequest],
) (*connect.Response[JumpResponse], error) {
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		return sess.Debugger.Jump(req.Msg.Index)
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&JumpResponse{}), nil
}

// DataPointer returns the data pointer.
func (s *DebugService) DataPointer(
	ctx context.Context,
	req *connect.Request[DataPointerRequest],
) (*connect.Response[DataPointerResponse], error) {
	resp := &DataPointerResponse{}
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		ptr, err := sess.Debugger.DataPointer()
		resp.Pointer = ptr
		return err
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Print returns one tape cell.
func (s *DebugService) Print(
	ctx context.Context,
	req *connect.Request[PrintRequest],
) (*connect.Response[PrintResponse], error) {
	resp := &PrintResponse{}
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		var (
			c   vm.CellView
			err error
		)
		if req.Msg.Current {
			c, err = sess.Debugger.PrintCurrent()
		} else {
			c, err = sess.Debugger.Print(req.Msg.Index)
		}
		resp.Cell = Cell{Index: c.Index, Value: c.Value}
		return err
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Tape returns the cells around the data pointer.
func (s *DebugService) Tape(
	ctx context.Context,
	req *connect.Request[TapeRequest],
) (*connect.Response[TapeResponse], error) {
	var resp *TapeResponse
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		w, err := sess.Debugger.Tape()
		if err != nil {
			return err
		}
		resp = tapeResponse(w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Set overwrites the current cell.
func (s *DebugService) Set(
	ctx context.Context,
	req *connect.Request[SetRequest],
) (*connect.Response[SetResponse], error) {
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		return sess.Debugger.Set(req.Msg.Value)
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&SetResponse{}), nil
}

// State describes the session and, while running, the next instruction.
func (s *DebugService) State(
	ctx context.Context,
	req *connect.Request[StateRequest],
) (*connect.Response[StateResponse], error) {
	resp := &StateResponse{}
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		d := sess.Debugger
		resp.State = d.State().String()
		resp.Name = d.Name()
		if p := d.Program(); p != nil {
			resp.Instructions = p.Len()
		}
		if loc, ok := d.Current(); ok {
			resp.PC = loc.Index
			resp.Op = uint8(loc.Op)
			resp.Line = loc.Pos.Line
			resp.Column = loc.Pos.Column
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// List disassembles the program around the program counter.
func (s *DebugService) List(
	ctx context.Context,
	req *connect.Request[ListRequest],
) (*connect.Response[ListResponse], error) {
	resp := &ListResponse{}
	err := s.withSession(ctx, req.Msg.SessionID, func(sess *Session) error {
		lines, err := sess.Debugger.Listing(req.Msg.Radius)
		resp.Lines = lines
		return err
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}
