package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/vm"
)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateSession_UniqueIDs(t *testing.T) {
	svc := newTestDebugService(0)

	a := newTestSession(t, svc, "", "")
	b := newTestSession(t, svc, "", "")
	if a == "" || a == b {
		t.Errorf("session IDs %q and %q should be distinct and non-empty", a, b)
	}
}

func TestDestroySession(t *testing.T) {
	svc := newTestDebugService(0)

	resp, err := svc.CreateSession(bg(), connectReq(&CreateSessionRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	id := resp.Msg.SessionID

	if _, err := svc.DestroySession(bg(), connectReq(&DestroySessionRequest{SessionID: id})); err != nil {
		t.Fatalf("DestroySession returned error: %v", err)
	}
	if _, ok := testSessions.Get(id); ok {
		t.Error("session should be gone after DestroySession")
	}

	_, err = svc.DestroySession(bg(), connectReq(&DestroySessionRequest{SessionID: id}))
	wantCode(t, err, connect.CodeNotFound)

	_, err = svc.DestroySession(bg(), connectReq(&DestroySessionRequest{}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestUnknownSession(t *testing.T) {
	svc := newTestDebugService(0)

	_, err := svc.Run(bg(), connectReq(&RunRequest{SessionID: "s-nope"}))
	wantCode(t, err, connect.CodeNotFound)
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Inline(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "", "")

	resp, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Source: "++>+<-.", Name: "scenario.b"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resp.Msg.Name != "scenario.b" || resp.Msg.Instructions != 8 {
		t.Errorf("Load = %+v, want scenario.b with 8 instructions", resp.Msg)
	}
}

func TestLoad_Empty(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "", "")

	resp, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resp.Msg.Name != "<inline>" || resp.Msg.Instructions != 1 {
		t.Errorf("Load = %+v, want <inline> with 1 instruction", resp.Msg)
	}
}

func TestLoad_Data(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "", "")

	p, err := bytecode.CompileString("+[-]", bytecode.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	image, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Name: "loop.bfbc", Data: image}))
	if err != nil {
		t.Fatalf("Load(image) returned error: %v", err)
	}
	if resp.Msg.Name != "loop.bfbc" || resp.Msg.Instructions != 5 {
		t.Errorf("Load(image) = %+v, want loop.bfbc with 5 instructions", resp.Msg)
	}

	resp, err = svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Name: "src.b", Data: []byte("++")}))
	if err != nil {
		t.Fatalf("Load(source data) returned error: %v", err)
	}
	if resp.Msg.Instructions != 3 {
		t.Errorf("Instructions = %d, want 3", resp.Msg.Instructions)
	}

	_, err = svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Data: append(append([]byte{}, bytecode.ImageMagic...), 0xff)}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestLoad_Path(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "prog.b"), []byte("+[-]"), 0644); err != nil {
		t.Fatal(err)
	}

	svc := newRootedDebugService(root)
	id := newTestSession(t, svc, "", "")

	resp, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: "sub/prog.b"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resp.Msg.Name != "sub/prog.b" || resp.Msg.Instructions != 5 {
		t.Errorf("Load = %+v, want sub/prog.b with 5 instructions", resp.Msg)
	}
}

func TestLoad_PathNeedsRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.b")
	if err := os.WriteFile(path, []byte("+"), 0644); err != nil {
		t.Fatal(err)
	}

	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "", "")

	_, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: path}))
	wantCode(t, err, connect.CodePermissionDenied)
	if !errors.Is(err, ErrPathNotAllowed) {
		t.Errorf("Load without a root = %v, want ErrPathNotAllowed", err)
	}
}

func TestLoad_PathStaysInRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(dir, "secret.b")
	if err := os.WriteFile(secret, []byte("+"), 0644); err != nil {
		t.Fatal(err)
	}

	svc := newRootedDebugService(root)
	id := newTestSession(t, svc, "", "")

	for _, path := range []string{secret, "../secret.b", "a/../../secret.b"} {
		_, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: path}))
		wantCode(t, err, connect.CodePermissionDenied)
	}

	if err := os.Symlink(secret, filepath.Join(root, "link.b")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: "link.b"}))
	if err == nil {
		t.Error("Load through a symlink out of the root should fail")
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	svc := newRootedDebugService(root)
	id := newTestSession(t, svc, "", "")

	_, err := svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: "missing.b"}))
	wantCode(t, err, connect.CodeNotFound)
	if errors.Is(err, ErrSessionNotFound) {
		t.Error("a missing program should not read as a missing session")
	}

	_, err = svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Path: "dir"}))
	wantCode(t, err, connect.CodeInvalidArgument)

	_, err = svc.Load(bg(), connectReq(&LoadRequest{SessionID: id, Source: "[["}))
	wantCode(t, err, connect.CodeInvalidArgument)

	// A failed load leaves the session unloaded.
	_, err = svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))
	wantCode(t, err, connect.CodeFailedPrecondition)

	_, err = svc.Load(bg(), connectReq(&LoadRequest{SessionID: "s-nope", Source: "+"}))
	wantCode(t, err, connect.CodeNotFound)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load(unknown session) = %v, want ErrSessionNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

func TestNext_Scenario(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "++>+<-.", "")

	if _, err := svc.Run(bg(), connectReq(&RunRequest{SessionID: id})); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 7}))
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if resp.Msg.Executed != 7 || vm.Outcome(resp.Msg.Outcome) != vm.Continue {
		t.Errorf("Next = executed %d outcome %d", resp.Msg.Executed, resp.Msg.Outcome)
	}
	if len(resp.Msg.Output) != 1 || resp.Msg.Output[0] != 1 {
		t.Errorf("Output = %v, want [1]", resp.Msg.Output)
	}
	if len(resp.Msg.Steps) != 7 {
		t.Errorf("Steps has %d entries, want 7", len(resp.Msg.Steps))
	}
	if resp.Msg.State != "running" {
		t.Errorf("State = %q, want running", resp.Msg.State)
	}

	for i, want := range []uint16{1, 1} {
		p, err := svc.Print(bg(), connectReq(&PrintRequest{SessionID: id, Index: i}))
		if err != nil {
			t.Fatal(err)
		}
		if p.Msg.Cell.Value != want {
			t.Errorf("tape[%d] = %d, want %d", i, p.Msg.Cell.Value, want)
		}
	}
}

func TestNext_NotRunning(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "+", "")

	_, err := svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 1}))
	wantCode(t, err, connect.CodeFailedPrecondition)
}

func TestNext_Fault(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "<", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	resp, err := svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 1}))
	if err != nil {
		t.Fatal(err)
	}
	report := resp.Msg.Report()
	if report.Outcome != vm.Faulted || report.Fault == nil {
		t.Fatalf("report = %+v, want fault", report)
	}
	if got, want := report.Fault.Detail(), "At instruction 1 ('<'). $[$ptr: 0]: 0."; got != want {
		t.Errorf("Detail() = %q, want %q", got, want)
	}
}

func TestContinue_Input(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, ",.,.", "hi")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))
	resp, err := svc.Continue(bg(), connectReq(&ContinueRequest{SessionID: id}))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Msg.Output) != "hi" {
		t.Errorf("Output = %q, want %q", resp.Msg.Output, "hi")
	}
	if vm.Outcome(resp.Msg.Outcome) != vm.Halted || resp.Msg.State != "halted" {
		t.Errorf("Continue = %+v, want halted", resp.Msg)
	}
}

func TestContinue_StepBudget(t *testing.T) {
	svc := newTestDebugService(100)
	id := newTestSession(t, svc, "+[]", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	resp, err := svc.Continue(bg(), connectReq(&ContinueRequest{SessionID: id}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.Executed != 100 || vm.Outcome(resp.Msg.Outcome) != vm.Continue {
		t.Errorf("Continue = executed %d outcome %d, want 100 continue", resp.Msg.Executed, resp.Msg.Outcome)
	}
	if resp.Msg.State != "running" {
		t.Errorf("State = %q, want running", resp.Msg.State)
	}
}

func TestNext_StepBudget(t *testing.T) {
	svc := newTestDebugService(100)
	id := newTestSession(t, svc, "+[]", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	resp, err := svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 1 << 30}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.Executed != 100 || vm.Outcome(resp.Msg.Outcome) != vm.Continue {
		t.Errorf("Next = executed %d outcome %d, want 100 continue", resp.Msg.Executed, resp.Msg.Outcome)
	}
	if len(resp.Msg.Steps) != 100 {
		t.Errorf("Steps has %d entries, want 100", len(resp.Msg.Steps))
	}
}

func TestNext_LongTraceIsBounded(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "+[]", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	resp, err := svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 50000}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.Executed != 50000 || len(resp.Msg.Steps) != vm.TraceLimit {
		t.Errorf("Next = executed %d with %d steps, want 50000 with %d", resp.Msg.Executed, len(resp.Msg.Steps), vm.TraceLimit)
	}
}

func TestContinue_SessionsRunIndependently(t *testing.T) {
	svc := newTestDebugService(0)
	busy := newTestSession(t, svc, "+[]", "")
	other := newTestSession(t, svc, "+", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: busy}))

	ctx, cancel := context.WithCancel(bg())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Continue(ctx, connectReq(&ContinueRequest{SessionID: busy}))
		done <- err
	}()

	answered := make(chan error, 1)
	go func() {
		_, err := svc.State(bg(), connectReq(&StateRequest{SessionID: other}))
		answered <- err
	}()
	select {
	case err := <-answered:
		if err != nil {
			t.Errorf("State on the idle session returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("State on one session waited for another session's Continue")
	}

	cancel()
	select {
	case err := <-done:
		wantCode(t, err, connect.CodeCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Continue did not stop when its context was cancelled")
	}

	// The interrupted run is still live.
	st, err := svc.State(bg(), connectReq(&StateRequest{SessionID: busy}))
	if err != nil {
		t.Fatal(err)
	}
	if st.Msg.State != "running" {
		t.Errorf("State = %q, want running", st.Msg.State)
	}
}

func TestContinue_Deadline(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "+[]", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Continue(ctx, connectReq(&ContinueRequest{SessionID: id}))
	wantCode(t, err, connect.CodeDeadlineExceeded)
}

func TestDestroyedSessionStopsWorker(t *testing.T) {
	sessions := NewSessionStore()
	sess := sessions.Create("w", "")
	sessions.Destroy(sess.ID)

	if err := sess.worker.Do(func() error { return nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do on a destroyed session's worker = %v, want ErrWorkerStopped", err)
	}
	sessions.Close()
}

func TestJump(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, "+>+.", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))

	if _, err := svc.Jump(bg(), connectReq(&JumpRequest{SessionID: id, Index: 3})); err != nil {
		t.Fatal(err)
	}
	st, err := svc.State(bg(), connectReq(&StateRequest{SessionID: id}))
	if err != nil {
		t.Fatal(err)
	}
	if st.Msg.PC != 2 || st.Msg.Line != 1 || st.Msg.Column != 3 {
		t.Errorf("State = %+v, want pc 2 at 1:3", st.Msg)
	}

	_, err = svc.Jump(bg(), connectReq(&JumpRequest{SessionID: id, Index: 99}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

func TestInspection(t *testing.T) {
	svc := newTestDebugService(0)
	id := newTestSession(t, svc, ">>+", "")
	svc.Run(bg(), connectReq(&RunRequest{SessionID: id}))
	svc.Next(bg(), connectReq(&NextRequest{SessionID: id, Count: 3}))

	dp, err := svc.DataPointer(bg(), connectReq(&DataPointerRequest{SessionID: id}))
	if err != nil || dp.Msg.Pointer != 2 {
		t.Errorf("DataPointer = %v, %v; want 2", dp, err)
	}

	if _, err := svc.Set(bg(), connectReq(&SetRequest{SessionID: id, Value: 'A'})); err != nil {
		t.Fatal(err)
	}
	p, err := svc.Print(bg(), connectReq(&PrintRequest{SessionID: id, Current: true}))
	if err != nil || p.Msg.Cell.Index != 2 || p.Msg.Cell.Value != 'A' {
		t.Errorf("Print(current) = %+v, %v", p, err)
	}

	tape, err := svc.Tape(bg(), connectReq(&TapeRequest{SessionID: id}))
	if err != nil {
		t.Fatal(err)
	}
	w := tape.Msg.Window()
	if w.Pointer != 2 || len(w.Cells) != 7 {
		t.Errorf("Tape = %+v, want 7 cells around 2", w)
	}

	_, err = svc.Set(bg(), connectReq(&SetRequest{SessionID: id, Value: -3}))
	wantCode(t, err, connect.CodeInvalidArgument)

	_, err = svc.Print(bg(), connectReq(&PrintRequest{SessionID: id, Index: -1}))
	wantCode(t, err, connect.CodeInvalidArgument)

	list, err := svc.List(bg(), connectReq(&ListRequest{SessionID: id, Radius: 1}))
	if err != nil || len(list.Msg.Lines) != 2 {
		t.Errorf("List = %v, %v; want 2 lines at the end of the program", list, err)
	}
}
