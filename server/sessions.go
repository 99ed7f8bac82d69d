package server

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/bfdb/vm"
)

// Session is one remote debugging session. Its debugger and output buffer
// must only be touched on the session's worker goroutine, so a long run in
// one session never holds up another.
type Session struct {
	ID       string
	Name     string
	Debugger *vm.Debugger

	worker *Worker
	output bytes.Buffer
}

// drainOutput returns and clears what the program has written so far.
func (s *Session) drainOutput() []byte {
	if s.output.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.output.Bytes())
	s.output.Reset()
	return out
}

// SessionStore manages debugging sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
	opts     []vm.Option
}

// NewSessionStore creates a session store whose debuggers are built with
// opts.
func NewSessionStore(opts ...vm.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// Create creates a new session. input is everything the program will read
// with ','.
func (s *SessionStore) Create(name, input string) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))

	session := &Session{ID: id, Name: name, worker: NewWorker()}
	opts := append([]vm.Option{}, s.opts...)
	opts = append(opts, vm.WithInput(strings.NewReader(input)), vm.WithOutput(&session.output))
	session.Debugger = vm.NewDebugger(opts...)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	log.Infof("created session %s", id)
	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy removes a session and stops its worker. Reports whether it
// existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.worker.Stop()
		log.Infof("destroyed session %s", id)
	}
	return ok
}

// Close destroys every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.worker.Stop()
	}
	if len(sessions) > 0 {
		log.Infof("closed %d sessions", len(sessions))
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
