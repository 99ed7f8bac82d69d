// Package server exposes bfdb debugging sessions over Connect and gRPC,
// and brainfuck editor support over LSP.
package server

import (
	"net/http"

	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/bfdb/vm"
)

var log = commonlog.GetLogger("bfdb.server")

// DebugServer serves remote debugging sessions. Connect clients and gRPC
// clients (over plaintext HTTP/2) share the same port.
type DebugServer struct {
	sessions *SessionStore
	mux      *http.ServeMux
	root     string
}

// ServerOption configures a DebugServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxSteps int
	root     string
	vmOpts   []vm.Option
}

// WithMaxSteps bounds the instructions a single Next or Continue call may
// execute. 0 means no bound.
func WithMaxSteps(n int) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// WithRoot allows clients to load programs by path from the directory dir.
// Without it only inline source and images can be loaded.
func WithRoot(dir string) ServerOption {
	return func(c *serverConfig) { c.root = dir }
}

// WithDebuggerOptions sets the options every session's debugger is built
// with.
func WithDebuggerOptions(opts ...vm.Option) ServerOption {
	return func(c *serverConfig) { c.vmOpts = append(c.vmOpts, opts...) }
}

// New creates a DebugServer.
func New(opts ...ServerOption) *DebugServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &DebugServer{
		sessions: NewSessionStore(cfg.vmOpts...),
		mux:      http.NewServeMux(),
		root:     cfg.root,
	}

	svc := NewDebugService(s.sessions, cfg.maxSteps, cfg.root)
	path, handler := svc.Handler()
	s.mux.Handle(path, handler)

	return s
}

// Handler returns the HTTP handler, accepting HTTP/1.1 and h2c.
func (s *DebugServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *DebugServer) ListenAndServe(addr string) error {
	log.Noticef("bfdb debug server listening on %s", addr)
	log.Noticef("  Connect (cbor): http://%s%s", addr, DebugServiceCreateSessionProcedure)
	log.Noticef("  gRPC (cbor):    grpc://%s", addr)
	if s.root != "" {
		log.Noticef("  program root:   %s", s.root)
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	return srv.ListenAndServe()
}

// Stop destroys every session.
func (s *DebugServer) Stop() {
	s.sessions.Close()
}
