package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/bfdb/pkg/bytecode"
)

const lspName = "bfdb-lsp"

var lspLog = commonlog.GetLogger("bfdb.lsp")

// LspServer publishes compile diagnostics for brainfuck documents and
// answers hover and definition requests for instructions and brackets.
type LspServer struct {
	worker *Worker
	limits bytecode.Limits

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates an LSP server compiling documents with limits.
func NewLSP(limits bytecode.Limits) *LspServer {
	s := &LspServer{
		worker:  NewWorker(),
		limits:  limits,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("bfdb LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// compile runs the compiler on the worker goroutine.
func (s *LspServer) compile(text string) (*bytecode.Program, error) {
	var p *bytecode.Program
	err := s.worker.Do(func() error {
		var err error
		p, err = bytecode.CompileString(text, s.limits)
		return err
	})
	return p, err
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	p, err := s.compile(text)
	if err != nil {
		return nil, nil
	}
	return hoverAt(p, text, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	p, err := s.compile(text)
	if err != nil {
		return nil, nil
	}

	match, ok := matchingBracket(p, text, params.Position)
	if !ok {
		return nil, nil
	}
	return protocol.Location{URI: uri, Range: glyphRange(text, match)}, nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	_, err := s.compile(text)
	diagnostics := diagnosticsFor(text, err)
	if len(diagnostics) > 0 {
		lspLog.Debugf("%s: %s", uri, diagnostics[0].Message)
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnosticsFor turns a compile error in text into one error diagnostic
// at its source position.
func diagnosticsFor(text string, err error) []protocol.Diagnostic {
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	d := protocol.Diagnostic{
		Severity: &severity,
		Source:   &source,
		Message:  err.Error(),
	}

	var ce *bytecode.CompileError
	if errors.As(err, &ce) {
		d.Range = glyphRange(text, ce.Pos)
		d.Message = strings.TrimPrefix(ce.Error(), ce.Pos.String()+": ")
	}
	return []protocol.Diagnostic{d}
}

// --- Position helpers ---
//
// Source columns count characters; LSP characters count UTF-16 code units.

// lineOf returns the 1-based line of text, without its newline.
func lineOf(text string, line int) string {
	for ; line > 1; line-- {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return ""
		}
		text = text[i+1:]
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}

// utf16Offset converts a 1-based character column on line to a UTF-16
// offset.
func utf16Offset(line string, column int) protocol.UInteger {
	n := 0
	for _, r := range line {
		if column <= 1 {
			break
		}
		n += utf16.RuneLen(r)
		column--
	}
	return protocol.UInteger(n + max(column-1, 0))
}

// sourceColumn converts a UTF-16 offset on line to a 1-based character
// column. An offset inside a surrogate pair names that character.
func sourceColumn(line string, character protocol.UInteger) int {
	col, n := 1, 0
	for _, r := range line {
		n += utf16.RuneLen(r)
		if protocol.UInteger(n) > character {
			return col
		}
		col++
	}
	return col + int(character) - n
}

// toSource converts a 0-based LSP position in text to a 1-based source
// position.
func toSource(text string, pos protocol.Position) bytecode.Position {
	line := int(pos.Line) + 1
	return bytecode.Position{Line: line, Column: sourceColumn(lineOf(text, line), pos.Character)}
}

// glyphRange is the range of the operator at a 1-based source position in
// text. Operators are ASCII, one code unit wide.
func glyphRange(text string, pos bytecode.Position) protocol.Range {
	line := protocol.UInteger(max(pos.Line-1, 0))
	col := utf16Offset(lineOf(text, pos.Line), pos.Column)
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + 1},
	}
}

// matchingBracket returns the position of the bracket matching the one at
// pos.
func matchingBracket(p *bytecode.Program, text string, pos protocol.Position) (bytecode.Position, bool) {
	i := p.IndexAt(toSource(text, pos))
	if i < 0 {
		return bytecode.Position{}, false
	}
	target, ok := p.At(i).Target()
	if !ok {
		return bytecode.Position{}, false
	}
	return p.Position(target), true
}

// hoverAt describes the instruction under the cursor.
func hoverAt(p *bytecode.Program, text string, pos protocol.Position) *protocol.Hover {
	src := toSource(text, pos)
	i := p.IndexAt(src)
	if i < 0 {
		return nil
	}
	in := p.At(i)

	var sb strings.Builder
	fmt.Fprintf(&sb, "instruction **%d** `%s` (%s)", i+1, in.Op().Glyph(), in.Op())
	if target, ok := in.Target(); ok {
		fmt.Fprintf(&sb, "\n\nmatches instruction **%d** `%s` at %s",
			target+1, p.At(target).Op().Glyph(), p.Position(target))
	}

	r := glyphRange(text, src)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: sb.String(),
		},
		Range: &r,
	}
}

func boolPtr(b bool) *bool {
	return &b
}
