package server

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/milan/compiler"
	"github.com/chazu/milan/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "milan-lsp"

// RunCommand executes the program in a document. Arguments: the document
// URI and an optional string of whitespace-separated input values.
const RunCommand = "milan.run"

var log = commonlog.GetLogger("milan.server")

// Options configure the language server.
type Options struct {
	Compiler compiler.Options

	// MaxSteps bounds RunCommand executions.
	MaxSteps int

	// RunTimeout cancels RunCommand executions that take too long.
	RunTimeout time.Duration
}

// document is an open text document and what the last compilation
// learned about it.
type document struct {
	text  string
	diags compiler.ErrorList
	vars  []string
	prog  *vm.Program
}

// LspServer provides diagnostics, completion, hover, definition and a
// run command for Milan source files.
type LspServer struct {
	opts   Options
	worker *Worker

	mu   sync.Mutex
	docs map[string]*document // URI → latest analysis

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP(opts Options) *LspServer {
	if opts.RunTimeout == 0 {
		opts.RunTimeout = 10 * time.Second
	}
	interp := vm.NewInterpreter(strings.NewReader(""), &bytes.Buffer{})
	interp.MaxSteps = opts.MaxSteps

	s := &LspServer{
		opts:    opts,
		worker:  NewWorker(interp),
		docs:    make(map[string]*document),
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

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,

		WorkspaceExecuteCommand: s.workspaceExecuteCommand,
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
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{RunCommand},
	}

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
	doc := s.update(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update recompiles text and stores the result for uri.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	doc := analyze(text, s.opts.Compiler)

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()

	log.Debugf("%s: %d diagnostics, %d variables", uri, len(doc.diags), len(doc.vars))
	return doc
}

func (s *LspServer) lookup(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// analyze compiles text and records diagnostics and variables.
func analyze(text string, opts compiler.Options) *document {
	res, _ := compiler.Compile(text, opts)
	return &document{
		text:  text,
		diags: res.Diagnostics,
		vars:  res.Variables,
		prog:  res.Program,
	}
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.lookup(uri)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" || compiler.IsKeyword(word) {
		return nil, nil
	}

	loc, ok := definition(doc.text, word)
	if !ok {
		return nil, nil
	}
	loc.URI = uri
	return []protocol.Location{loc}, nil
}

func (s *LspServer) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	if params.Command != RunCommand {
		return nil, fmt.Errorf("unknown command %q", params.Command)
	}
	if len(params.Arguments) == 0 {
		return nil, fmt.Errorf("%s: missing document URI", RunCommand)
	}
	uri, ok := params.Arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s: document URI must be a string", RunCommand)
	}
	input := ""
	if len(params.Arguments) > 1 {
		input, _ = params.Arguments[1].(string)
	}

	doc := s.lookup(protocol.DocumentUri(uri))
	if doc == nil {
		return nil, fmt.Errorf("%s: document %s is not open", RunCommand, uri)
	}
	return s.run(doc, input)
}

// run executes a document's program on the worker and returns its output.
func (s *LspServer) run(doc *document, input string) (string, error) {
	if doc.prog == nil {
		return "", fmt.Errorf("%s: program has %d errors", RunCommand, len(doc.diags))
	}

	result, err := s.worker.Do(func(interp *vm.Interpreter) interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
		defer cancel()

		var out bytes.Buffer
		interp.SetIO(strings.NewReader(input), &out)
		if err := interp.Run(ctx, doc.prog); err != nil {
			return fmt.Errorf("%s%w", out.String(), err)
		}
		return out.String()
	})
	if err != nil {
		return "", err
	}
	if runErr, ok := result.(error); ok {
		return "", runErr
	}
	return result.(string), nil
}

// complete offers keywords and the document's variables starting with
// prefix. Keywords match case-insensitively.
func complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, kw := range compiler.Keywords() {
		if strings.HasPrefix(kw, lowerPrefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "keyword"
			kwCopy := kw
			items = append(items, protocol.CompletionItem{
				Label:      kw,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &kwCopy,
			})
		}
	}

	vars := append([]string(nil), doc.vars...)
	sort.Strings(vars)
	for _, name := range vars {
		if name == prefix || !strings.HasPrefix(name, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		detail := "variable"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	return items
}

// keywordRules documents each keyword by the rule it introduces.
var keywordRules = map[string]string{
	"begin":    "program := `begin` stmtList `end`",
	"end":      "program := `begin` stmtList `end`",
	"if":       "`if` boolExpr `then` stmtList [`else` stmtList] `fi`",
	"then":     "`if` boolExpr `then` stmtList [`else` stmtList] `fi`",
	"else":     "`if` boolExpr `then` stmtList [`else` stmtList] `fi`",
	"fi":       "`if` boolExpr `then` stmtList [`else` stmtList] `fi`",
	"while":    "`while` relation `do` stmtList `od`",
	"do":       "`while` relation `do` stmtList `od`",
	"od":       "`while` relation `do` stmtList `od`",
	"write":    "`write` `(` expr `)` prints the value on its own line",
	"read":     "`read` reads one integer from input",
	"break":    "`break` leaves the innermost loop",
	"continue": "`continue` re-tests the innermost loop condition",
	"true":     "boolean literal, pushes 1",
	"false":    "boolean literal, pushes 0",
}

func hover(doc *document, word string) *protocol.Hover {
	var value string

	if compiler.IsKeyword(word) {
		kw := strings.ToLower(word)
		value = fmt.Sprintf("**%s**\n\n%s", kw, keywordRules[kw])
	} else {
		slot := -1
		for i, name := range doc.vars {
			if name == word {
				slot = i
				break
			}
		}
		if slot < 0 {
			return nil
		}
		value = fmt.Sprintf("**%s**\n\nvariable, slot %d of %d", word, slot, len(doc.vars))
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// definition locates the first occurrence of variable name, which is
// where it is allocated a slot.
func definition(text, name string) (protocol.Location, bool) {
	lines := strings.Split(text, "\n")
	for _, tok := range compiler.Tokenize(text) {
		if tok.Type != compiler.TokenIdentifier || tok.Text != name {
			continue
		}
		line := tok.Line - 1
		if line < 0 || line >= len(lines) {
			return protocol.Location{}, false
		}
		col := findWord(lines[line], name)
		if col < 0 {
			return protocol.Location{}, false
		}
		return protocol.Location{
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(line), Character: uint32(col)},
				End:   protocol.Position{Line: uint32(line), Character: uint32(col + len(name))},
			},
		}, true
	}
	return protocol.Location{}, false
}

// findWord returns the column of the first whole-word occurrence of word
// in line, or -1.
func findWord(line, word string) int {
	for from := 0; from <= len(line)-len(word); {
		i := strings.Index(line[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isWordChar(rune(line[i-1]))) && (end == len(line) || !isWordChar(rune(line[end]))) {
			return i
		}
		from = i + 1
	}
	return -1
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toDiagnostics(doc.text, doc.diags),
	})
}

// toDiagnostics converts compile errors to LSP diagnostics spanning the
// whole reported line.
func toDiagnostics(text string, list compiler.ErrorList) []protocol.Diagnostic {
	lines := strings.Split(text, "\n")
	diagnostics := []protocol.Diagnostic{}
	for _, d := range list {
		line := d.Line - 1
		if line >= len(lines) {
			line = len(lines) - 1
		}
		if line < 0 {
			line = 0
		}
		width := len(strings.TrimRight(lines[line], "\r"))

		severity := protocol.DiagnosticSeverityError
		source := lspName
		code := d.Kind.String()
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(line), Character: 0},
				End:   protocol.Position{Line: uint32(line), Character: uint32(width)},
			},
			Severity: &severity,
			Code:     &protocol.IntegerOrString{Value: code},
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diagnostics
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
