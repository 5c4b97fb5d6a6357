package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gophersatwork/dkit"
	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/afero"
)

// Commands accepted by workspace/executeCommand.
const (
	CommandUpdateIncludePaths = "dkit.updateIncludePaths"
	CommandRestartServer      = "dkit.restartServer"
)

// SettingsLoader reads the current settings for the workspace rooted at
// projectDir.
type SettingsLoader func(projectDir string) (*dkit.Settings, error)

// Server adapts the completion client to the Language Server Protocol.
type Server struct {
	client   *dkit.Client
	project  *dkit.Project
	settings SettingsLoader
	fs       afero.Fs
	logger   *slog.Logger

	docs *DocumentStore
	nav  *dkit.Navigator

	projectDir string
	conn       *jsonrpc2.Conn
}

// NewServer creates a new LSP server. project may be nil, in which case
// include paths come from settings only.
func NewServer(client *dkit.Client, project *dkit.Project, settings SettingsLoader, fs afero.Fs, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if settings == nil {
		settings = func(projectDir string) (*dkit.Settings, error) {
			return dkit.LoadSettings(fs, "", projectDir)
		}
	}

	s := &Server{
		client:   client,
		project:  project,
		settings: settings,
		fs:       fs,
		logger:   logger,
		docs:     NewDocumentStore(),
	}
	s.nav = dkit.NewNavigator(fileLoader{s})
	return s
}

// fileLoader opens files that the editor has not opened by reading them
// from disk in the background.
type fileLoader struct {
	s *Server
}

func (l fileLoader) OpenFile(path string) error {
	if ok, _ := afero.Exists(l.s.fs, path); !ok {
		return dkit.WithFile(dkit.NewFSError("definition target does not exist", nil), path)
	}

	go func() {
		text, err := afero.ReadFile(l.s.fs, path)
		if err != nil {
			l.s.logger.Warn("Failed to load definition target", "path", path, "error", err)
			return
		}
		l.s.nav.Loaded(dkit.View{Path: path, Text: text})
	}()
	return nil
}

// Handle dispatches one JSON-RPC request. It is meant to be wrapped with
// jsonrpc2.HandlerWithError.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	s.conn = conn
	s.logger.Debug("Request received", "method", req.Method)

	switch req.Method {
	case "initialize":
		var params lsp.InitializeParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return s.initialize(params)

	case "initialized", "$/cancelRequest", "workspace/didChangeConfiguration":
		return nil, nil

	case "shutdown":
		return nil, s.shutdown()

	case "exit":
		if conn != nil {
			return nil, conn.Close()
		}
		return nil, nil

	case "textDocument/didOpen":
		var params lsp.DidOpenTextDocumentParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		s.didOpen(params)
		return nil, nil

	case "textDocument/didChange":
		var params lsp.DidChangeTextDocumentParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return nil, s.didChange(params)

	case "textDocument/didClose":
		var params lsp.DidCloseTextDocumentParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		s.didClose(params)
		return nil, nil

	case "textDocument/completion":
		var params lsp.CompletionParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return s.completion(ctx, params)

	case "textDocument/definition":
		var params lsp.TextDocumentPositionParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return s.definition(ctx, params)

	case "textDocument/hover":
		var params lsp.TextDocumentPositionParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return s.hover(ctx, params)

	case "workspace/executeCommand":
		var params lsp.ExecuteCommandParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return nil, s.executeCommand(ctx, params)
	}

	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (s *Server) initialize(params lsp.InitializeParams) (lsp.InitializeResult, error) {
	if params.RootURI != "" {
		if dir, err := uriToPath(params.RootURI); err == nil {
			s.projectDir = dir
		}
	} else if params.RootPath != "" {
		s.projectDir = params.RootPath
	}
	s.logger.Info("Initializing", "root", s.projectDir)

	if settings, err := s.settings(s.projectDir); err != nil {
		s.logger.Warn("Failed to load project settings", "error", err)
	} else {
		s.client.Supervisor().Configure(settings.ServerConfig())
	}

	kind := lsp.TDSKIncremental
	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{Kind: &kind},
			CompletionProvider: &lsp.CompletionOptions{
				TriggerCharacters: []string{".", "("},
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			ExecuteCommandProvider: &lsp.ExecuteCommandOptions{
				Commands: []string{CommandUpdateIncludePaths, CommandRestartServer},
			},
		},
	}, nil
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down completion server")
	return s.client.Supervisor().Shutdown()
}

func (s *Server) didOpen(params lsp.DidOpenTextDocumentParams) {
	s.docs.Open(params.TextDocument.URI, params.TextDocument.Text)
	if path, err := uriToPath(params.TextDocument.URI); err == nil {
		s.nav.Loaded(dkit.View{Path: path, Text: []byte(params.TextDocument.Text)})
	}
}

func (s *Server) didChange(params lsp.DidChangeTextDocumentParams) error {
	text, err := s.docs.Apply(params.TextDocument.URI, params.ContentChanges)
	if err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	if path, err := uriToPath(params.TextDocument.URI); err == nil {
		s.nav.Loaded(dkit.View{Path: path, Text: text})
	}
	return nil
}

func (s *Server) didClose(params lsp.DidCloseTextDocumentParams) {
	s.docs.Close(params.TextDocument.URI)
	if path, err := uriToPath(params.TextDocument.URI); err == nil {
		s.nav.Closed(path)
	}
}

func (s *Server) document(uri lsp.DocumentURI) ([]byte, error) {
	text, ok := s.docs.Get(uri)
	if !ok {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf("document not open: %s", uri)}
	}
	return text, nil
}

func (s *Server) completion(ctx context.Context, params lsp.CompletionParams) (*lsp.CompletionList, error) {
	text, err := s.document(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	cursor := OffsetAt(text, params.Position)
	result, err := s.client.Complete(ctx, dkit.CompletionRequest{
		Source: text,
		Cursor: cursor,
		Prefix: dkit.PrefixAt(text, cursor),
	})
	if err != nil {
		return nil, s.userError(ctx, err)
	}

	return &lsp.CompletionList{Items: completionItems(result)}, nil
}

func (s *Server) definition(ctx context.Context, params lsp.TextDocumentPositionParams) ([]lsp.Location, error) {
	text, err := s.document(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	loc, err := s.client.GotoDefinition(ctx, dkit.DocumentRequest{
		Source:  text,
		Cursors: []int{OffsetAt(text, params.Position)},
	})
	if errors.Is(err, dkit.ErrSymbolNotFound) {
		s.logger.Debug("No definition found", "uri", params.TextDocument.URI)
		return []lsp.Location{}, nil
	}
	if err != nil {
		return nil, s.userError(ctx, err)
	}

	if loc.InCurrentBuffer() {
		return []lsp.Location{pointLocation(params.TextDocument.URI, text, loc.Offset)}, nil
	}

	target, err := s.openAndLocate(ctx, loc)
	if err != nil {
		return nil, s.userError(ctx, err)
	}
	return []lsp.Location{target}, nil
}

// openAndLocate loads the definition target and converts the byte offset
// once the file is available.
func (s *Server) openAndLocate(ctx context.Context, loc dkit.SymbolLocation) (lsp.Location, error) {
	found := make(chan lsp.Location, 1)
	err := s.nav.Open(loc.Path, func(v dkit.View) {
		found <- pointLocation(pathToURI(v.Path), v.Text, loc.Offset)
	})
	if err != nil {
		return lsp.Location{}, err
	}

	select {
	case target := <-found:
		// Files read from disk are not tracked by the editor.
		if _, open := s.docs.Get(target.URI); !open {
			s.nav.Closed(loc.Path)
		}
		return target, nil
	case <-ctx.Done():
		return lsp.Location{}, ctx.Err()
	}
}

func pointLocation(uri lsp.DocumentURI, text []byte, offset int) lsp.Location {
	pos := PositionAt(text, offset)
	return lsp.Location{URI: uri, Range: lsp.Range{Start: pos, End: pos}}
}

func (s *Server) hover(ctx context.Context, params lsp.TextDocumentPositionParams) (*lsp.Hover, error) {
	text, err := s.document(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	doc, err := s.client.ShowDocumentation(ctx, dkit.DocumentRequest{
		Source:  text,
		Cursors: []int{OffsetAt(text, params.Position)},
	})
	if errors.Is(err, dkit.ErrDocumentationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.userError(ctx, err)
	}

	return &lsp.Hover{Contents: []lsp.MarkedString{lsp.RawMarkedString(doc)}}, nil
}

func (s *Server) executeCommand(ctx context.Context, params lsp.ExecuteCommandParams) error {
	switch params.Command {
	case CommandUpdateIncludePaths:
		bufferFile := ""
		if len(params.Arguments) > 0 {
			if uri, ok := params.Arguments[0].(string); ok {
				bufferFile, _ = uriToPath(lsp.DocumentURI(uri))
			}
		}
		return s.userError(ctx, s.updateIncludePaths(ctx, bufferFile))

	case CommandRestartServer:
		settings, err := s.settings(s.projectDir)
		if err != nil {
			return s.userError(ctx, err)
		}
		_, err = s.client.Supervisor().Reload(settings.ServerConfig())
		return s.userError(ctx, err)
	}

	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf("unknown command: %s", params.Command)}
}

// updateIncludePaths registers the configured include paths, the import
// paths of the dub project (if any) and the buffer's directory.
func (s *Server) updateIncludePaths(ctx context.Context, bufferFile string) error {
	settings, err := s.settings(s.projectDir)
	if err != nil {
		return err
	}
	paths := settings.IncludePaths()

	if s.project != nil && s.projectDir != "" && s.project.Manifest(s.projectDir) != "" {
		desc, err := s.project.Describe(ctx, s.projectDir)
		if err != nil {
			return err
		}
		paths = append(paths, desc.IncludePaths()...)
	}

	return s.client.UpdateIncludePaths(ctx, paths, bufferFile)
}

// userError reports err to the user through window/showMessage and returns
// it unchanged.
func (s *Server) userError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	s.logger.Error("Request failed", "error", err)

	if s.conn != nil {
		msg := err.Error()
		if info, ok := dkit.GetErrorInfo(err); ok && info.File != "" {
			msg = fmt.Sprintf("%s\n%s", msg, info.File)
		}
		notifyErr := s.conn.Notify(ctx, "window/showMessage", lsp.ShowMessageParams{Type: lsp.MTError, Message: msg})
		if notifyErr != nil {
			s.logger.Warn("Failed to notify client", "error", notifyErr)
		}
	}
	return err
}
