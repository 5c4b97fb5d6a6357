package dkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// CompletionRequest is one completion query against a buffer.
type CompletionRequest struct {
	Source []byte // Full buffer contents
	Cursor int    // Byte offset of the completion trigger
	Prefix string // Word already typed before the cursor, if any
}

// Position returns the offset sent to the server. When the typed prefix
// directly follows a '.', completion is requested right after the dot;
// otherwise the raw cursor is used.
func (r CompletionRequest) Position() int {
	cursor := clamp(r.Cursor, 0, len(r.Source))
	pos := cursor - len(r.Prefix)
	if pos > 0 && pos <= len(r.Source) && r.Source[pos-1] == '.' {
		return pos
	}
	return cursor
}

// PrefixAt returns the identifier characters immediately before cursor.
func PrefixAt(source []byte, cursor int) string {
	cursor = clamp(cursor, 0, len(source))
	start := cursor
	for start > 0 && isIdentByte(source[start-1]) {
		start--
	}
	return string(source[start:cursor])
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// DocumentRequest is a definition or documentation query. Cursors holds
// every active cursor; exactly one is required.
type DocumentRequest struct {
	Source  []byte
	Cursors []int
}

func (r DocumentRequest) cursor() (int, error) {
	if len(r.Cursors) != 1 {
		return 0, NewSelectionError(len(r.Cursors))
	}
	return clamp(r.Cursors[0], 0, len(r.Source)), nil
}

// Client performs request/response round trips with dcd-client.
type Client struct {
	supervisor   *Supervisor
	runner       Runner
	logger       *slog.Logger
	autoStart    bool
	readyTimeout time.Duration
	decodeEsc    bool
}

// ClientOption is a functional option for Client
type ClientOption func(*Client)

// WithRunner replaces the subprocess runner.
func WithRunner(runner Runner) ClientOption {
	return func(c *Client) {
		c.runner = runner
	}
}

// WithAutoStart controls whether requests start the server when none is
// running. When disabled, requests go to the configured port and assume an
// externally managed server.
func WithAutoStart(enabled bool) ClientOption {
	return func(c *Client) {
		c.autoStart = enabled
	}
}

// WithReadinessWait bounds how long a request waits for a freshly started
// server to accept connections. Zero disables the wait.
func WithReadinessWait(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readyTimeout = d
	}
}

// WithEscapeDecoding enables full C-style escape decoding of documentation.
func WithEscapeDecoding(enabled bool) ClientOption {
	return func(c *Client) {
		c.decodeEsc = enabled
	}
}

// NewClient creates a client talking to the server owned by supervisor.
func NewClient(supervisor *Supervisor, logger *slog.Logger, opts ...ClientOption) *Client {
	logger = ensureLogger(logger)
	c := &Client{
		supervisor:   supervisor,
		runner:       ExecRunner{Logger: logger},
		logger:       logger,
		autoStart:    true,
		readyTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supervisor returns the supervisor the client is bound to.
func (c *Client) Supervisor() *Supervisor {
	return c.supervisor
}

// Complete requests completions at the request position.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	pos := req.Position()
	out, err := c.query(ctx, req.Source, "-c"+strconv.Itoa(pos))
	if err != nil {
		return CompletionResult{}, err
	}

	result := ParseCompletions(out)
	c.logger.Debug("Completions decoded", "position", pos, "kind", result.Kind.String(), "count", len(result.Items))
	return result, nil
}

// GotoDefinition locates the declaration of the symbol under the cursor.
func (c *Client) GotoDefinition(ctx context.Context, req DocumentRequest) (SymbolLocation, error) {
	pos, err := req.cursor()
	if err != nil {
		return SymbolLocation{}, err
	}

	out, err := c.query(ctx, req.Source, "--symbolLocation", "-c", strconv.Itoa(pos))
	if err != nil {
		return SymbolLocation{}, err
	}
	return ParseSymbolLocation(out)
}

// ShowDocumentation returns the documentation of the symbol under the
// cursor, formatted for display.
func (c *Client) ShowDocumentation(ctx context.Context, req DocumentRequest) (string, error) {
	pos, err := req.cursor()
	if err != nil {
		return "", err
	}

	out, err := c.query(ctx, req.Source, "--doc", "-c", strconv.Itoa(pos))
	if err != nil {
		return "", err
	}

	return formatDocumentation(out, c.decodeEsc)
}

// ClearCache drops the server's cached modules. A non-zero client exit is
// returned as a process error.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.command(ctx, "--clearCache")
}

// UpdateIncludePaths clears the server cache and then registers paths plus
// the directory of bufferFile (when non-empty) as import search paths.
func (c *Client) UpdateIncludePaths(ctx context.Context, paths []string, bufferFile string) error {
	if err := c.ClearCache(ctx); err != nil {
		return err
	}

	all := append([]string{}, paths...)
	if bufferFile != "" {
		all = append(all, DirPath(bufferFile))
	}
	all = DedupePaths(all)
	if len(all) == 0 {
		return nil
	}

	c.logger.Info("Updating include paths", "count", len(all))
	return c.command(ctx, IncludeFlags(all)...)
}

// query runs a request whose output is decoded even when dcd-client exits
// non-zero.
func (c *Client) query(ctx context.Context, source []byte, args ...string) (string, error) {
	out, err := c.call(ctx, source, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", err
		}
		c.logger.Warn("Completion client exited with error", "args", args, "code", exitErr.ExitCode())
	}
	return out, nil
}

// command runs a request that has no output to decode.
func (c *Client) command(ctx context.Context, args ...string) error {
	_, err := c.call(ctx, nil, args...)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return WithDetails(NewProcessError("completion client failed", err), fmt.Sprintf("%s exited with code %d", args[0], exitErr.ExitCode()))
	}
	return err
}

// call runs dcd-client with args plus -p<port>, feeding source on stdin.
func (c *Client) call(ctx context.Context, source []byte, args ...string) (string, error) {
	binary, port, err := c.endpoint(ctx)
	if err != nil {
		return "", err
	}

	args = append(args, "-p"+strconv.Itoa(port))
	c.logger.Debug("Running completion client", "binary", binary, "args", args)

	out, err := c.runner.Run(ctx, binary, args, source)
	return string(out), err
}

func (c *Client) endpoint(ctx context.Context) (string, int, error) {
	if !c.autoStart {
		binary, port := c.supervisor.Endpoint()
		return binary, port, nil
	}

	_, alive := c.supervisor.Handle()
	h, err := c.supervisor.Ensure()
	if err != nil {
		return "", 0, err
	}

	if !alive && c.readyTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
		defer cancel()
		if err := c.supervisor.WaitReady(waitCtx); err != nil {
			c.logger.Warn("Completion server not ready yet", "port", h.Port, "error", err)
		}
	}
	return h.ClientBinary, h.Port, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
