package dkit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultPort is the port dcd-server listens on unless configured otherwise.
const DefaultPort = 9166

const (
	serverBinaryName = "dcd-server"
	clientBinaryName = "dcd-client"
)

// ServerConfig describes one generation of the completion server.
type ServerConfig struct {
	BinaryDir   string
	Port        int
	SearchPaths []string
}

// ServerBinary returns the resolved dcd-server path.
func (c ServerConfig) ServerBinary() string {
	return filepath.Join(c.BinaryDir, binaryName(serverBinaryName))
}

// ClientBinary returns the resolved dcd-client path.
func (c ServerConfig) ClientBinary() string {
	return filepath.Join(c.BinaryDir, binaryName(clientBinaryName))
}

func (c ServerConfig) port() int {
	if c.Port <= 0 {
		return DefaultPort
	}
	return c.Port
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// ServerArgs builds the dcd-server argument list: one -I flag per search
// path in configured order, then -p<port>.
func ServerArgs(cfg ServerConfig) []string {
	args := IncludeFlags(DedupePaths(cfg.SearchPaths))
	return append(args, "-p"+strconv.Itoa(cfg.port()))
}

// State is the lifecycle state of the supervised server.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateTerminating
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServerHandle identifies the currently owned server process.
type ServerHandle struct {
	ID           string
	PID          int
	Port         int
	ServerBinary string
	ClientBinary string
	Args         []string
	Started      time.Time

	proc Process
}

// Alive reports whether the handle's process is still running.
func (h *ServerHandle) Alive() bool {
	return h != nil && h.proc != nil && h.proc.Running()
}

// Supervisor owns the completion-server process. At most one server is
// tracked at a time. Supervisor is safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	cfg     ServerConfig
	handle  *ServerHandle
	state   State
	starter Starter
	fs      afero.Fs
	logger  *slog.Logger
	grace   time.Duration
}

// SupervisorOption is a functional option for Supervisor
type SupervisorOption func(*Supervisor)

// WithStarter replaces the process starter.
func WithStarter(starter Starter) SupervisorOption {
	return func(s *Supervisor) {
		s.starter = starter
	}
}

// WithTerminateGrace sets how long a terminated server may take to exit
// before it is killed.
func WithTerminateGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// NewSupervisor creates a supervisor for cfg. Nothing is started until
// Start or Ensure is called.
func NewSupervisor(cfg ServerConfig, logger *slog.Logger, fs afero.Fs, opts ...SupervisorOption) *Supervisor {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	s := &Supervisor{
		cfg:     cfg,
		starter: ExecStarter{},
		fs:      fs,
		logger:  ensureLogger(logger),
		grace:   3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start (re)starts the server with cfg. Both binaries must exist; if either
// is missing nothing is spawned or terminated. A still-running previous
// server is terminated before the new one is spawned.
func (s *Supervisor) Start(cfg ServerConfig) (ServerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	return s.startLocked()
}

// Configure replaces the configuration used by the next start without
// touching a running server.
func (s *Supervisor) Configure(cfg ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Reload is Start under the name used by settings watchers.
func (s *Supervisor) Reload(cfg ServerConfig) (ServerHandle, error) {
	s.logger.Info("Reloading completion server configuration")
	return s.Start(cfg)
}

// Ensure returns the live server, starting one with the current
// configuration if none is running.
func (s *Supervisor) Ensure() (ServerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle.Alive() {
		return *s.handle, nil
	}
	return s.startLocked()
}

func (s *Supervisor) startLocked() (ServerHandle, error) {
	cfg := s.cfg
	s.state = StateStarting

	serverPath := cfg.ServerBinary()
	clientPath := cfg.ClientBinary()
	for _, bin := range []struct{ which, path string }{
		{serverBinaryName, serverPath},
		{clientBinaryName, clientPath},
	} {
		exists, err := afero.Exists(s.fs, bin.path)
		if err != nil || !exists {
			s.state = s.idleState()
			s.logger.Error("Completion binary missing", "binary", bin.which, "path", bin.path)
			return ServerHandle{}, NewBinaryNotFoundError(bin.which, bin.path)
		}
	}

	s.terminateLocked()
	s.state = StateStarting

	args := ServerArgs(cfg)
	s.logger.Info("Starting completion server", "binary", serverPath, "args", args)

	proc, err := s.starter.Start(serverPath, args)
	if err != nil {
		s.state = StateNotStarted
		s.logger.Error("Failed to start completion server", "error", err)
		return ServerHandle{}, NewSpawnError(serverPath, err)
	}

	s.handle = &ServerHandle{
		ID:           uuid.NewString(),
		PID:          proc.Pid(),
		Port:         cfg.port(),
		ServerBinary: serverPath,
		ClientBinary: clientPath,
		Args:         args,
		Started:      time.Now(),
		proc:         proc,
	}
	s.state = StateRunning
	s.logger.Debug("Completion server started", "pid", s.handle.PID, "port", s.handle.Port, "generation", s.handle.ID)

	return *s.handle, nil
}

// idleState is the state to fall back to when a start attempt is abandoned
// before touching the tracked server.
func (s *Supervisor) idleState() State {
	if s.handle.Alive() {
		return StateRunning
	}
	return StateNotStarted
}

// terminateLocked stops the tracked server, if alive, and forgets it.
// Termination failures are logged only.
func (s *Supervisor) terminateLocked() {
	h := s.handle
	s.handle = nil
	if !h.Alive() {
		s.state = StateNotStarted
		return
	}

	s.state = StateTerminating
	s.logger.Info("Terminating completion server", "pid", h.PID, "generation", h.ID)
	if err := h.proc.Terminate(); err != nil {
		s.logger.Warn("Failed to terminate completion server", "pid", h.PID, "error", err)
	}
	if !waitExit(h.proc, s.grace) {
		s.logger.Warn("Completion server ignored SIGTERM, killed", "pid", h.PID)
	}
	s.state = StateNotStarted
}

// Shutdown terminates the tracked server. It is safe to call any number of
// times, including before anything was started.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.terminateLocked()
	return nil
}

// Handle returns a copy of the tracked handle and whether it is alive.
func (s *Supervisor) Handle() (ServerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ServerHandle{}, false
	}
	return *s.handle, s.handle.Alive()
}

// State returns the lifecycle state. A tracked server that exited on its own
// is reported as not started.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning && !s.handle.Alive() {
		return StateNotStarted
	}
	return s.state
}

// Config returns the configuration of the current generation.
func (s *Supervisor) Config() ServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Endpoint returns the client binary and port requests should use: the
// live server's when one is tracked, the configured ones otherwise.
func (s *Supervisor) Endpoint() (clientBinary string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle.Alive() {
		return s.handle.ClientBinary, s.handle.Port
	}
	return s.cfg.ClientBinary(), s.cfg.port()
}

// WaitReady polls the server port until a TCP connection succeeds or ctx
// ends.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	_, port := s.Endpoint()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	var dialer net.Dialer
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("completion server not ready on %s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}
