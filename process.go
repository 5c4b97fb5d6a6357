package dkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is a started long-lived child process.
type Process interface {
	Pid() int
	// Running reports whether the process has not exited yet.
	Running() bool
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
}

// Starter spawns long-lived processes. The supervisor uses it for the
// completion server.
type Starter interface {
	Start(binary string, args []string) (Process, error)
}

// Runner performs a single request/response round trip with a short-lived
// process: stdin (if non-nil) is written and closed, and the full stdout is
// returned once the process exits.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error)
}

// ExecStarter starts processes with os/exec. The child's stdout and stderr
// are forwarded to Output when set, and discarded otherwise.
type ExecStarter struct {
	Output io.Writer
}

// Start implements Starter.
func (s ExecStarter) Start(binary string, args []string) (Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stdout = s.Output
	cmd.Stderr = s.Output

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.RWMutex
	waitErr error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Terminate() error {
	if !p.Running() {
		return nil
	}
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		// SIGTERM is not deliverable on every platform.
		return p.Kill()
	}
	return nil
}

func (p *execProcess) Kill() error {
	if !p.Running() {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// ExecRunner runs short-lived processes with os/exec. The process is killed
// when ctx is cancelled.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run implements Runner. A non-zero exit status is returned as an
// *exec.ExitError together with whatever the process printed.
func (r ExecRunner) Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Start(); err != nil {
		return nil, NewSpawnError(binary, err)
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}
	if err != nil && stderr.Len() > 0 {
		ensureLogger(r.Logger).Debug("Subprocess stderr", "binary", binary, "stderr", stderr.String())
	}
	return stdout.Bytes(), err
}

// waitExit waits up to grace for p to exit after Terminate and kills it
// otherwise.
func waitExit(p Process, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		return true
	case <-timer.C:
		_ = p.Kill()
		<-p.Done()
		return false
	}
}

// ensureLogger creates a default logger if none is provided
func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return logger
}
