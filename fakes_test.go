package dkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog records process lifecycle events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.events...)
}

type fakeProcess struct {
	pid        int
	log        *eventLog
	ignoreTerm bool

	once sync.Once
	done chan struct{}
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Terminate() error {
	p.log.add("terminate:%d", p.pid)
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.log.add("kill:%d", p.pid)
	p.exit()
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type startCall struct {
	binary string
	args   []string
}

type fakeStarter struct {
	log        *eventLog
	err        error
	ignoreTerm bool

	mu    sync.Mutex
	calls []startCall
	procs []*fakeProcess
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{log: &eventLog{}}
}

func (s *fakeStarter) Start(binary string, args []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, startCall{binary: binary, args: append([]string{}, args...)})
	if s.err != nil {
		return nil, s.err
	}

	p := &fakeProcess{
		pid:        100 + len(s.procs),
		log:        s.log,
		ignoreTerm: s.ignoreTerm,
		done:       make(chan struct{}),
	}
	s.procs = append(s.procs, p)
	s.log.add("start:%d", p.pid)
	return p, nil
}

func (s *fakeStarter) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type runCall struct {
	binary string
	args   []string
	stdin  []byte
}

// fakeRunner answers every call with the next queued output, or with out
// once the queue is empty.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	queue   [][]byte
	out     []byte
	err     error
	respond func(args []string) ([]byte, error)
}

func (r *fakeRunner) Run(_ context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, runCall{binary: binary, args: append([]string{}, args...), stdin: stdin})
	if r.respond != nil {
		return r.respond(args)
	}
	if len(r.queue) > 0 {
		out := r.queue[0]
		r.queue = r.queue[1:]
		return out, r.err
	}
	return r.out, r.err
}

func (r *fakeRunner) lastArgs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1].args
}

const testBinaryDir = "/opt/dcd"

// installBinaries creates both DCD binaries for cfg in fs.
func installBinaries(t *testing.T, fs afero.Fs, cfg ServerConfig) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, cfg.ServerBinary(), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, afero.WriteFile(fs, cfg.ClientBinary(), []byte("#!/bin/sh\n"), 0o755))
}

func newTestSupervisor(t *testing.T, cfg ServerConfig) (*Supervisor, *fakeStarter, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	installBinaries(t, fs, cfg)
	starter := newFakeStarter()
	sup := NewSupervisor(cfg, testLogger(), fs, WithStarter(starter), WithTerminateGrace(50*time.Millisecond))
	return sup, starter, fs
}
