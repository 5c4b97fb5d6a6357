package dkit

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func waitDone(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestExecRunner(t *testing.T) {
	dir := t.TempDir()
	runner := ExecRunner{Logger: testLogger()}

	t.Run("stdin is passed and stdout returned", func(t *testing.T) {
		echo := writeScript(t, dir, "echo", `printf '%s|' "$@"; cat`)

		out, err := runner.Run(context.Background(), echo, []string{"-c4", "-p9166"}, []byte("foo.ba"))
		require.NoError(t, err)
		assert.Equal(t, "-c4|-p9166|foo.ba", string(out))
	})

	t.Run("arguments are not interpreted by a shell", func(t *testing.T) {
		echo := writeScript(t, dir, "args", `printf '%s\n' "$@"`)

		out, err := runner.Run(context.Background(), echo, []string{"-I/path with spaces;rm -rf x"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "-I/path with spaces;rm -rf x\n", string(out))
	})

	t.Run("non-zero exit keeps output", func(t *testing.T) {
		failing := writeScript(t, dir, "failing", `echo partial; echo oops >&2; exit 3`)

		out, err := runner.Run(context.Background(), failing, nil, nil)
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.ExitCode())
		assert.Equal(t, "partial\n", string(out))
	})

	t.Run("missing binary is a spawn failure", func(t *testing.T) {
		_, err := runner.Run(context.Background(), filepath.Join(dir, "missing"), nil, nil)
		assert.ErrorIs(t, err, ErrSubprocessSpawn)
	})

	t.Run("cancellation kills the process", func(t *testing.T) {
		slow := writeScript(t, dir, "slow", `exec sleep 30`)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := runner.Run(ctx, slow, nil, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestExecStarter(t *testing.T) {
	dir := t.TempDir()

	t.Run("terminate stops the process", func(t *testing.T) {
		server := writeScript(t, dir, "server", `exec sleep 30`)

		p, err := ExecStarter{}.Start(server, []string{"-p9166"})
		require.NoError(t, err)
		assert.True(t, p.Running())
		assert.Positive(t, p.Pid())

		require.NoError(t, p.Terminate())
		waitDone(t, p)
		assert.False(t, p.Running())

		// Already exited.
		assert.NoError(t, p.Terminate())
		assert.NoError(t, p.Kill())
	})

	t.Run("kill stops a process ignoring terminate", func(t *testing.T) {
		stubborn := writeScript(t, dir, "stubborn", `trap '' TERM; while :; do sleep 0.1; done`)

		p, err := ExecStarter{}.Start(stubborn, nil)
		require.NoError(t, err)

		require.NoError(t, p.Kill())
		waitDone(t, p)
	})

	t.Run("unstartable binary", func(t *testing.T) {
		_, err := ExecStarter{}.Start(filepath.Join(dir, "missing"), nil)
		assert.Error(t, err)
	})
}

func TestWaitExit(t *testing.T) {
	starter := newFakeStarter()

	p, err := starter.Start("server", nil)
	require.NoError(t, err)
	require.NoError(t, p.Terminate())
	assert.True(t, waitExit(p, time.Second))

	starter.ignoreTerm = true
	p, err = starter.Start("server", nil)
	require.NoError(t, err)
	require.NoError(t, p.Terminate())
	assert.False(t, waitExit(p, 20*time.Millisecond))
	assert.False(t, p.Running())
}

// TestEndToEnd drives the supervisor and client against shell scripts
// standing in for dcd-server and dcd-client.
func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := ServerConfig{BinaryDir: dir, Port: 9377, SearchPaths: []string{"/usr/include/d"}}

	writeScript(t, dir, filepath.Base(cfg.ServerBinary()), `echo "$@" > "$(dirname "$0")/server.args"; exec sleep 30`)
	writeScript(t, dir, filepath.Base(cfg.ClientBinary()), `cat > /dev/null
case "$1" in
  --symbolLocation) printf 'stdin\t7\n' ;;
  --doc) printf 'Prints a line.\n' ;;
  *) printf 'identifiers\nwriteln\tf\nwrite\tf\n' ;;
esac`)

	sup := NewSupervisor(cfg, testLogger(), afero.NewOsFs(), WithTerminateGrace(time.Second))
	client := NewClient(sup, testLogger(), WithReadinessWait(0))
	ctx := context.Background()

	result, err := client.Complete(ctx, CompletionRequest{Source: []byte("stdout.wr"), Cursor: 9, Prefix: "wr"})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "writeln", result.Items[0].Insert)
	assert.Equal(t, StateRunning, sup.State())

	loc, err := client.GotoDefinition(ctx, DocumentRequest{Source: []byte("int x; x"), Cursors: []int{7}})
	require.NoError(t, err)
	assert.Equal(t, SymbolLocation{Path: CurrentBuffer, Offset: 7}, loc)

	doc, err := client.ShowDocumentation(ctx, DocumentRequest{Source: []byte("writeln"), Cursors: []int{3}})
	require.NoError(t, err)
	assert.Equal(t, "Prints a line.", doc)

	require.Eventually(t, func() bool {
		args, err := os.ReadFile(filepath.Join(dir, "server.args"))
		return err == nil && string(args) == "-I/usr/include/d -p9377\n"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, sup.Shutdown())
	assert.Equal(t, StateNotStarted, sup.State())
	_, alive := sup.Handle()
	assert.False(t, alive)
}
