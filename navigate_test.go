package dkit

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOpener struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (o *recordingOpener) OpenFile(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	return o.err
}

func TestNavigator_RunsContinuationOnLoad(t *testing.T) {
	opener := &recordingOpener{}
	nav := NewNavigator(opener)

	var got []View
	require.NoError(t, nav.Open("/src/foo.d", func(v View) { got = append(got, v) }))
	assert.Equal(t, []string{"/src/foo.d"}, opener.opened)
	assert.Equal(t, 1, nav.Pending())
	assert.Empty(t, got)

	nav.Loaded(View{Path: "/src/foo.d", Text: []byte("module foo;")})
	require.Len(t, got, 1)
	assert.Equal(t, "module foo;", string(got[0].Text))
	assert.Zero(t, nav.Pending())

	// A later load must not fire the same continuation again.
	nav.Loaded(View{Path: "/src/foo.d", Text: []byte("module foo2;")})
	assert.Len(t, got, 1)
}

func TestNavigator_AlreadyLoaded(t *testing.T) {
	opener := &recordingOpener{}
	nav := NewNavigator(opener)
	nav.Loaded(View{Path: "/src/bar.d", Text: []byte("module bar;")})

	fired := 0
	require.NoError(t, nav.Open("/src/bar.d", func(View) { fired++ }))
	assert.Equal(t, 1, fired)
	assert.Empty(t, opener.opened)
}

func TestNavigator_SharedOpen(t *testing.T) {
	opener := &recordingOpener{}
	nav := NewNavigator(opener)

	fired := 0
	require.NoError(t, nav.Open("/src/foo.d", func(View) { fired++ }))
	require.NoError(t, nav.Open("/src/./foo.d", func(View) { fired++ }))
	assert.Len(t, opener.opened, 1)
	assert.Equal(t, 2, nav.Pending())

	nav.Loaded(View{Path: "/src/foo.d"})
	assert.Equal(t, 2, fired)
}

func TestNavigator_OpenFailure(t *testing.T) {
	opener := &recordingOpener{err: errors.New("cannot open")}
	nav := NewNavigator(opener)

	fired := false
	err := nav.Open("/src/missing.d", func(View) { fired = true })
	require.Error(t, err)
	assert.Zero(t, nav.Pending())

	nav.Loaded(View{Path: "/src/missing.d"})
	assert.False(t, fired)
}

// blockingOpener fails its first OpenFile after release is closed.
type blockingOpener struct {
	entered chan struct{}
	release chan struct{}
}

func (o *blockingOpener) OpenFile(string) error {
	close(o.entered)
	<-o.release
	return errors.New("cannot open")
}

func TestNavigator_OpenFailureKeepsLaterContinuations(t *testing.T) {
	opener := &blockingOpener{entered: make(chan struct{}), release: make(chan struct{})}
	nav := NewNavigator(opener)

	firstFired := false
	errc := make(chan error, 1)
	go func() {
		errc <- nav.Open("/src/slow.d", func(View) { firstFired = true })
	}()
	<-opener.entered

	secondFired := 0
	require.NoError(t, nav.Open("/src/slow.d", func(View) { secondFired++ }))
	assert.Equal(t, 2, nav.Pending())

	close(opener.release)
	require.Error(t, <-errc)
	assert.Equal(t, 1, nav.Pending())

	nav.Loaded(View{Path: "/src/slow.d"})
	assert.Equal(t, 1, secondFired)
	assert.False(t, firstFired)
	assert.Zero(t, nav.Pending())
}

func TestNavigator_Closed(t *testing.T) {
	opener := &recordingOpener{}
	nav := NewNavigator(opener)
	nav.Loaded(View{Path: "/src/foo.d"})
	nav.Closed("/src/foo.d")

	require.NoError(t, nav.Open("/src/foo.d", func(View) {}))
	assert.Equal(t, []string{"/src/foo.d"}, opener.opened)
}
