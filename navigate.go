package dkit

import (
	"slices"
	"sync"
)

// View is a loaded buffer handed to navigation continuations.
type View struct {
	Path string
	Text []byte
}

// FileOpener asks the editor to open a file. Loading completes
// asynchronously; the editor reports it through Navigator.Loaded.
type FileOpener interface {
	OpenFile(path string) error
}

// Navigator runs continuations once a file has been opened and loaded.
// Every continuation runs at most once and is forgotten after it runs.
type Navigator struct {
	opener FileOpener

	mu      sync.Mutex
	pending map[string][]*continuation
	loaded  map[string]View
}

type continuation struct {
	fn func(View)
}

// NewNavigator creates a Navigator opening files through opener.
func NewNavigator(opener FileOpener) *Navigator {
	return &Navigator{
		opener:  opener,
		pending: make(map[string][]*continuation),
		loaded:  make(map[string]View),
	}
}

// Open opens path and runs then with the loaded view. If the file is
// already loaded, then runs immediately. If the editor refuses to open the
// file the continuation is dropped and the error returned.
func (n *Navigator) Open(path string, then func(View)) error {
	path = NormalizePath(path)

	n.mu.Lock()
	if view, ok := n.loaded[path]; ok {
		n.mu.Unlock()
		then(view)
		return nil
	}
	first := len(n.pending[path]) == 0
	own := &continuation{fn: then}
	n.pending[path] = append(n.pending[path], own)
	n.mu.Unlock()

	if !first {
		return nil
	}

	if err := n.opener.OpenFile(path); err != nil {
		n.mu.Lock()
		n.drop(path, own)
		n.mu.Unlock()
		return err
	}
	return nil
}

// drop removes c from the continuations waiting for path. Continuations
// queued by other callers while the open was in flight stay pending.
func (n *Navigator) drop(path string, c *continuation) {
	rest := slices.DeleteFunc(n.pending[path], func(p *continuation) bool { return p == c })
	if len(rest) == 0 {
		delete(n.pending, path)
		return
	}
	n.pending[path] = rest
}

// Loaded records that view finished loading and fires the continuations
// waiting for it.
func (n *Navigator) Loaded(view View) {
	view.Path = NormalizePath(view.Path)

	n.mu.Lock()
	n.loaded[view.Path] = view
	waiting := n.pending[view.Path]
	delete(n.pending, view.Path)
	n.mu.Unlock()

	for _, c := range waiting {
		c.fn(view)
	}
}

// Closed forgets a view; later Open calls load it again.
func (n *Navigator) Closed(path string) {
	n.mu.Lock()
	delete(n.loaded, NormalizePath(path))
	n.mu.Unlock()
}

// Pending returns the number of continuations still waiting.
func (n *Navigator) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, fns := range n.pending {
		count += len(fns)
	}
	return count
}
