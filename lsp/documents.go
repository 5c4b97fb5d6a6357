package lsp

import (
	"fmt"
	"sync"

	"github.com/sourcegraph/go-lsp"
)

// DocumentStore keeps the text of every open document.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[lsp.DocumentURI][]byte
}

// NewDocumentStore creates an empty store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[lsp.DocumentURI][]byte)}
}

// Open records the full text of a newly opened document.
func (s *DocumentStore) Open(uri lsp.DocumentURI, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[uri] = []byte(text)
}

// Apply applies content changes in order. A change without a range replaces
// the whole document.
func (s *DocumentStore) Apply(uri lsp.DocumentURI, changes []lsp.TextDocumentContentChangeEvent) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, ok := s.docs[uri]
	if !ok {
		return nil, fmt.Errorf("document not open: %s", uri)
	}

	for _, change := range changes {
		if change.Range == nil {
			text = []byte(change.Text)
			continue
		}

		start := OffsetAt(text, change.Range.Start)
		end := OffsetAt(text, change.Range.End)
		if end < start {
			start, end = end, start
		}

		updated := make([]byte, 0, len(text)-(end-start)+len(change.Text))
		updated = append(updated, text[:start]...)
		updated = append(updated, change.Text...)
		updated = append(updated, text[end:]...)
		text = updated
	}

	s.docs[uri] = text
	return text, nil
}

// Close forgets a document.
func (s *DocumentStore) Close(uri lsp.DocumentURI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
}

// Get returns the text of an open document.
func (s *DocumentStore) Get(uri lsp.DocumentURI) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.docs[uri]
	return text, ok
}
