package lsp

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/sourcegraph/go-lsp"
)

// OffsetAt converts an LSP position (UTF-16 code units) into a byte offset
// in text. Positions past the end of a line clamp to the line end;
// positions past the last line clamp to the end of text.
func OffsetAt(text []byte, pos lsp.Position) int {
	if pos.Line < 0 {
		return 0
	}

	offset := 0
	for line := 0; line < pos.Line; line++ {
		idx := indexByte(text[offset:], '\n')
		if idx < 0 {
			return len(text)
		}
		offset += idx + 1
	}

	units := 0
	for offset < len(text) && units < pos.Character {
		r, size := utf8.DecodeRune(text[offset:])
		if r == '\n' {
			break
		}
		units += utf16Len(r)
		offset += size
	}
	return offset
}

// PositionAt converts a byte offset in text into an LSP position.
func PositionAt(text []byte, offset int) lsp.Position {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}

	var pos lsp.Position
	for i := 0; i < offset; {
		r, size := utf8.DecodeRune(text[i:])
		if i+size > offset {
			break
		}
		if r == '\n' {
			pos.Line++
			pos.Character = 0
		} else {
			pos.Character += utf16Len(r)
		}
		i += size
	}
	return pos
}

func utf16Len(r rune) int {
	if r == utf8.RuneError {
		return 1
	}
	return len(utf16.Encode([]rune{r}))
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// uriToPath converts a file:// URI to a file system path
func uriToPath(uri lsp.DocumentURI) (string, error) {
	u, err := url.Parse(string(uri))
	if err != nil {
		return "", fmt.Errorf("invalid URI: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme: %s", u.Scheme)
	}

	path := u.Path
	// On Windows, remove leading slash if it exists before drive letter
	if len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.Clean(path), nil
}

// pathToURI converts a file system path to a file:// URI
func pathToURI(path string) lsp.DocumentURI {
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "file", Path: path}
	return lsp.DocumentURI(u.String())
}
