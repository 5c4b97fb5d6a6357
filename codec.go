package dkit

import (
	"strconv"
	"strings"
)

// Response headers of dcd-client completion output.
const (
	headerIdentifiers = "identifiers"
	headerCallTips    = "calltips"
)

// CurrentBuffer is the path dcd-client reports for symbols located in the
// buffer that was sent on stdin.
const CurrentBuffer = "stdin"

const notFound = "Not found"

// ResultKind tags a CompletionResult.
type ResultKind int

const (
	ResultEmpty ResultKind = iota
	ResultIdentifiers
	ResultCallTips
)

// String returns a human-readable kind name.
func (k ResultKind) String() string {
	switch k {
	case ResultIdentifiers:
		return "identifiers"
	case ResultCallTips:
		return "calltips"
	default:
		return "empty"
	}
}

// Completion is one entry of a completion response.
type Completion struct {
	Label  string `json:"label"`  // Text shown in the completion popup
	Insert string `json:"insert"` // Text inserted when the entry is chosen

	// Identifier entries only.
	Name      string `json:"name,omitempty"`
	KindCode  string `json:"kind_code,omitempty"`
	KindLabel string `json:"kind,omitempty"`
}

// CompletionResult is a decoded completion response. Items keep the order
// the server returned them in.
type CompletionResult struct {
	Kind  ResultKind   `json:"-"`
	Items []Completion `json:"items"`
}

// IsEmpty returns true if there are no completions
func (r CompletionResult) IsEmpty() bool {
	return len(r.Items) == 0
}

var kindLabels = map[string]string{
	"c": "class",
	"i": "interface",
	"s": "struct",
	"u": "union",
	"v": "variable",
	"m": "member variable",
	"k": "keyword",
	"f": "function",
	"g": "enum",
	"e": "enum member",
	"P": "package",
	"M": "module",
	"a": "array",
	"A": "associative array",
	"l": "alias",
	"t": "template",
	"T": "mixin template",
}

// KindLabel maps an identifier kind code to its label. Unknown codes map to
// a single space.
func KindLabel(code string) string {
	if label, ok := kindLabels[code]; ok {
		return label
	}
	return " "
}

// ParseCompletions decodes dcd-client completion output. An unknown header
// or empty output yields an empty result.
func ParseCompletions(output string) CompletionResult {
	lines := splitLines(output)
	if len(lines) == 0 {
		return CompletionResult{Kind: ResultEmpty}
	}

	switch lines[0] {
	case headerIdentifiers:
		items := make([]Completion, 0, len(lines)-1)
		for _, line := range lines[1:] {
			if c, ok := ParseIdentifier(line); ok {
				items = append(items, c)
			}
		}
		return CompletionResult{Kind: ResultIdentifiers, Items: items}
	case headerCallTips:
		items := make([]Completion, 0, len(lines)-1)
		for _, line := range lines[1:] {
			items = append(items, ParseCallTip(line))
		}
		return CompletionResult{Kind: ResultCallTips, Items: items}
	default:
		return CompletionResult{Kind: ResultEmpty}
	}
}

// ParseIdentifier decodes a "name\tkind" line. Lines with any other number
// of fields are rejected.
func ParseIdentifier(line string) (Completion, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) != 2 {
		return Completion{}, false
	}

	name, code := parts[0], parts[1]
	label := KindLabel(code)
	return Completion{
		Label:     name + "\t" + label,
		Insert:    name,
		Name:      name,
		KindCode:  code,
		KindLabel: label,
	}, true
}

// ParseCallTip decodes a signature line. The inserted text is the parameter
// list between the first '(' and the last character of the line.
func ParseCallTip(line string) Completion {
	idx := strings.Index(line, "(")
	if idx < 0 {
		return Completion{Label: line, Insert: line}
	}

	insert := ""
	if idx+1 < len(line) {
		insert = line[idx+1 : len(line)-1]
	}
	return Completion{Label: line, Insert: insert}
}

// SymbolLocation is the target of a go-to-definition request.
type SymbolLocation struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// InCurrentBuffer reports whether the symbol lives in the buffer the
// request was made from.
func (l SymbolLocation) InCurrentBuffer() bool {
	return l.Path == CurrentBuffer
}

// ParseSymbolLocation decodes "path\toffset" output.
func ParseSymbolLocation(output string) (SymbolLocation, error) {
	out := strings.TrimSpace(output)
	if out == "" || out == notFound {
		return SymbolLocation{}, NewLookupError("no definition at cursor", ErrSymbolNotFound)
	}

	path, offsetText, ok := strings.Cut(out, "\t")
	if !ok {
		return SymbolLocation{}, WithDetails(NewLookupError("unexpected symbol location output", ErrSymbolNotFound), out)
	}

	offset, err := strconv.Atoi(strings.TrimSpace(offsetText))
	if err != nil {
		return SymbolLocation{}, WithDetails(NewLookupError("invalid symbol offset", ErrSymbolNotFound), out)
	}

	return SymbolLocation{Path: path, Offset: offset}, nil
}

// FormatDocumentation turns dcd-client --doc output into display text:
// every line break becomes a paragraph break and literal "\n" sequences
// become line breaks.
func FormatDocumentation(output string) (string, error) {
	return formatDocumentation(output, false)
}

// formatDocumentation formats output paragraph by paragraph. With decode
// set every escape sequence is resolved by DecodeEscapes, so an escaped
// backslash before n stays literal text.
func formatDocumentation(output string, decode bool) (string, error) {
	out := strings.TrimSpace(output)
	if out == "" || out == notFound {
		return "", NewLookupError("no documentation at cursor", ErrDocumentationNotFound)
	}

	paragraphs := strings.Split(out, "\n")
	for i, p := range paragraphs {
		if decode {
			paragraphs[i] = DecodeEscapes(p)
		} else {
			paragraphs[i] = strings.ReplaceAll(p, `\n`, "\n")
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func splitLines(output string) []string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}
