package dkit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatText outputs human-readable text (default)
	FormatText OutputFormat = "text"
	// FormatJSON outputs machine-readable JSON
	FormatJSON OutputFormat = "json"
)

// ColorMode represents when to use colors in output
type ColorMode string

const (
	// ColorAuto enables colors when writing to a terminal
	ColorAuto ColorMode = "auto"
	// ColorAlways forces colors to be enabled
	ColorAlways ColorMode = "always"
	// ColorNever disables colors
	ColorNever ColorMode = "never"
)

// Formatter renders request results for the command line.
type Formatter interface {
	Completions(result CompletionResult) ([]byte, error)
	Location(loc SymbolLocation) ([]byte, error)
	Documentation(doc string) ([]byte, error)
	List(items []string) ([]byte, error)
}

// NewFormatter creates a formatter for format. Text output is colored
// according to mode when written to w.
func NewFormatter(format OutputFormat, mode ColorMode, w io.Writer) (Formatter, error) {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Pretty: true}, nil
	case FormatText, "":
		return &TextFormatter{Color: shouldEnableColor(mode, w)}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// shouldEnableColor determines if colors should be enabled based on the ColorMode
func shouldEnableColor(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		file, ok := w.(*os.File)
		if !ok {
			return false
		}
		info, err := file.Stat()
		if err != nil {
			return false
		}
		return info.Mode()&os.ModeCharDevice != 0
	}
}

// TextFormatter prints one entry per line.
type TextFormatter struct {
	Color bool
}

func (f *TextFormatter) sprint(c *color.Color, s string) string {
	if !f.Color {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

func (f *TextFormatter) Completions(result CompletionResult) ([]byte, error) {
	var sb strings.Builder
	if result.IsEmpty() {
		sb.WriteString(f.sprint(color.New(color.FgHiBlack), "No completions"))
		sb.WriteString("\n")
		return []byte(sb.String()), nil
	}

	nameColor := color.New(color.FgCyan, color.Bold)
	kindColor := color.New(color.FgHiBlack)
	insertColor := color.New(color.FgMagenta)

	for _, item := range result.Items {
		switch result.Kind {
		case ResultIdentifiers:
			sb.WriteString(f.sprint(nameColor, item.Name))
			sb.WriteString("\t")
			sb.WriteString(f.sprint(kindColor, item.KindLabel))
		default:
			sb.WriteString(item.Label)
			sb.WriteString("\t")
			sb.WriteString(f.sprint(insertColor, item.Insert))
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

func (f *TextFormatter) Location(loc SymbolLocation) ([]byte, error) {
	path := loc.Path
	if loc.InCurrentBuffer() {
		path = "(current buffer)"
	}
	return []byte(fmt.Sprintf("%s:%s\n",
		f.sprint(color.New(color.FgCyan, color.Bold), path),
		f.sprint(color.New(color.FgYellow), fmt.Sprint(loc.Offset)))), nil
}

func (f *TextFormatter) Documentation(doc string) ([]byte, error) {
	return []byte(doc + "\n"), nil
}

func (f *TextFormatter) List(items []string) ([]byte, error) {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

// JSONFormatter outputs results in JSON format
type JSONFormatter struct {
	Pretty bool
}

// JSONCompletions represents the JSON completion output
type JSONCompletions struct {
	Kind  string       `json:"kind"`
	Items []Completion `json:"items"`
}

// JSONDocumentation represents the JSON documentation output
type JSONDocumentation struct {
	Text string `json:"text"`
}

func (f *JSONFormatter) marshal(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if f.Pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (f *JSONFormatter) Completions(result CompletionResult) ([]byte, error) {
	items := result.Items
	if items == nil {
		items = []Completion{}
	}
	return f.marshal(JSONCompletions{Kind: result.Kind.String(), Items: items})
}

func (f *JSONFormatter) Location(loc SymbolLocation) ([]byte, error) {
	return f.marshal(loc)
}

func (f *JSONFormatter) Documentation(doc string) ([]byte, error) {
	return f.marshal(JSONDocumentation{Text: doc})
}

func (f *JSONFormatter) List(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return f.marshal(items)
}
