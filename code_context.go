package dkit

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// CodeContext holds the source lines around a symbol location.
type CodeContext struct {
	Lines []CodeLine
	// Line and Column locate the symbol, both 1-indexed. Column counts bytes.
	Line   int
	Column int
}

// CodeLine is a single source line.
type CodeLine struct {
	Number   int
	Content  string
	IsTarget bool
}

// ExtractCodeContext returns the lines around the byte offset in text,
// contextLines before and after. Offsets outside text are clamped.
func ExtractCodeContext(text []byte, offset, contextLines int) *CodeContext {
	offset = clamp(offset, 0, len(text))
	line := bytes.Count(text[:offset], []byte{'\n'}) + 1
	column := offset - (bytes.LastIndexByte(text[:offset], '\n') + 1) + 1

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), len(text)+1)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if line > len(lines) {
		// Offset on the empty line after a trailing newline.
		lines = append(lines, "")
	}

	start := max(1, line-contextLines)
	end := min(len(lines), line+contextLines)

	ctx := &CodeContext{Line: line, Column: column}
	for i := start; i <= end; i++ {
		ctx.Lines = append(ctx.Lines, CodeLine{
			Number:   i,
			Content:  lines[i-1],
			IsTarget: i == line,
		})
	}
	return ctx
}

// LoadCodeContext reads path from fs and extracts the context around offset.
func LoadCodeContext(fs afero.Fs, path string, offset, contextLines int) (*CodeContext, error) {
	text, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, WithFile(NewFSError("failed reading definition target", err), path)
	}
	return ExtractCodeContext(text, offset, contextLines), nil
}

// Format renders the context with line numbers, marking the target line.
func (c *CodeContext) Format(useColor bool) string {
	if c == nil || len(c.Lines) == 0 {
		return ""
	}

	targetColor := color.New(color.FgYellow)
	numberColor := color.New(color.FgHiBlack)
	if useColor {
		targetColor.EnableColor()
		numberColor.EnableColor()
	} else {
		targetColor.DisableColor()
		numberColor.DisableColor()
	}

	var sb strings.Builder
	width := len(fmt.Sprint(c.Lines[len(c.Lines)-1].Number))

	for _, line := range c.Lines {
		marker := " "
		content := line.Content
		if line.IsTarget {
			marker = ">"
			content = targetColor.Sprint(content)
		}
		sb.WriteString(fmt.Sprintf("%s %s | %s\n", marker, numberColor.Sprintf("%*d", width, line.Number), content))
	}
	return sb.String()
}
