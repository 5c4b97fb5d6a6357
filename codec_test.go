package dkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompletions_Identifiers(t *testing.T) {
	result := ParseCompletions("identifiers\nfoo\tf\nbar\tv\nbaz\tX\n")

	require.Equal(t, ResultIdentifiers, result.Kind)
	require.Len(t, result.Items, 3)

	expected := []struct{ label, insert string }{
		{"foo\tfunction", "foo"},
		{"bar\tvariable", "bar"},
		{"baz\t ", "baz"},
	}
	for i, want := range expected {
		assert.Equal(t, want.label, result.Items[i].Label)
		assert.Equal(t, want.insert, result.Items[i].Insert)
	}
	assert.Equal(t, "X", result.Items[2].KindCode)
}

func TestParseCompletions_DropsMalformedLines(t *testing.T) {
	result := ParseCompletions("identifiers\nfoo\tf\nno-tab\na\tb\tc\nbar\tv")

	require.Equal(t, ResultIdentifiers, result.Kind)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "foo", result.Items[0].Name)
	assert.Equal(t, "bar", result.Items[1].Name)
}

func TestParseCompletions_CallTips(t *testing.T) {
	result := ParseCompletions("calltips\r\nint add(int a, int b)\r\nvoid reset\r\n")

	require.Equal(t, ResultCallTips, result.Kind)
	require.Len(t, result.Items, 2)
	assert.Equal(t, Completion{Label: "int add(int a, int b)", Insert: "int a, int b"}, result.Items[0])
	assert.Equal(t, Completion{Label: "void reset", Insert: "void reset"}, result.Items[1])
}

func TestParseCompletions_Empty(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "no output", output: ""},
		{name: "only newlines", output: "\n\n"},
		{name: "unknown header", output: "unknown\nfoo\tf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCompletions(tt.output)
			assert.Equal(t, ResultEmpty, result.Kind)
			assert.True(t, result.IsEmpty())
		})
	}
}

func TestParseCallTip(t *testing.T) {
	tests := []struct {
		line   string
		insert string
	}{
		{"int add(int a, int b)", "int a, int b"},
		{"void f()", ""},
		{"void g(", ""},
		{"enum E", "enum E"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c := ParseCallTip(tt.line)
			assert.Equal(t, tt.line, c.Label)
			assert.Equal(t, tt.insert, c.Insert)
		})
	}
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "class", KindLabel("c"))
	assert.Equal(t, "associative array", KindLabel("A"))
	assert.Equal(t, "mixin template", KindLabel("T"))
	assert.Equal(t, " ", KindLabel("X"))
	assert.Equal(t, " ", KindLabel(""))
}

func TestParseSymbolLocation(t *testing.T) {
	t.Run("current buffer", func(t *testing.T) {
		loc, err := ParseSymbolLocation("stdin\t42\n")
		require.NoError(t, err)
		assert.True(t, loc.InCurrentBuffer())
		assert.Equal(t, 42, loc.Offset)
	})

	t.Run("file target", func(t *testing.T) {
		loc, err := ParseSymbolLocation("/tmp/foo.d\t10")
		require.NoError(t, err)
		assert.False(t, loc.InCurrentBuffer())
		assert.Equal(t, SymbolLocation{Path: "/tmp/foo.d", Offset: 10}, loc)
	})

	for _, output := range []string{"", "Not found", "  Not found\n", "garbage", "/tmp/foo.d\tabc"} {
		t.Run("not found "+output, func(t *testing.T) {
			_, err := ParseSymbolLocation(output)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSymbolNotFound)

			info, ok := GetErrorInfo(err)
			require.True(t, ok)
			assert.Equal(t, ErrorTypeLookup, info.Type)
		})
	}
}

func TestFormatDocumentation(t *testing.T) {
	t.Run("paragraph per line", func(t *testing.T) {
		doc, err := FormatDocumentation("line one\nline two\n")
		require.NoError(t, err)
		assert.Equal(t, "line one\n\nline two", doc)
	})

	t.Run("literal newline escapes", func(t *testing.T) {
		doc, err := FormatDocumentation(`first\nsecond`)
		require.NoError(t, err)
		assert.Equal(t, "first\nsecond", doc)
	})

	t.Run("decoding resolves every escape", func(t *testing.T) {
		doc, err := formatDocumentation(`a\\nb\nc`+"\nd \\x41", true)
		require.NoError(t, err)
		assert.Equal(t, "a\\nb\nc\n\nd A", doc)
	})

	for _, output := range []string{"", "\n", "Not found"} {
		t.Run("not found "+output, func(t *testing.T) {
			_, err := FormatDocumentation(output)
			assert.ErrorIs(t, err, ErrDocumentationNotFound)
		})
	}
}
