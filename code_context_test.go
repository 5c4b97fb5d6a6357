package dkit

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contextSource = "module app;\n\nimport std.stdio;\n\nint answer = 42;\n\nvoid main() {}\n"

func TestExtractCodeContext(t *testing.T) {
	offset := len("module app;\n\nimport std.stdio;\n\nint ")
	ctx := ExtractCodeContext([]byte(contextSource), offset, 1)

	assert.Equal(t, 5, ctx.Line)
	assert.Equal(t, 5, ctx.Column)
	require.Len(t, ctx.Lines, 3)
	assert.Equal(t, CodeLine{Number: 4, Content: ""}, ctx.Lines[0])
	assert.Equal(t, CodeLine{Number: 5, Content: "int answer = 42;", IsTarget: true}, ctx.Lines[1])
	assert.Equal(t, 6, ctx.Lines[2].Number)
}

func TestExtractCodeContext_Edges(t *testing.T) {
	t.Run("start of file", func(t *testing.T) {
		ctx := ExtractCodeContext([]byte(contextSource), 0, 2)
		assert.Equal(t, 1, ctx.Line)
		assert.Equal(t, 1, ctx.Column)
		require.Len(t, ctx.Lines, 3)
		assert.True(t, ctx.Lines[0].IsTarget)
	})

	t.Run("offset past the end clamps", func(t *testing.T) {
		ctx := ExtractCodeContext([]byte("a\nb"), 100, 0)
		assert.Equal(t, 2, ctx.Line)
		assert.Equal(t, 2, ctx.Column)
		require.Len(t, ctx.Lines, 1)
		assert.Equal(t, "b", ctx.Lines[0].Content)
	})

	t.Run("after trailing newline", func(t *testing.T) {
		ctx := ExtractCodeContext([]byte("a\n"), 2, 1)
		assert.Equal(t, 2, ctx.Line)
		require.Len(t, ctx.Lines, 2)
		assert.Equal(t, CodeLine{Number: 2, Content: "", IsTarget: true}, ctx.Lines[1])
	})

	t.Run("empty text", func(t *testing.T) {
		ctx := ExtractCodeContext(nil, 0, 2)
		assert.Equal(t, 1, ctx.Line)
		require.Len(t, ctx.Lines, 1)
	})
}

func TestLoadCodeContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.d", []byte(contextSource), 0o644))

	ctx, err := LoadCodeContext(fs, "/src/app.d", len("module "), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, ctx.Line)
	assert.Equal(t, 8, ctx.Column)

	_, err = LoadCodeContext(fs, "/src/missing.d", 0, 0)
	require.Error(t, err)
	info, ok := GetErrorInfo(err)
	require.True(t, ok)
	assert.Equal(t, "/src/missing.d", info.File)
}

func TestCodeContext_Format(t *testing.T) {
	ctx := ExtractCodeContext([]byte(contextSource), len("module app;\n\nimport std.stdio;\n\nint "), 5)

	out := ctx.Format(false)
	assert.Contains(t, out, "> 5 | int answer = 42;\n")
	assert.Contains(t, out, "  1 | module app;\n")
	assert.NotContains(t, out, "\x1b[")

	assert.Contains(t, ctx.Format(true), "\x1b[")

	var empty *CodeContext
	assert.Empty(t, empty.Format(false))
}
