package toolhost

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guide = `---
title: Field Guide
tags: [geese, travel]
---
# Geese

Intro.

## Migration

` + "```sh\n# not a heading\n```" + `

### Routes ###

## Diet
grass
`

func TestParseOutline(t *testing.T) {
	out, err := ParseOutline(strings.NewReader(guide))
	require.NoError(t, err)

	assert.Equal(t, "Field Guide", out.Title)
	assert.Equal(t, []any{"geese", "travel"}, out.Frontmatter["tags"])

	require.Len(t, out.Headings, 4)
	assert.Equal(t, Heading{Level: 1, Text: "Geese", Start: 5, End: 8}, out.Headings[0])
	assert.Equal(t, Heading{Level: 2, Text: "Migration", Start: 9, End: 14}, out.Headings[1])
	assert.Equal(t, Heading{Level: 3, Text: "Routes", Start: 15, End: 16}, out.Headings[2])
	assert.Equal(t, Heading{Level: 2, Text: "Diet", Start: 17, End: 18}, out.Headings[3])
}

func TestParseOutline_TitleFromHeading(t *testing.T) {
	out, err := ParseOutline(strings.NewReader("intro\n# First\n# Second\n"))
	require.NoError(t, err)
	assert.Equal(t, "First", out.Title)
	assert.Nil(t, out.Frontmatter)
}

func TestParseOutline_UnterminatedFrontmatter(t *testing.T) {
	out, err := ParseOutline(strings.NewReader("---\ntitle: x\n# Heading\n"))
	require.NoError(t, err)
	assert.Nil(t, out.Frontmatter)
	assert.Empty(t, out.Title)
}

func TestOutline_String(t *testing.T) {
	out, err := ParseOutline(strings.NewReader(guide))
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Title: Field Guide\n")
	assert.Contains(t, s, "Frontmatter: tags, title\n")
	assert.Contains(t, s, "# Geese (lines 5-8)\n")
	assert.Contains(t, s, "    ### Routes (lines 15-16)\n")

	empty, err := ParseOutline(strings.NewReader("just text\n"))
	require.NoError(t, err)
	assert.Equal(t, "(no headings)\n", empty.String())
}

func TestOutlineMarkdownTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GUIDE.md"), []byte(guide), 0o644))
	e := connect(t, dir)

	res := call(t, e, ToolOutline, map[string]any{"path": "GUIDE.md"})
	assert.False(t, res.IsError)
	assert.Contains(t, res.Text, "## Migration (lines 9-14)")

	res = call(t, e, ToolOutline, map[string]any{"path": "../outside.md"})
	assert.True(t, res.IsError)

	res = call(t, e, ToolOutline, map[string]any{"path": "missing.md"})
	assert.True(t, res.IsError)

	res = call(t, e, ToolOutline, map[string]any{"path": ""})
	assert.True(t, res.IsError)
}
