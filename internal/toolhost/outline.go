package toolhost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)(?:\s+#+)?\s*$`)

// Outline is the heading structure of a markdown document.
type Outline struct {
	Title       string
	Frontmatter map[string]any
	Headings    []Heading
}

// Heading is one markdown heading and the lines it spans.
type Heading struct {
	Level int
	Text  string
	Start int // 1-based line of the heading
	End   int // last line before the next heading of any level
}

// ParseOutline extracts the frontmatter and heading structure of a markdown
// document. Headings inside fenced code blocks are ignored. Line numbers
// count from the top of the file, frontmatter included.
func ParseOutline(r io.Reader) (Outline, error) {
	var (
		out     Outline
		fmLines []string
		inFront bool
		inFence bool
		lineNum int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSearchFile)
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case lineNum == 1 && line == "---":
			inFront = true
			continue
		case inFront:
			if line == "---" {
				inFront = false
				continue
			}
			fmLines = append(fmLines, line)
			continue
		}

		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if n := len(out.Headings); n > 0 {
			out.Headings[n-1].End = lineNum - 1
		}
		out.Headings = append(out.Headings, Heading{Level: len(m[1]), Text: m[2], Start: lineNum})
	}
	if err := scanner.Err(); err != nil {
		return Outline{}, err
	}
	if n := len(out.Headings); n > 0 {
		out.Headings[n-1].End = lineNum
	}

	// An unterminated frontmatter block yields no frontmatter.
	if len(fmLines) > 0 && !inFront {
		fm := make(map[string]any)
		if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &fm); err == nil {
			out.Frontmatter = fm
		}
	}
	out.Title = outlineTitle(out)
	return out, nil
}

// outlineTitle prefers a frontmatter title or name, then the first h1.
func outlineTitle(o Outline) string {
	for _, key := range []string{"title", "name"} {
		if s, ok := o.Frontmatter[key].(string); ok && s != "" {
			return s
		}
	}
	for _, h := range o.Headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return ""
}

// String renders the outline as an indented list with line ranges.
func (o Outline) String() string {
	var b strings.Builder
	if o.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", o.Title)
	}
	if len(o.Frontmatter) > 0 {
		keys := make([]string, 0, len(o.Frontmatter))
		for k := range o.Frontmatter {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintf(&b, "Frontmatter: %s\n", strings.Join(keys, ", "))
	}
	if len(o.Headings) == 0 {
		b.WriteString("(no headings)\n")
		return b.String()
	}
	for _, h := range o.Headings {
		fmt.Fprintf(&b, "%s%s %s (lines %d-%d)\n",
			strings.Repeat("  ", h.Level-1), strings.Repeat("#", h.Level), h.Text, h.Start, h.End)
	}
	return b.String()
}

// OutlineMarkdownInput defines the input schema for the outline_markdown tool.
type OutlineMarkdownInput struct {
	Path string `json:"path" jsonschema:"Markdown file path, relative to the workspace root"`
}

func newOutlineMarkdownHandler(root *Root, logger *slog.Logger) mcp.ToolHandlerFor[OutlineMarkdownInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input OutlineMarkdownInput) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(input.Path) == "" {
			return ErrorResult("path cannot be empty", "Provide a markdown file path"), nil, nil
		}
		path, err := root.Resolve(input.Path)
		if err != nil {
			return ErrorResult(err.Error(), "Use a path inside "+root.Dir()), nil, nil
		}

		f, err := os.Open(path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot open %s", input.Path), hintFor(err)), nil, nil
		}
		defer f.Close()

		outline, err := ParseOutline(io.LimitReader(f, maxSearchFile))
		if err != nil {
			logger.Warn("outline_markdown failed", "path", path, "error", err)
			return ErrorResult(fmt.Sprintf("cannot read %s", input.Path), "Use read_file for files that are not markdown"), nil, nil
		}
		return TextResult(outline.String()), nil, nil
	}
}
