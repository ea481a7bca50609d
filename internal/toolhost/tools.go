package toolhost

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names.
const (
	ToolReadFile      = "read_file"
	ToolListDirectory = "list_directory"
	ToolSearchText    = "search_text"
	ToolOutline       = "outline_markdown"
)

const (
	defaultMaxBytes = 64 << 10
	maxReadBytes    = 1 << 20
	maxListEntries  = 500
	maxMatches      = 100
	maxSearchFile   = 1 << 20
	maxMatchLine    = 240
)

// skipDirs are never descended into by search_text.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

func registerTools(server *mcp.Server, root *Root, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolReadFile,
		Description: "Read a text file below the workspace root",
	}, newReadFileHandler(root, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListDirectory,
		Description: "List the entries of a directory below the workspace root; directories end with /",
	}, newListDirectoryHandler(root, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSearchText,
		Description: "Search files below a directory for lines matching a regular expression",
	}, newSearchTextHandler(root, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolOutline,
		Description: "Show the title, frontmatter keys and heading tree of a markdown file with line ranges",
	}, newOutlineMarkdownHandler(root, logger))
}

// ReadFileInput defines the input schema for the read_file tool.
type ReadFileInput struct {
	Path     string `json:"path" jsonschema:"File path, relative to the workspace root"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"Maximum bytes to return (default 65536)"`
}

func newReadFileHandler(root *Root, logger *slog.Logger) mcp.ToolHandlerFor[ReadFileInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ReadFileInput) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(input.Path) == "" {
			return ErrorResult("path cannot be empty", "Provide a file path"), nil, nil
		}
		limit := input.MaxBytes
		if limit <= 0 {
			limit = defaultMaxBytes
		}
		limit = min(limit, maxReadBytes)

		path, err := root.Resolve(input.Path)
		if err != nil {
			return ErrorResult(err.Error(), "Use a path inside "+root.Dir()), nil, nil
		}

		f, err := os.Open(path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot open %s", input.Path), hintFor(err)), nil, nil
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot stat %s", input.Path), hintFor(err)), nil, nil
		}
		if info.IsDir() {
			return ErrorResult(input.Path+" is a directory", "Use list_directory instead"), nil, nil
		}

		data, err := io.ReadAll(io.LimitReader(f, int64(limit)))
		if err != nil {
			logger.Warn("read_file failed", "path", path, "error", err)
			return ErrorResult(fmt.Sprintf("cannot read %s", input.Path), ""), nil, nil
		}
		if isBinary(data) {
			return ErrorResult(input.Path+" looks like a binary file", ""), nil, nil
		}

		text := string(data)
		if info.Size() > int64(len(data)) {
			text += fmt.Sprintf("\n[truncated: showed %d of %d bytes]", len(data), info.Size())
		}
		return TextResult(text), nil, nil
	}
}

// ListDirectoryInput defines the input schema for the list_directory tool.
type ListDirectoryInput struct {
	Path string `json:"path,omitempty" jsonschema:"Directory path, relative to the workspace root (default: the root)"`
}

func newListDirectoryHandler(root *Root, logger *slog.Logger) mcp.ToolHandlerFor[ListDirectoryInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDirectoryInput) (*mcp.CallToolResult, any, error) {
		path, err := root.Resolve(input.Path)
		if err != nil {
			return ErrorResult(err.Error(), "Use a path inside "+root.Dir()), nil, nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot list %s", displayPath(input.Path)), hintFor(err)), nil, nil
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		slices.Sort(names)

		logger.Debug("list_directory", "path", path, "entries", len(entries))
		return ListResult(names, maxListEntries, "(empty directory)"), nil, nil
	}
}

// SearchTextInput defines the input schema for the search_text tool.
type SearchTextInput struct {
	Pattern string `json:"pattern" jsonschema:"Regular expression (RE2 syntax) to search for"`
	Path    string `json:"path,omitempty" jsonschema:"Directory or file to search, relative to the workspace root (default: the root)"`
}

func newSearchTextHandler(root *Root, logger *slog.Logger) mcp.ToolHandlerFor[SearchTextInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchTextInput) (*mcp.CallToolResult, any, error) {
		if input.Pattern == "" {
			return ErrorResult("pattern cannot be empty", "Provide a regular expression"), nil, nil
		}
		re, err := regexp.Compile(input.Pattern)
		if err != nil {
			return ErrorResult("invalid pattern: "+err.Error(), "Use RE2 syntax"), nil, nil
		}

		start, err := root.Resolve(input.Path)
		if err != nil {
			return ErrorResult(err.Error(), "Use a path inside "+root.Dir()), nil, nil
		}

		var matches []string
		truncated := false
		walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != start && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			found, err := searchFile(path, re, maxMatches-len(matches))
			if err != nil {
				logger.Debug("search_text skipped file", "path", path, "error", err)
				return nil
			}
			for _, m := range found {
				matches = append(matches, root.Rel(path)+":"+m)
			}
			if len(matches) >= maxMatches {
				truncated = true
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			return ErrorResult("search interrupted", walkErr.Error()), nil, nil
		}

		if len(matches) == 0 {
			return TextResult(fmt.Sprintf("No matches for %q", input.Pattern)), nil, nil
		}
		if truncated {
			matches = append(matches, fmt.Sprintf("[stopped after %d matches]", maxMatches))
		}
		return ListResult(matches, 0, ""), nil, nil
	}
}

// searchFile returns up to limit "line: text" matches from a text file.
func searchFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSearchFile {
		return nil, errors.New("file too large")
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, errors.New("binary file")
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSearchFile)
	for n := 1; scanner.Scan() && len(out) < limit; n++ {
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%d: %s", n, truncate(strings.TrimSpace(line), maxMatchLine)))
		}
	}
	return out, scanner.Err()
}

// isBinary reports whether data has a NUL byte in its first 8KB.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 8<<10)], 0) >= 0
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "Check the path with list_directory"
	case errors.Is(err, fs.ErrPermission):
		return "Permission denied"
	default:
		return ""
	}
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
