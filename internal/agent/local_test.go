package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/toolhost"
)

func TestOpenTools_InProcess(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{ToolRoot: t.TempDir()}

	exec, err := OpenTools(ctx, cfg, "test", nil)
	require.NoError(t, err)
	defer exec.Close()

	tools, err := exec.Tools(ctx)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{toolhost.ToolReadFile, toolhost.ToolListDirectory, toolhost.ToolSearchText, toolhost.ToolOutline}, names)
}

func TestOpenTools_InvalidRoot(t *testing.T) {
	cfg := config.Config{ToolRoot: "/does/not/exist"}

	_, err := OpenTools(context.Background(), cfg, "test", nil)
	assert.Error(t, err)
}

func TestNewLocal_UnknownProvider(t *testing.T) {
	cfg := config.Config{LLMProvider: "nope", ToolRoot: t.TempDir()}

	_, _, err := NewLocal(context.Background(), cfg, "test", nil)
	assert.Error(t, err)
}
