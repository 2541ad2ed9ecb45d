package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlGraph = `
nodes:
  - id: start
    type: start
  - id: ask
    type: question
    data:
      prompt: What is your name?
      variable: name
edges:
  - source: start
    target: ask
`

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestActiveGraphYAML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "clinic.yaml", yamlGraph)
	src := NewGraphSource(dir)

	active, err := src.ActiveGraph(context.Background(), "clinic")
	require.NoError(t, err)
	assert.Equal(t, "clinic", active.TenantID)

	node, ok := active.Graph.Node("ask")
	require.True(t, ok)
	assert.Equal(t, domain.KindInput, node.Kind)
	assert.Equal(t, "name", node.Data.(domain.InputData).Variable)

	again, err := src.ActiveGraph(context.Background(), "clinic")
	require.NoError(t, err)
	assert.Equal(t, active.ActivationID, again.ActivationID)

	write(t, dir, "clinic.yaml", yamlGraph+"  - source: ask\n    target: start\n")
	edited, err := src.ActiveGraph(context.Background(), "clinic")
	require.NoError(t, err)
	assert.NotEqual(t, active.ActivationID, edited.ActivationID)
}

func TestActiveGraphJSON(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "shop.json", `{"nodes":[{"id":"s","type":"start"}],"edges":[]}`)

	active, err := NewGraphSource(dir).ActiveGraph(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 1, active.Graph.Len())
}

func TestActiveGraphMissing(t *testing.T) {
	src := NewGraphSource(t.TempDir())
	for _, tenant := range []string{"nobody", "", "../etc", "a/b"} {
		_, err := src.ActiveGraph(context.Background(), tenant)
		assert.ErrorIs(t, err, domain.ErrNoActiveFlow, tenant)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode("bad.json", []byte(`{"nodes": [`))
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	_, err = Decode("bad.yaml", []byte("nodes: [\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}
