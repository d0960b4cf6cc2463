package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "import", "types"})
}

func TestImportAndListTypes(t *testing.T) {
	t.Setenv("TOPICGRAPH_BACKEND", "")
	t.Setenv("TOPICGRAPH_TYPES", "")
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")
	types := filepath.Join(dir, "types.json")
	require.NoError(t, os.WriteFile(types, []byte(`[{"type_id": "note", "fields": [{"id": "text", "model": {"type": "text"}}]}]`), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"--db", db, "import", types})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--db", db, "types", "note"})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--db", db, "types", "missing"})
	assert.Error(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--db", db, "--backend", "dgraph", "types"})
	assert.Error(t, root.Execute())
}
