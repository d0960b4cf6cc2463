package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/topicgraph/internal/server/graph"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TOPICGRAPH_ENV", "TOPICGRAPH_BACKEND", "TOPICGRAPH_SQLITE_PATH", "NEO4J_URI", "TOPICGRAPH_TYPES", "TOPICGRAPH_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, graph.BackendSQLite, cfg.Backend)
	assert.Equal(t, "topicgraph.db", cfg.SQLitePath)
	assert.Empty(t, cfg.TypeFiles)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TOPICGRAPH_BACKEND", "neo4j")
	t.Setenv("NEO4J_URI", "bolt://db:7687")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("TOPICGRAPH_ENV", "production")
	t.Setenv("TOPICGRAPH_TYPES", " people.json, ,places.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"people.json", "places.json"}, cfg.TypeFiles)

	opts := cfg.GraphOptions()
	assert.Equal(t, graph.BackendNeo4j, opts.Backend)
	assert.Equal(t, "bolt://db:7687", opts.Neo4j.URI)
	assert.Equal(t, "secret", opts.Neo4j.Password)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite", Config{Port: "1", Backend: graph.BackendSQLite, SQLitePath: "x.db"}, false},
		{"sqlite without path", Config{Port: "1", Backend: graph.BackendSQLite}, true},
		{"neo4j without uri", Config{Port: "1", Backend: graph.BackendNeo4j}, true},
		{"unknown backend", Config{Port: "1", Backend: "dgraph"}, true},
		{"no port", Config{Backend: graph.BackendSQLite, SQLitePath: "x.db"}, true},
		{"log level", Config{Port: "1", Backend: graph.BackendSQLite, SQLitePath: "x.db", LogLevel: "warn"}, false},
		{"bad log level", Config{Port: "1", Backend: graph.BackendSQLite, SQLitePath: "x.db", LogLevel: "chatty"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
