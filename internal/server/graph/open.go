package graph

import (
	"context"
	"fmt"
)

// Backend names
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	SQLitePath string
	Neo4j      Config
}

// Open connects to the configured backend. An empty backend means SQLite.
func Open(ctx context.Context, opts Options) (Database, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		db, err := NewSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendNeo4j:
		if opts.Neo4j.URI == "" {
			return nil, fmt.Errorf("neo4j backend requires a URI")
		}
		db, err := NewNeo4j(ctx, opts.Neo4j)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", opts.Backend)
	}
}
