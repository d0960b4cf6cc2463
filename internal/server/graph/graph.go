// Package graph is the untyped property-graph substrate: nodes and directed
// edges carrying scalar property maps, an exact-match index, a full-text
// index and a handful of global scalars, all behind explicit transactions.
// SQLite and Neo4j implement it.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown node or edge ids.
	ErrNotFound = errors.New("graph: not found")

	// ErrNodeHasEdges is returned when deleting a node that still has edges.
	ErrNodeHasEdges = errors.New("graph: node still has edges")

	// ErrTxFinished is returned when a finished transaction is used.
	ErrTxFinished = errors.New("graph: transaction finished")
)

// Direction selects edges relative to a node.
type Direction int

const (
	Both Direction = iota
	Outgoing
	Incoming
)

// Node is a graph vertex.
type Node struct {
	ID    int64
	Props map[string]any
}

// Edge is a directed, typed graph edge.
type Edge struct {
	ID      int64
	Type    string
	StartID int64
	EndID   int64
	Props   map[string]any
}

// Other returns the edge's endpoint opposite to nodeID.
func (e *Edge) Other(nodeID int64) int64 {
	if e.StartID == nodeID {
		return e.EndID
	}
	return e.StartID
}

// Database opens transactions against one backend.
type Database interface {
	Begin(ctx context.Context) (Tx, error)
	Backend() string
	Close(ctx context.Context) error
}

// Tx is a unit of work. Nothing is visible to other transactions before a
// successful Finish. Finish commits only when Success was called; every
// other path rolls back.
type Tx interface {
	// Nodes
	CreateNode(ctx context.Context, props map[string]any) (*Node, error)
	GetNode(ctx context.Context, id int64) (*Node, error)
	// SetNodeProperties merges props into the node; a nil value removes the key.
	SetNodeProperties(ctx context.Context, id int64, props map[string]any) error
	// DeleteNode removes a node and its index entries. It fails with
	// ErrNodeHasEdges while any edge still touches the node.
	DeleteNode(ctx context.Context, id int64) error

	// Edges
	CreateEdge(ctx context.Context, edgeType string, startID, endID int64, props map[string]any) (*Edge, error)
	GetEdge(ctx context.Context, id int64) (*Edge, error)
	SetEdgeProperties(ctx context.Context, id int64, props map[string]any) error
	DeleteEdge(ctx context.Context, id int64) error
	// Edges lists edges touching nodeID in ascending edge id order, limited
	// to the given types when any are passed.
	Edges(ctx context.Context, nodeID int64, dir Direction, types ...string) ([]*Edge, error)

	// Exact-match index
	AddToIndex(ctx context.Context, index string, nodeID int64, key string, value any) error
	RemoveFromIndex(ctx context.Context, index string, nodeID int64, key string) error
	FindNodes(ctx context.Context, index, key string, value any) ([]int64, error)

	// Full-text index. Entries are addressed by node, key and source field;
	// indexing again replaces the previous entry.
	IndexText(ctx context.Context, nodeID int64, key, field, text string) error
	RemoveText(ctx context.Context, nodeID int64, key, field string) error
	SearchText(ctx context.Context, key string, q TextQuery) ([]int64, error)

	// Global scalars
	Meta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Success()
	Finish(ctx context.Context) error
}

// encodeIndexValue gives every scalar one canonical string form so that
// lookups with 42 and 42.0 hit the same entry.
func encodeIndexValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding index value: %w", err)
	}
	return string(b), nil
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshaling properties: %w", err)
	}
	return string(b), nil
}

func decodeProps(s string) (map[string]any, error) {
	props := map[string]any{}
	if s == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, fmt.Errorf("unmarshaling properties: %w", err)
	}
	return props, nil
}

func mergeProps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}
