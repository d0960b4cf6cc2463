package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDatabase implements Database using SQLite
type SQLiteDatabase struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath and migrates it.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteDatabase, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// One connection: SQLite has a single writer, and transactions queue
	// here instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteDatabase{db: db}, nil
}

// Backend returns the backend name
func (d *SQLiteDatabase) Backend() string {
	return BackendSQLite
}

// Close closes the SQLite connection
func (d *SQLiteDatabase) Close(ctx context.Context) error {
	return d.db.Close()
}

// Begin starts a transaction
func (d *SQLiteDatabase) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx       *sql.Tx
	success  bool
	finished bool
}

func (t *sqliteTx) check() error {
	if t.finished {
		return ErrTxFinished
	}
	return nil
}

// Success marks the transaction for commit
func (t *sqliteTx) Success() {
	t.success = true
}

// Finish commits a transaction marked successful and rolls back any other
func (t *sqliteTx) Finish(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true
	if !t.success {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateNode creates a new node
func (t *sqliteTx) CreateNode(ctx context.Context, props map[string]any) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	propsJSON, err := encodeProps(props)
	if err != nil {
		return nil, err
	}

	result, err := t.tx.ExecContext(ctx, `INSERT INTO nodes (properties) VALUES (?)`, propsJSON)
	if err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	stored, _ := decodeProps(propsJSON)
	return &Node{ID: id, Props: stored}, nil
}

// GetNode retrieves a node by ID
func (t *sqliteTx) GetNode(ctx context.Context, id int64) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var properties string
	err := t.tx.QueryRowContext(ctx, `SELECT properties FROM nodes WHERE id = ?`, id).Scan(&properties)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	props, err := decodeProps(properties)
	if err != nil {
		return nil, err
	}
	return &Node{ID: id, Props: props}, nil
}

// SetNodeProperties merges properties into a node
func (t *sqliteTx) SetNodeProperties(ctx context.Context, id int64, props map[string]any) error {
	node, err := t.GetNode(ctx, id)
	if err != nil {
		return err
	}
	propsJSON, err := encodeProps(mergeProps(node.Props, props))
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE nodes SET properties = ? WHERE id = ?`, propsJSON, id)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return nil
}

// DeleteNode deletes a node without edges along with its index entries
func (t *sqliteTx) DeleteNode(ctx context.Context, id int64) error {
	if _, err := t.GetNode(ctx, id); err != nil {
		return err
	}

	var edges int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges WHERE start_id = ? OR end_id = ?`, id, id).Scan(&edges)
	if err != nil {
		return err
	}
	if edges > 0 {
		return fmt.Errorf("%w: node %d has %d", ErrNodeHasEdges, id, edges)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM node_text WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("deleting text entries: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM node_index WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("deleting index entries: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

// CreateEdge creates a directed edge between two existing nodes
func (t *sqliteTx) CreateEdge(ctx context.Context, edgeType string, startID, endID int64, props map[string]any) (*Edge, error) {
	if _, err := t.GetNode(ctx, startID); err != nil {
		return nil, err
	}
	if _, err := t.GetNode(ctx, endID); err != nil {
		return nil, err
	}
	propsJSON, err := encodeProps(props)
	if err != nil {
		return nil, err
	}

	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO edges (type, start_id, end_id, properties) VALUES (?, ?, ?, ?)`,
		edgeType, startID, endID, propsJSON)
	if err != nil {
		return nil, fmt.Errorf("inserting edge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	stored, _ := decodeProps(propsJSON)
	return &Edge{ID: id, Type: edgeType, StartID: startID, EndID: endID, Props: stored}, nil
}

// GetEdge retrieves an edge by ID
func (t *sqliteTx) GetEdge(ctx context.Context, id int64) (*Edge, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, type, start_id, end_id, properties FROM edges WHERE id = ?`, id)
	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: edge %d", ErrNotFound, id)
	}
	return edge, err
}

// SetEdgeProperties merges properties into an edge
func (t *sqliteTx) SetEdgeProperties(ctx context.Context, id int64, props map[string]any) error {
	edge, err := t.GetEdge(ctx, id)
	if err != nil {
		return err
	}
	propsJSON, err := encodeProps(mergeProps(edge.Props, props))
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE edges SET properties = ? WHERE id = ?`, propsJSON, id)
	if err != nil {
		return fmt.Errorf("updating edge: %w", err)
	}
	return nil
}

// DeleteEdge deletes an edge
func (t *sqliteTx) DeleteEdge(ctx context.Context, id int64) error {
	if err := t.check(); err != nil {
		return err
	}
	result, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting edge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: edge %d", ErrNotFound, id)
	}
	return nil
}

// Edges lists the edges touching a node
func (t *sqliteTx) Edges(ctx context.Context, nodeID int64, dir Direction, types ...string) ([]*Edge, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	var where string
	args := []any{}
	switch dir {
	case Outgoing:
		where = "start_id = ?"
		args = append(args, nodeID)
	case Incoming:
		where = "end_id = ?"
		args = append(args, nodeID)
	default:
		where = "(start_id = ? OR end_id = ?)"
		args = append(args, nodeID, nodeID)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, typ := range types {
			placeholders[i] = "?"
			args = append(args, typ)
		}
		where += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, type, start_id, end_id, properties FROM edges WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// AddToIndex adds an exact-match index entry
func (t *sqliteTx) AddToIndex(ctx context.Context, index string, nodeID int64, key string, value any) error {
	if err := t.check(); err != nil {
		return err
	}
	encoded, err := encodeIndexValue(value)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO node_index (index_name, key, value, node_id) VALUES (?, ?, ?, ?)`,
		index, key, encoded, nodeID)
	if err != nil {
		return fmt.Errorf("inserting index entry: %w", err)
	}
	return nil
}

// RemoveFromIndex removes a node's entries under key
func (t *sqliteTx) RemoveFromIndex(ctx context.Context, index string, nodeID int64, key string) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM node_index WHERE index_name = ? AND node_id = ? AND key = ?`, index, nodeID, key)
	if err != nil {
		return fmt.Errorf("deleting index entry: %w", err)
	}
	return nil
}

// FindNodes returns the ids of nodes indexed with value under key
func (t *sqliteTx) FindNodes(ctx context.Context, index, key string, value any) ([]int64, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	encoded, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT node_id FROM node_index WHERE index_name = ? AND key = ? AND value = ? ORDER BY node_id`,
		index, key, encoded)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// IndexText replaces the full-text entry of a node's field under key
func (t *sqliteTx) IndexText(ctx context.Context, nodeID int64, key, field, text string) error {
	if err := t.RemoveText(ctx, nodeID, key, field); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO node_text (text, key, field, node_id) VALUES (?, ?, ?, ?)`,
		text, key, field, nodeID)
	if err != nil {
		return fmt.Errorf("inserting text entry: %w", err)
	}
	return nil
}

// RemoveText removes the full-text entry of a node's field under key
func (t *sqliteTx) RemoveText(ctx context.Context, nodeID int64, key, field string) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM node_text WHERE node_id = ? AND key = ? AND field = ?`, nodeID, key, field)
	if err != nil {
		return fmt.Errorf("deleting text entry: %w", err)
	}
	return nil
}

// SearchText performs full-text search using FTS5
func (t *sqliteTx) SearchText(ctx context.Context, key string, q TextQuery) ([]int64, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	match := q.fts5()
	if match == "" {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT node_id FROM node_text WHERE node_text MATCH ? AND key = ? ORDER BY node_id`,
		match, key)
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	return scanIDs(rows)
}

// Meta reads a global scalar
func (t *sqliteTx) Meta(ctx context.Context, key string) (string, bool, error) {
	if err := t.check(); err != nil {
		return "", false, err
	}
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM graph_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta writes a global scalar
func (t *sqliteTx) SetMeta(ctx context.Context, key, value string) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO graph_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Helper functions

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row rowScanner) (*Edge, error) {
	var edge Edge
	var properties string
	if err := row.Scan(&edge.ID, &edge.Type, &edge.StartID, &edge.EndID, &properties); err != nil {
		return nil, err
	}
	props, err := decodeProps(properties)
	if err != nil {
		return nil, err
	}
	edge.Props = props
	return &edge, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
