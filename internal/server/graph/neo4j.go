package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jDatabase implements Database on a Neo4j server. Nodes and edges carry
// their own integer ids (gid) drawn from a sequence node, and properties are
// stored as a JSON string since Neo4j doesn't support nested maps.
type Neo4jDatabase struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j connects to Neo4j and makes sure the lookup indexes exist.
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jDatabase, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	d := &Neo4jDatabase{driver: driver, database: database}
	if err := d.EnsureIndexes(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return d, nil
}

// EnsureIndexes creates the constraints and indexes the queries rely on.
func (d *Neo4jDatabase) EnsureIndexes(ctx context.Context) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT graph_node_gid IF NOT EXISTS FOR (n:GraphNode) REQUIRE n.gid IS UNIQUE`,
		`CREATE CONSTRAINT graph_sequence_name IF NOT EXISTS FOR (s:GraphSequence) REQUIRE s.name IS UNIQUE`,
		`CREATE CONSTRAINT graph_meta_key IF NOT EXISTS FOR (m:GraphMeta) REQUIRE m.key IS UNIQUE`,
		`CREATE INDEX graph_edge_gid IF NOT EXISTS FOR ()-[r:GRAPH_EDGE]-() ON (r.gid)`,
		`CREATE INDEX index_entry_lookup IF NOT EXISTS FOR (e:IndexEntry) ON (e.index, e.key, e.value)`,
		`CREATE INDEX index_entry_node IF NOT EXISTS FOR (e:IndexEntry) ON (e.node)`,
		`CREATE INDEX text_entry_key IF NOT EXISTS FOR (e:TextEntry) ON (e.key)`,
		`CREATE INDEX text_entry_node IF NOT EXISTS FOR (e:TextEntry) ON (e.node)`,
	}
	for _, stmt := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("creating neo4j index: %w", err)
		}
	}
	return nil
}

// Backend returns the backend name
func (d *Neo4jDatabase) Backend() string {
	return BackendNeo4j
}

// Close closes the Neo4j connection
func (d *Neo4jDatabase) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Begin opens a session and an explicit transaction on it.
func (d *Neo4jDatabase) Begin(ctx context.Context) (Tx, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &neo4jTx{session: session, tx: tx}, nil
}

type neo4jTx struct {
	session  neo4j.SessionWithContext
	tx       neo4j.ExplicitTransaction
	success  bool
	finished bool
}

func (t *neo4jTx) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	if t.finished {
		return nil, ErrTxFinished
	}
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func (t *neo4jTx) nextID(ctx context.Context, sequence string) (int64, error) {
	records, err := t.run(ctx, `
		MERGE (s:GraphSequence {name: $name})
		ON CREATE SET s.value = 0
		SET s.value = s.value + 1
		RETURN s.value AS id
	`, map[string]any{"name": sequence})
	if err != nil {
		return 0, fmt.Errorf("allocating %s id: %w", sequence, err)
	}
	return recordInt(records[0], "id"), nil
}

// Success marks the transaction for commit
func (t *neo4jTx) Success() {
	t.success = true
}

// Finish commits a transaction marked successful and rolls back any other
func (t *neo4jTx) Finish(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true
	defer t.session.Close(ctx)

	if !t.success {
		return t.tx.Rollback(ctx)
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateNode creates a new node
func (t *neo4jTx) CreateNode(ctx context.Context, props map[string]any) (*Node, error) {
	propsJSON, err := encodeProps(props)
	if err != nil {
		return nil, err
	}
	id, err := t.nextID(ctx, "node")
	if err != nil {
		return nil, err
	}
	_, err = t.run(ctx, `CREATE (n:GraphNode {gid: $gid, properties: $properties})`,
		map[string]any{"gid": id, "properties": propsJSON})
	if err != nil {
		return nil, fmt.Errorf("creating node: %w", err)
	}

	stored, _ := decodeProps(propsJSON)
	return &Node{ID: id, Props: stored}, nil
}

// GetNode retrieves a node by ID
func (t *neo4jTx) GetNode(ctx context.Context, id int64) (*Node, error) {
	records, err := t.run(ctx, `MATCH (n:GraphNode {gid: $gid}) RETURN n.properties AS properties`,
		map[string]any{"gid": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}

	props, err := decodeProps(recordString(records[0], "properties"))
	if err != nil {
		return nil, err
	}
	return &Node{ID: id, Props: props}, nil
}

// SetNodeProperties merges properties into a node
func (t *neo4jTx) SetNodeProperties(ctx context.Context, id int64, props map[string]any) error {
	node, err := t.GetNode(ctx, id)
	if err != nil {
		return err
	}
	propsJSON, err := encodeProps(mergeProps(node.Props, props))
	if err != nil {
		return err
	}
	_, err = t.run(ctx, `MATCH (n:GraphNode {gid: $gid}) SET n.properties = $properties`,
		map[string]any{"gid": id, "properties": propsJSON})
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return nil
}

// DeleteNode deletes a node without edges along with its index entries
func (t *neo4jTx) DeleteNode(ctx context.Context, id int64) error {
	if _, err := t.GetNode(ctx, id); err != nil {
		return err
	}

	records, err := t.run(ctx, `
		MATCH (n:GraphNode {gid: $gid})
		OPTIONAL MATCH (n)-[r:GRAPH_EDGE]-()
		RETURN count(r) AS edges
	`, map[string]any{"gid": id})
	if err != nil {
		return err
	}
	if edges := recordInt(records[0], "edges"); edges > 0 {
		return fmt.Errorf("%w: node %d has %d", ErrNodeHasEdges, id, edges)
	}

	params := map[string]any{"gid": id}
	if _, err := t.run(ctx, `MATCH (e:IndexEntry {node: $gid}) DELETE e`, params); err != nil {
		return fmt.Errorf("deleting index entries: %w", err)
	}
	if _, err := t.run(ctx, `MATCH (e:TextEntry {node: $gid}) DELETE e`, params); err != nil {
		return fmt.Errorf("deleting text entries: %w", err)
	}
	if _, err := t.run(ctx, `MATCH (n:GraphNode {gid: $gid}) DELETE n`, params); err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

// CreateEdge creates a directed edge between two existing nodes
func (t *neo4jTx) CreateEdge(ctx context.Context, edgeType string, startID, endID int64, props map[string]any) (*Edge, error) {
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
	id, err := t.nextID(ctx, "edge")
	if err != nil {
		return nil, err
	}

	_, err = t.run(ctx, `
		MATCH (a:GraphNode {gid: $start}), (b:GraphNode {gid: $end})
		CREATE (a)-[:GRAPH_EDGE {gid: $gid, type: $type, properties: $properties}]->(b)
	`, map[string]any{
		"start":      startID,
		"end":        endID,
		"gid":        id,
		"type":       edgeType,
		"properties": propsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("creating edge: %w", err)
	}

	stored, _ := decodeProps(propsJSON)
	return &Edge{ID: id, Type: edgeType, StartID: startID, EndID: endID, Props: stored}, nil
}

const edgeReturn = `RETURN r.gid AS gid, r.type AS type, startNode(r).gid AS start, endNode(r).gid AS end, r.properties AS properties`

// GetEdge retrieves an edge by ID
func (t *neo4jTx) GetEdge(ctx context.Context, id int64) (*Edge, error) {
	records, err := t.run(ctx, `MATCH ()-[r:GRAPH_EDGE {gid: $gid}]->() `+edgeReturn,
		map[string]any{"gid": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: edge %d", ErrNotFound, id)
	}
	return recordEdge(records[0])
}

// SetEdgeProperties merges properties into an edge
func (t *neo4jTx) SetEdgeProperties(ctx context.Context, id int64, props map[string]any) error {
	edge, err := t.GetEdge(ctx, id)
	if err != nil {
		return err
	}
	propsJSON, err := encodeProps(mergeProps(edge.Props, props))
	if err != nil {
		return err
	}
	_, err = t.run(ctx, `MATCH ()-[r:GRAPH_EDGE {gid: $gid}]->() SET r.properties = $properties`,
		map[string]any{"gid": id, "properties": propsJSON})
	if err != nil {
		return fmt.Errorf("updating edge: %w", err)
	}
	return nil
}

// DeleteEdge deletes an edge
func (t *neo4jTx) DeleteEdge(ctx context.Context, id int64) error {
	if _, err := t.GetEdge(ctx, id); err != nil {
		return err
	}
	_, err := t.run(ctx, `MATCH ()-[r:GRAPH_EDGE {gid: $gid}]->() DELETE r`, map[string]any{"gid": id})
	if err != nil {
		return fmt.Errorf("deleting edge: %w", err)
	}
	return nil
}

// Edges lists the edges touching a node
func (t *neo4jTx) Edges(ctx context.Context, nodeID int64, dir Direction, types ...string) ([]*Edge, error) {
	var pattern string
	switch dir {
	case Outgoing:
		pattern = `(n:GraphNode {gid: $gid})-[r:GRAPH_EDGE]->()`
	case Incoming:
		pattern = `(n:GraphNode {gid: $gid})<-[r:GRAPH_EDGE]-()`
	default:
		pattern = `(n:GraphNode {gid: $gid})-[r:GRAPH_EDGE]-()`
	}

	typeList := make([]any, len(types))
	for i, typ := range types {
		typeList[i] = typ
	}

	records, err := t.run(ctx, `
		MATCH `+pattern+`
		WHERE size($types) = 0 OR r.type IN $types
		`+edgeReturn+`
		ORDER BY gid
	`, map[string]any{"gid": nodeID, "types": typeList})
	if err != nil {
		return nil, err
	}

	// An undirected match reports a self loop once per endpoint.
	var edges []*Edge
	seen := make(map[int64]bool, len(records))
	for _, rec := range records {
		edge, err := recordEdge(rec)
		if err != nil {
			return nil, err
		}
		if seen[edge.ID] {
			continue
		}
		seen[edge.ID] = true
		edges = append(edges, edge)
	}
	return edges, nil
}

// AddToIndex adds an exact-match index entry
func (t *neo4jTx) AddToIndex(ctx context.Context, index string, nodeID int64, key string, value any) error {
	encoded, err := encodeIndexValue(value)
	if err != nil {
		return err
	}
	_, err = t.run(ctx, `MERGE (:IndexEntry {index: $index, key: $key, value: $value, node: $node})`,
		map[string]any{"index": index, "key": key, "value": encoded, "node": nodeID})
	if err != nil {
		return fmt.Errorf("creating index entry: %w", err)
	}
	return nil
}

// RemoveFromIndex removes a node's entries under key
func (t *neo4jTx) RemoveFromIndex(ctx context.Context, index string, nodeID int64, key string) error {
	_, err := t.run(ctx, `MATCH (e:IndexEntry {index: $index, key: $key, node: $node}) DELETE e`,
		map[string]any{"index": index, "key": key, "node": nodeID})
	if err != nil {
		return fmt.Errorf("deleting index entry: %w", err)
	}
	return nil
}

// FindNodes returns the ids of nodes indexed with value under key
func (t *neo4jTx) FindNodes(ctx context.Context, index, key string, value any) ([]int64, error) {
	encoded, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	records, err := t.run(ctx, `
		MATCH (e:IndexEntry {index: $index, key: $key, value: $value})
		RETURN DISTINCT e.node AS node
		ORDER BY node
	`, map[string]any{"index": index, "key": key, "value": encoded})
	if err != nil {
		return nil, err
	}
	return recordIDs(records), nil
}

// IndexText replaces the full-text entry of a node's field under key
func (t *neo4jTx) IndexText(ctx context.Context, nodeID int64, key, field, text string) error {
	if err := t.RemoveText(ctx, nodeID, key, field); err != nil {
		return err
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	_, err := t.run(ctx, `CREATE (:TextEntry {key: $key, field: $field, node: $node, tokens: $tokens})`,
		map[string]any{"key": key, "field": field, "node": nodeID, "tokens": tokens})
	if err != nil {
		return fmt.Errorf("creating text entry: %w", err)
	}
	return nil
}

// RemoveText removes the full-text entry of a node's field under key
func (t *neo4jTx) RemoveText(ctx context.Context, nodeID int64, key, field string) error {
	_, err := t.run(ctx, `MATCH (e:TextEntry {key: $key, field: $field, node: $node}) DELETE e`,
		map[string]any{"key": key, "field": field, "node": nodeID})
	if err != nil {
		return fmt.Errorf("deleting text entry: %w", err)
	}
	return nil
}

// SearchText matches token lists stored on text entries
func (t *neo4jTx) SearchText(ctx context.Context, key string, q TextQuery) ([]int64, error) {
	whole, prefix := q.split()
	if len(whole) == 0 && prefix == "" {
		return nil, nil
	}
	if whole == nil {
		whole = []string{}
	}
	records, err := t.run(ctx, `
		MATCH (e:TextEntry {key: $key})
		WHERE all(term IN $whole WHERE term IN e.tokens)
		  AND ($prefix = '' OR any(tok IN e.tokens WHERE tok STARTS WITH $prefix))
		RETURN DISTINCT e.node AS node
		ORDER BY node
	`, map[string]any{"key": key, "whole": whole, "prefix": prefix})
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	return recordIDs(records), nil
}

// Meta reads a global scalar
func (t *neo4jTx) Meta(ctx context.Context, key string) (string, bool, error) {
	records, err := t.run(ctx, `MATCH (m:GraphMeta {key: $key}) RETURN m.value AS value`,
		map[string]any{"key": key})
	if err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return recordString(records[0], "value"), true, nil
}

// SetMeta writes a global scalar
func (t *neo4jTx) SetMeta(ctx context.Context, key, value string) error {
	_, err := t.run(ctx, `MERGE (m:GraphMeta {key: $key}) SET m.value = $value`,
		map[string]any{"key": key, "value": value})
	return err
}

// Record helpers

func recordInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recordIDs(records []*neo4j.Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, recordInt(rec, "node"))
	}
	return ids
}

func recordEdge(rec *neo4j.Record) (*Edge, error) {
	props, err := decodeProps(recordString(rec, "properties"))
	if err != nil {
		return nil, err
	}
	return &Edge{
		ID:      recordInt(rec, "gid"),
		Type:    recordString(rec, "type"),
		StartID: recordInt(rec, "start"),
		EndID:   recordInt(rec, "end"),
		Props:   props,
	}, nil
}
