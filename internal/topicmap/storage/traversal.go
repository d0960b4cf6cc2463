package storage

import (
	"context"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// relatedDepth is the distance GetRelatedTopics looks at.
const relatedDepth = 1

// traversal is a breadth-first walk over relation edges. Meta-model edges
// are never followed.
type traversal struct {
	tx       *engineTx
	maxDepth int
	include  map[string]bool
	exclude  []model.RelationFilter
}

// hit is a node the walk accepted.
type hit struct {
	node   *graph.Node
	typeID string
	depth  int
}

func (w *traversal) excluded(e *graph.Edge, from int64) bool {
	for _, f := range w.exclude {
		if f.Excludes(e.Type, e.StartID == from) {
			return true
		}
	}
	return false
}

// run walks from start. A node is accepted through the first edge that no
// filter excludes, so hits come out in the order of those edges' ids.
func (w *traversal) run(ctx context.Context, start int64) ([]hit, error) {
	seen := map[int64]bool{start: true}
	frontier := []int64{start}
	var hits []hit

	for depth := 1; depth <= w.maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, from := range frontier {
			edges, err := w.tx.gtx.Edges(ctx, from, graph.Both)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if isMetaEdge(e.Type) {
					continue
				}
				other := e.Other(from)
				if seen[other] || w.excluded(e, from) {
					continue
				}
				seen[other] = true
				next = append(next, other)

				node, typeID, err := w.tx.nodeType(ctx, other)
				if err != nil {
					return nil, err
				}
				if len(w.include) > 0 && !w.include[typeID] {
					continue
				}
				hits = append(hits, hit{node: node, typeID: typeID, depth: depth})
			}
		}
		frontier = next
	}
	return hits, nil
}

// nodeType loads a node and its type, trusting the type tag when present
// and falling back to the membership edge.
func (t *engineTx) nodeType(ctx context.Context, id int64) (*graph.Node, string, error) {
	node, err := t.gtx.GetNode(ctx, id)
	if err != nil {
		return nil, "", mapErr(err)
	}
	if tag, _ := node.Props[propTypeTag].(string); tag != "" {
		return node, tag, nil
	}
	typeID, err := t.meta.resolveType(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return node, typeID, nil
}

// GetRelatedTopics returns the topics one relation away from topicID.
func (t *engineTx) GetRelatedTopics(ctx context.Context, topicID int64, includeTypes []string, exclude []model.RelationFilter) ([]*model.Topic, error) {
	if _, err := t.gtx.GetNode(ctx, topicID); err != nil {
		return nil, mapErr(err)
	}

	w := &traversal{tx: t, maxDepth: relatedDepth, exclude: exclude}
	if len(includeTypes) > 0 {
		w.include = make(map[string]bool, len(includeTypes))
		for _, id := range includeTypes {
			w.include[id] = true
		}
	}

	hits, err := w.run(ctx, topicID)
	if err != nil {
		return nil, err
	}
	topics := make([]*model.Topic, 0, len(hits))
	for _, h := range hits {
		topic, err := t.topicFromNode(ctx, h.node, h.typeID)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}
