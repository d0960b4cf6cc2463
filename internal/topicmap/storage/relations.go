package storage

import (
	"context"
	"fmt"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

func relationFromEdge(e *graph.Edge) *model.Relation {
	return &model.Relation{
		ID:         e.ID,
		TypeID:     e.Type,
		SrcTopicID: e.StartID,
		DstTopicID: e.EndID,
		Properties: e.Props,
	}
}

// relationEdge loads an edge and hides meta-model edges behind ErrNotFound.
func (t *engineTx) relationEdge(ctx context.Context, id int64) (*graph.Edge, error) {
	e, err := t.gtx.GetEdge(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if isMetaEdge(e.Type) {
		return nil, fmt.Errorf("%w: relation %d", model.ErrNotFound, id)
	}
	return e, nil
}

// GetRelation returns the lowest-id relation between the two topics in
// either direction, or nil when they are not related.
func (t *engineTx) GetRelation(ctx context.Context, srcID, dstID int64) (*model.Relation, error) {
	for _, id := range []int64{srcID, dstID} {
		if _, err := t.gtx.GetNode(ctx, id); err != nil {
			return nil, mapErr(err)
		}
	}

	edges, err := t.gtx.Edges(ctx, srcID, graph.Both)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if isMetaEdge(e.Type) {
			continue
		}
		if e.Other(srcID) == dstID {
			return relationFromEdge(e), nil
		}
	}
	return nil, nil
}

// GetRelationByID loads one relation.
func (t *engineTx) GetRelationByID(ctx context.Context, id int64) (*model.Relation, error) {
	e, err := t.relationEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	return relationFromEdge(e), nil
}

// GetTopicRelations lists the relations touching a topic, ordered by id.
func (t *engineTx) GetTopicRelations(ctx context.Context, topicID int64) ([]*model.Relation, error) {
	if _, err := t.gtx.GetNode(ctx, topicID); err != nil {
		return nil, mapErr(err)
	}
	edges, err := t.gtx.Edges(ctx, topicID, graph.Both)
	if err != nil {
		return nil, err
	}
	rels := make([]*model.Relation, 0, len(edges))
	for _, e := range edges {
		if !isMetaEdge(e.Type) {
			rels = append(rels, relationFromEdge(e))
		}
	}
	return rels, nil
}

// CreateRelation links two existing topics. Relation types are free-form
// outside the meta namespace.
func (t *engineTx) CreateRelation(ctx context.Context, typeID string, srcID, dstID int64, props map[string]any) (*model.Relation, error) {
	if typeID == "" {
		return nil, fmt.Errorf("%w: relation without type", model.ErrContractViolation)
	}
	if isMetaEdge(typeID) {
		return nil, fmt.Errorf("%w: relation type %q is reserved", model.ErrContractViolation, typeID)
	}
	e, err := t.gtx.CreateEdge(ctx, typeID, srcID, dstID, props)
	if err != nil {
		return nil, mapErr(err)
	}
	return relationFromEdge(e), nil
}

// SetRelationProperties merges props into a relation.
func (t *engineTx) SetRelationProperties(ctx context.Context, id int64, props map[string]any) error {
	if _, err := t.relationEdge(ctx, id); err != nil {
		return err
	}
	return t.gtx.SetEdgeProperties(ctx, id, props)
}

// DeleteRelation removes a relation.
func (t *engineTx) DeleteRelation(ctx context.Context, id int64) error {
	if _, err := t.relationEdge(ctx, id); err != nil {
		return err
	}
	return t.gtx.DeleteEdge(ctx, id)
}
