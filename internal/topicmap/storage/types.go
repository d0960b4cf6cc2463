package storage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// CreateTopicType persists a new type. A type whose id already exists is
// left untouched apart from reloading its cache entry.
func (t *engineTx) CreateTopicType(ctx context.Context, tt *model.TopicType) (*model.TopicType, error) {
	typeID := tt.Identifier()
	if typeID == "" {
		return nil, fmt.Errorf("%w: topic type without type_id", model.ErrFormat)
	}

	nodeID, found, err := t.meta.findTypeNode(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if found {
		entry, err := t.meta.loadTypeNode(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		t.pending[typeID] = entry
		t.e.logger.Debug("topic type exists, cache refreshed", zap.String("type_id", typeID))
		return entry.tt, nil
	}

	seen := make(map[string]bool, len(tt.DataFields))
	for _, f := range tt.DataFields {
		cp := *f
		if err := cp.Validate(); err != nil {
			return nil, fmt.Errorf("type %q: %w", typeID, err)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("%w: type %q declares field %q twice", model.ErrFormat, typeID, f.ID)
		}
		seen[f.ID] = true
	}

	entry, err := t.meta.createType(ctx, tt)
	if err != nil {
		return nil, err
	}
	t.pending[typeID] = entry
	t.e.logger.Debug("topic type created",
		zap.String("type_id", typeID),
		zap.Strings("fields", entry.tt.FieldIDs()))
	return entry.tt, nil
}

// GetTopicType returns the registered type.
func (t *engineTx) GetTopicType(ctx context.Context, typeID string) (*model.TopicType, error) {
	return t.topicType(ctx, typeID)
}

// TopicTypeIDs lists every registered type id, meta roots included.
func (t *engineTx) TopicTypeIDs(ctx context.Context) ([]string, error) {
	rootID, found, err := t.meta.findTypeNode(ctx, model.TopicTypeTypeID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: meta root %q missing", model.ErrGraphInconsistency, model.TopicTypeTypeID)
	}
	edges, err := t.gtx.Edges(ctx, rootID, graph.Outgoing, edgeInstance)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		node, err := t.gtx.GetNode(ctx, e.EndID)
		if err != nil {
			return nil, err
		}
		if id, _ := node.Props[model.PropTypeID].(string); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// AddDataField appends a field to a type's sequence.
func (t *engineTx) AddDataField(ctx context.Context, typeID string, f *model.DataField) error {
	if model.IsMetaType(typeID) {
		return fmt.Errorf("%w: meta type %q has no data fields", model.ErrContractViolation, typeID)
	}
	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return err
	}

	next := entry.clone()
	cp := *f
	if err := t.meta.appendField(ctx, next, &cp); err != nil {
		return err
	}
	t.pending[typeID] = next
	return nil
}

// SetDataFieldOrder reorders a type's sequence and rewrites its chain.
// fieldIDs must name every field exactly once.
func (t *engineTx) SetDataFieldOrder(ctx context.Context, typeID string, fieldIDs []string) error {
	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return err
	}

	next := entry.clone()
	if err := next.tt.SetDataFieldOrder(fieldIDs); err != nil {
		return err
	}
	arena := make([]int64, 0, len(fieldIDs))
	for _, id := range fieldIDs {
		nodeID, _ := entry.fieldNode(id)
		arena = append(arena, nodeID)
	}
	next.fieldNodes = arena

	if err := t.meta.rewriteSequence(ctx, next); err != nil {
		return err
	}
	t.pending[typeID] = next
	return nil
}
