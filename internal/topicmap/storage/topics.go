package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// GetTopic loads a topic; its type comes from the membership edge.
func (t *engineTx) GetTopic(ctx context.Context, id int64) (*model.Topic, error) {
	node, err := t.gtx.GetNode(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	typeID, err := t.meta.resolveType(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.topicFromNode(ctx, node, typeID)
}

// CreateTopic creates an instance of a registered, non-meta type and
// indexes its properties.
func (t *engineTx) CreateTopic(ctx context.Context, typeID string, props map[string]any) (*model.Topic, error) {
	if model.IsMetaType(typeID) {
		return nil, fmt.Errorf("%w: instances of %q are created through the type API",
			model.ErrContractViolation, typeID)
	}
	if err := checkUserProps(props); err != nil {
		return nil, err
	}
	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return nil, err
	}

	node, err := t.meta.createInstance(ctx, entry.nodeID, typeID, props)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(props) {
		if err := t.indexValue(ctx, node.ID, entry.tt, key, props[key]); err != nil {
			return nil, err
		}
	}
	return t.topicFromNode(ctx, node, typeID)
}

// SetTopicProperties merges props into the topic and reindexes every named
// key. A nil value removes the property. Writes to type and field nodes
// refresh the owning type inside this transaction.
func (t *engineTx) SetTopicProperties(ctx context.Context, id int64, props map[string]any) error {
	if err := checkUserProps(props); err != nil {
		return err
	}
	node, err := t.gtx.GetNode(ctx, id)
	if err != nil {
		return mapErr(err)
	}
	typeID, err := t.meta.resolveType(ctx, id)
	if err != nil {
		return err
	}

	switch typeID {
	case model.TopicTypeTypeID:
		return t.setTypeNodeProperties(ctx, node, props)
	case model.DataFieldTypeID:
		return t.setFieldNodeProperties(ctx, node, props)
	}

	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return err
	}
	if err := t.gtx.SetNodeProperties(ctx, id, reconcileTag(node, typeID, props)); err != nil {
		return err
	}
	for _, key := range sortedKeys(props) {
		if err := t.indexValue(ctx, id, entry.tt, key, props[key]); err != nil {
			return err
		}
	}
	return nil
}

func (t *engineTx) setTypeNodeProperties(ctx context.Context, node *graph.Node, props map[string]any) error {
	if changesString(node, props, model.PropTypeID) {
		return fmt.Errorf("%w: the type_id of type node %d cannot change", model.ErrContractViolation, node.ID)
	}
	if err := t.gtx.SetNodeProperties(ctx, node.ID, reconcileTag(node, model.TopicTypeTypeID, props)); err != nil {
		return err
	}
	return t.refreshType(ctx, node.ID)
}

// setFieldNodeProperties rewrites a field definition. The merged field must
// still validate, and a change of indexing mode or data type reindexes every
// instance of the owning type.
func (t *engineTx) setFieldNodeProperties(ctx context.Context, node *graph.Node, props map[string]any) error {
	if changesString(node, props, propFieldID) {
		return fmt.Errorf("%w: the field_id of field node %d cannot change", model.ErrContractViolation, node.ID)
	}
	prev := fieldFromProps(node.Props)
	if err := prev.Validate(); err != nil {
		return fmt.Errorf("%w: stored field node %d: %v", model.ErrGraphInconsistency, node.ID, err)
	}
	for _, k := range []string{propDataType, propRelatedTypeID, propEditor, propIndexingMode} {
		if v, ok := props[k]; ok && v != nil {
			if _, isString := v.(string); !isString {
				return fmt.Errorf("%w: field attribute %q must be a string", model.ErrFormat, k)
			}
		}
	}
	next := fieldFromProps(overlayProps(node.Props, props))
	if err := next.Validate(); err != nil {
		return err
	}

	if err := t.gtx.SetNodeProperties(ctx, node.ID, reconcileTag(node, model.DataFieldTypeID, props)); err != nil {
		return err
	}
	owner, err := t.meta.owningType(ctx, node.ID)
	if err != nil {
		return err
	}
	if err := t.refreshType(ctx, owner); err != nil {
		return err
	}
	if prev.IndexingMode == next.IndexingMode && prev.DataType == next.DataType {
		return nil
	}
	return t.reindexField(ctx, owner, prev)
}

// reindexField drops the entries prev produced for every instance of the
// type node and indexes the stored values again under the current field.
func (t *engineTx) reindexField(ctx context.Context, typeNodeID int64, prev *model.DataField) error {
	node, err := t.gtx.GetNode(ctx, typeNodeID)
	if err != nil {
		return mapErr(err)
	}
	typeID, _ := node.Props[model.PropTypeID].(string)
	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return err
	}

	edges, err := t.gtx.Edges(ctx, typeNodeID, graph.Outgoing, edgeInstance)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.EndID == typeNodeID {
			continue
		}
		if err := t.unindexValue(ctx, e.EndID, prev); err != nil {
			return err
		}
		inst, err := t.gtx.GetNode(ctx, e.EndID)
		if err != nil {
			return mapErr(err)
		}
		value, ok := inst.Props[prev.ID]
		if !ok {
			continue
		}
		if err := t.indexValue(ctx, inst.ID, entry.tt, prev.ID, value); err != nil {
			return err
		}
	}
	return nil
}

// overlayProps returns base with props applied; nil values delete.
func overlayProps(base, props map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(props))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range props {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// refreshType reloads a type node into the transaction overlay.
func (t *engineTx) refreshType(ctx context.Context, typeNodeID int64) error {
	entry, err := t.meta.loadTypeNode(ctx, typeNodeID)
	if err != nil {
		return err
	}
	t.pending[entry.tt.Identifier()] = entry
	return nil
}

// DeleteTopic removes every incident relation, then the topic with its
// membership edge and index entries.
func (t *engineTx) DeleteTopic(ctx context.Context, id int64) error {
	if _, err := t.gtx.GetNode(ctx, id); err != nil {
		return mapErr(err)
	}
	typeID, err := t.meta.resolveType(ctx, id)
	if err != nil {
		return err
	}
	if model.IsMetaType(typeID) {
		return fmt.Errorf("%w: %q instances cannot be deleted", model.ErrContractViolation, typeID)
	}

	edges, err := t.gtx.Edges(ctx, id, graph.Both)
	if err != nil {
		return err
	}
	// Relations first, the membership edge last.
	sort.SliceStable(edges, func(i, j int) bool {
		return !isMetaEdge(edges[i].Type) && isMetaEdge(edges[j].Type)
	})
	for _, e := range edges {
		if err := t.gtx.DeleteEdge(ctx, e.ID); err != nil {
			return fmt.Errorf("deleting edge %d of topic %d: %w", e.ID, id, err)
		}
	}
	return t.gtx.DeleteNode(ctx, id)
}

// reconcileTag adds a type tag correction to props when the stored hint
// disagrees with the membership edge.
func reconcileTag(node *graph.Node, typeID string, props map[string]any) map[string]any {
	if tag, _ := node.Props[propTypeTag].(string); tag == typeID {
		return props
	}
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[propTypeTag] = typeID
	return out
}

// changesString reports whether props assigns key a value other than the
// node's current string.
func changesString(node *graph.Node, props map[string]any, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	next, isString := v.(string)
	cur, _ := node.Props[key].(string)
	return !isString || next != cur
}

func checkUserProps(props map[string]any) error {
	if _, ok := props[propTypeTag]; ok {
		return fmt.Errorf("%w: property %q is reserved", model.ErrContractViolation, propTypeTag)
	}
	return nil
}

func sortedKeys(props map[string]any) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetTopicsByType follows the type node's membership edges.
func (t *engineTx) GetTopicsByType(ctx context.Context, typeID string) ([]*model.Topic, error) {
	entry, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return nil, err
	}
	edges, err := t.gtx.Edges(ctx, entry.nodeID, graph.Outgoing, edgeInstance)
	if err != nil {
		return nil, err
	}

	topics := make([]*model.Topic, 0, len(edges))
	for _, e := range edges {
		if e.EndID == entry.nodeID {
			continue
		}
		node, err := t.gtx.GetNode(ctx, e.EndID)
		if err != nil {
			return nil, mapErr(err)
		}
		topic, err := t.topicFromNode(ctx, node, typeID)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}
