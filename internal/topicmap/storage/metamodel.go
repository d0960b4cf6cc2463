package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// Meta-model edge types. Edges in this namespace are never relations.
const (
	metaEdgePrefix    = "dm3.meta."
	edgeInstance      = "dm3.meta.instance"
	edgeField         = "dm3.meta.field"
	edgeSequenceStart = "dm3.meta.sequence_start"
	edgeSequence      = "dm3.meta.sequence"
)

// Substrate-level property keys and index names.
const (
	propTypeTag = "dm3.type_tag"

	propFieldID       = "field_id"
	propDataType      = "data_type"
	propRelatedTypeID = "related_type_id"
	propEditor        = "editor"
	propIndexingMode  = "indexing_mode"

	indexMeta   = "meta"
	indexTopics = "topics"

	metaModelVersionKey = "core_model_version"
	modelVersion        = "1"
)

func isMetaEdge(edgeType string) bool {
	return strings.HasPrefix(edgeType, metaEdgePrefix)
}

// typeEntry is a loaded topic type together with the graph ids backing it.
// fieldNodes runs parallel to tt.DataFields.
type typeEntry struct {
	tt         *model.TopicType
	nodeID     int64
	fieldNodes []int64
}

// clone copies the entry so it can be changed without touching a published one.
func (e *typeEntry) clone() *typeEntry {
	tt := e.tt.Clone()
	return &typeEntry{
		tt:         tt,
		nodeID:     e.nodeID,
		fieldNodes: append([]int64(nil), e.fieldNodes...),
	}
}

func (e *typeEntry) fieldNode(fieldID string) (int64, bool) {
	for i, f := range e.tt.DataFields {
		if f.ID == fieldID {
			return e.fieldNodes[i], true
		}
	}
	return 0, false
}

// metaModel maps topic types onto the graph within one substrate transaction.
type metaModel struct {
	gtx graph.Tx
}

// findTypeNode looks a type node up through the meta index.
func (m metaModel) findTypeNode(ctx context.Context, typeID string) (int64, bool, error) {
	ids, err := m.gtx.FindNodes(ctx, indexMeta, model.PropTypeID, typeID)
	if err != nil {
		return 0, false, fmt.Errorf("looking up type node %q: %w", typeID, err)
	}
	switch len(ids) {
	case 0:
		return 0, false, nil
	case 1:
		return ids[0], true, nil
	default:
		return 0, false, fmt.Errorf("%w: %d type nodes for %q", model.ErrGraphInconsistency, len(ids), typeID)
	}
}

// ensureRoots creates the two meta root types on an empty graph and records
// the model version. The type-definition root is an instance of itself.
func (m metaModel) ensureRoots(ctx context.Context) error {
	roots := []struct {
		typeID     string
		label      string
		labelField string
	}{
		{model.TopicTypeTypeID, "Topic Type", model.PropLabel},
		{model.DataFieldTypeID, "Data Field", propFieldID},
	}
	for _, r := range roots {
		_, found, err := m.findTypeNode(ctx, r.typeID)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		tt := model.NewTopicType(map[string]any{
			model.PropTypeID:     r.typeID,
			model.PropLabel:      r.label,
			model.PropLabelField: r.labelField,
		}, nil)
		if _, err := m.createType(ctx, tt); err != nil {
			return err
		}
	}

	if _, ok, err := m.gtx.Meta(ctx, metaModelVersionKey); err != nil {
		return err
	} else if !ok {
		return m.gtx.SetMeta(ctx, metaModelVersionKey, modelVersion)
	}
	return nil
}

// resolveType follows the node's incoming membership edge to its type node.
func (m metaModel) resolveType(ctx context.Context, nodeID int64) (string, error) {
	edges, err := m.gtx.Edges(ctx, nodeID, graph.Incoming, edgeInstance)
	if err != nil {
		return "", err
	}
	switch len(edges) {
	case 0:
		return "", fmt.Errorf("%w: node %d has no membership edge", model.ErrUnknownType, nodeID)
	case 1:
	default:
		return "", fmt.Errorf("%w: node %d has %d membership edges", model.ErrAmbiguousType, nodeID, len(edges))
	}

	typeNode, err := m.gtx.GetNode(ctx, edges[0].StartID)
	if err != nil {
		return "", err
	}
	typeID, _ := typeNode.Props[model.PropTypeID].(string)
	if typeID == "" {
		return "", fmt.Errorf("%w: membership of node %d starts at non-type node %d",
			model.ErrGraphInconsistency, nodeID, typeNode.ID)
	}
	return typeID, nil
}

// createInstance creates a node carrying props plus a membership edge from
// the type node.
func (m metaModel) createInstance(ctx context.Context, typeNodeID int64, typeID string, props map[string]any) (*graph.Node, error) {
	stored := make(map[string]any, len(props)+1)
	for k, v := range props {
		if v != nil {
			stored[k] = v
		}
	}
	stored[propTypeTag] = typeID

	node, err := m.gtx.CreateNode(ctx, stored)
	if err != nil {
		return nil, err
	}
	if _, err := m.gtx.CreateEdge(ctx, edgeInstance, typeNodeID, node.ID, nil); err != nil {
		return nil, fmt.Errorf("linking node %d to type %q: %w", node.ID, typeID, err)
	}
	return node, nil
}

// createType persists a new type node and its field chain.
func (m metaModel) createType(ctx context.Context, tt *model.TopicType) (*typeEntry, error) {
	typeID := tt.Identifier()

	var ownerID int64
	selfMember := typeID == model.TopicTypeTypeID
	if !selfMember {
		id, found, err := m.findTypeNode(ctx, model.TopicTypeTypeID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: meta root %q missing", model.ErrGraphInconsistency, model.TopicTypeTypeID)
		}
		ownerID = id
	}

	props := make(map[string]any, len(tt.Properties)+1)
	for k, v := range tt.Properties {
		if v != nil {
			props[k] = v
		}
	}
	props[propTypeTag] = model.TopicTypeTypeID

	node, err := m.gtx.CreateNode(ctx, props)
	if err != nil {
		return nil, fmt.Errorf("creating type node %q: %w", typeID, err)
	}
	if selfMember {
		ownerID = node.ID
	}
	if _, err := m.gtx.CreateEdge(ctx, edgeInstance, ownerID, node.ID, nil); err != nil {
		return nil, err
	}
	if err := m.gtx.AddToIndex(ctx, indexMeta, node.ID, model.PropTypeID, typeID); err != nil {
		return nil, err
	}

	entry := &typeEntry{
		tt:     model.NewTopicType(tt.Properties, nil),
		nodeID: node.ID,
	}
	entry.tt.ID = node.ID
	for _, f := range tt.DataFields {
		cp := *f
		if err := m.appendField(ctx, entry, &cp); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// appendField creates a field node and links it at the end of the chain.
// The tail comes from the entry's field arena.
func (m metaModel) appendField(ctx context.Context, entry *typeEntry, f *model.DataField) error {
	if err := entry.tt.AddDataField(f); err != nil {
		return err
	}

	rootID, found, err := m.findTypeNode(ctx, model.DataFieldTypeID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: meta root %q missing", model.ErrGraphInconsistency, model.DataFieldTypeID)
	}

	node, err := m.createInstance(ctx, rootID, model.DataFieldTypeID, fieldProps(f))
	if err != nil {
		return fmt.Errorf("creating field node %q: %w", f.ID, err)
	}
	if _, err := m.gtx.CreateEdge(ctx, edgeField, entry.nodeID, node.ID, nil); err != nil {
		return err
	}

	if n := len(entry.fieldNodes); n == 0 {
		_, err = m.gtx.CreateEdge(ctx, edgeSequenceStart, entry.nodeID, node.ID, nil)
	} else {
		_, err = m.gtx.CreateEdge(ctx, edgeSequence, entry.fieldNodes[n-1], node.ID, nil)
	}
	if err != nil {
		return fmt.Errorf("linking field %q into sequence: %w", f.ID, err)
	}

	entry.fieldNodes = append(entry.fieldNodes, node.ID)
	return nil
}

// rewriteSequence drops the chain and rebuilds it in the entry's current order.
func (m metaModel) rewriteSequence(ctx context.Context, entry *typeEntry) error {
	starts, err := m.gtx.Edges(ctx, entry.nodeID, graph.Outgoing, edgeSequenceStart)
	if err != nil {
		return err
	}
	stale := starts
	for _, id := range entry.fieldNodes {
		next, err := m.gtx.Edges(ctx, id, graph.Outgoing, edgeSequence)
		if err != nil {
			return err
		}
		stale = append(stale, next...)
	}
	for _, e := range stale {
		if err := m.gtx.DeleteEdge(ctx, e.ID); err != nil {
			return err
		}
	}

	prev := entry.nodeID
	edgeType := edgeSequenceStart
	for _, id := range entry.fieldNodes {
		if _, err := m.gtx.CreateEdge(ctx, edgeType, prev, id, nil); err != nil {
			return err
		}
		prev, edgeType = id, edgeSequence
	}
	return nil
}

// loadType reads a type and walks its field chain. The chain and the
// declared field edges must agree exactly.
func (m metaModel) loadType(ctx context.Context, typeID string) (*typeEntry, error) {
	nodeID, found, err := m.findTypeNode(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownType, typeID)
	}
	return m.loadTypeNode(ctx, nodeID)
}

func (m metaModel) loadTypeNode(ctx context.Context, nodeID int64) (*typeEntry, error) {
	node, err := m.gtx.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	typeID, _ := node.Props[model.PropTypeID].(string)

	declaredEdges, err := m.gtx.Edges(ctx, nodeID, graph.Outgoing, edgeField)
	if err != nil {
		return nil, err
	}
	declared := make(map[int64]bool, len(declaredEdges))
	for _, e := range declaredEdges {
		declared[e.EndID] = true
	}

	chain, err := m.walkChain(ctx, typeID, nodeID)
	if err != nil {
		return nil, err
	}
	if len(chain) != len(declared) {
		return nil, fmt.Errorf("%w: type %q declares %d fields but its sequence has %d",
			model.ErrGraphInconsistency, typeID, len(declared), len(chain))
	}

	fields := make([]*model.DataField, 0, len(chain))
	for _, fieldNodeID := range chain {
		if !declared[fieldNodeID] {
			return nil, fmt.Errorf("%w: sequence of type %q reaches undeclared field node %d",
				model.ErrGraphInconsistency, typeID, fieldNodeID)
		}
		fnode, err := m.gtx.GetNode(ctx, fieldNodeID)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fieldFromProps(fnode.Props))
	}

	tt := model.NewTopicType(withoutInternal(node.Props), fields)
	tt.ID = nodeID
	return &typeEntry{tt: tt, nodeID: nodeID, fieldNodes: chain}, nil
}

// walkChain follows sequence_start then sequence edges. Branches and cycles
// are inconsistencies.
func (m metaModel) walkChain(ctx context.Context, typeID string, typeNodeID int64) ([]int64, error) {
	next, err := m.gtx.Edges(ctx, typeNodeID, graph.Outgoing, edgeSequenceStart)
	if err != nil {
		return nil, err
	}

	var chain []int64
	visited := map[int64]bool{}
	for len(next) > 0 {
		if len(next) > 1 {
			return nil, fmt.Errorf("%w: sequence of type %q branches", model.ErrGraphInconsistency, typeID)
		}
		id := next[0].EndID
		if visited[id] {
			return nil, fmt.Errorf("%w: sequence of type %q has a cycle", model.ErrGraphInconsistency, typeID)
		}
		visited[id] = true
		chain = append(chain, id)

		next, err = m.gtx.Edges(ctx, id, graph.Outgoing, edgeSequence)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// owningType returns the type node declaring a field node.
func (m metaModel) owningType(ctx context.Context, fieldNodeID int64) (int64, error) {
	edges, err := m.gtx.Edges(ctx, fieldNodeID, graph.Incoming, edgeField)
	if err != nil {
		return 0, err
	}
	if len(edges) != 1 {
		return 0, fmt.Errorf("%w: field node %d is declared by %d types",
			model.ErrGraphInconsistency, fieldNodeID, len(edges))
	}
	return edges[0].StartID, nil
}

func fieldProps(f *model.DataField) map[string]any {
	props := map[string]any{
		propFieldID:      f.ID,
		propDataType:     string(f.DataType),
		propEditor:       string(f.Editor),
		propIndexingMode: string(f.IndexingMode),
	}
	if f.RelatedTypeID != "" {
		props[propRelatedTypeID] = f.RelatedTypeID
	}
	return props
}

func fieldFromProps(props map[string]any) *model.DataField {
	str := func(k string) string {
		s, _ := props[k].(string)
		return s
	}
	return &model.DataField{
		ID:            str(propFieldID),
		DataType:      model.DataType(str(propDataType)),
		RelatedTypeID: str(propRelatedTypeID),
		Editor:        model.Editor(str(propEditor)),
		IndexingMode:  model.IndexingMode(str(propIndexingMode)),
	}
}

// withoutInternal strips substrate-level keys from node properties.
func withoutInternal(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == propTypeTag {
			continue
		}
		out[k] = v
	}
	return out
}
