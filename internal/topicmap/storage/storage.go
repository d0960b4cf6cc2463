// Package storage maps topics, relations and topic types onto the generic
// property graph and implements the transactional storage contract on top
// of it: the meta-model, the type cache, the indexing policy, related-topic
// traversal and search.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// Storage opens transactions against the topic store.
type Storage interface {
	Begin(ctx context.Context) (Transaction, error)
	// TopicTypeExists is a pure lookup and needs no caller transaction.
	TopicTypeExists(ctx context.Context, typeID string) bool
	ModelVersion() string
	Close(ctx context.Context) error
}

// Transaction carries every storage operation. Nothing it writes is visible
// elsewhere until Finish commits, and Finish commits only after Success.
type Transaction interface {
	// Topics
	GetTopic(ctx context.Context, id int64) (*model.Topic, error)
	// GetTopicByValue finds a topic through a KEY-indexed field; nil when none matches.
	GetTopicByValue(ctx context.Context, key string, value any) (*model.Topic, error)
	// GetTopicsByType lists a type's instances in creation order.
	GetTopicsByType(ctx context.Context, typeID string) ([]*model.Topic, error)
	GetRelatedTopics(ctx context.Context, topicID int64, includeTypes []string, exclude []model.RelationFilter) ([]*model.Topic, error)
	SearchTopics(ctx context.Context, term, fieldID string, wholeWord bool) (*model.SearchResult, error)
	CreateTopic(ctx context.Context, typeID string, props map[string]any) (*model.Topic, error)
	SetTopicProperties(ctx context.Context, id int64, props map[string]any) error
	DeleteTopic(ctx context.Context, id int64) error

	// Relations
	// GetRelation returns the lowest-id relation connecting the two topics in
	// either direction, or nil.
	GetRelation(ctx context.Context, srcID, dstID int64) (*model.Relation, error)
	GetRelationByID(ctx context.Context, id int64) (*model.Relation, error)
	GetTopicRelations(ctx context.Context, topicID int64) ([]*model.Relation, error)
	CreateRelation(ctx context.Context, typeID string, srcID, dstID int64, props map[string]any) (*model.Relation, error)
	SetRelationProperties(ctx context.Context, id int64, props map[string]any) error
	DeleteRelation(ctx context.Context, id int64) error

	// Topic types
	CreateTopicType(ctx context.Context, tt *model.TopicType) (*model.TopicType, error)
	// GetTopicType returns the cached type; callers must not modify it.
	GetTopicType(ctx context.Context, typeID string) (*model.TopicType, error)
	TopicTypeIDs(ctx context.Context) ([]string, error)
	AddDataField(ctx context.Context, typeID string, f *model.DataField) error
	SetDataFieldOrder(ctx context.Context, typeID string, fieldIDs []string) error

	Success()
	Finish(ctx context.Context) error
}

// Engine implements Storage on a graph database.
type Engine struct {
	db      graph.Database
	cache   *typeCache
	logger  *zap.Logger
	version string
}

// Open prepares the graph for use: it creates the meta-model roots on a
// fresh database and reads the model version.
func Open(ctx context.Context, db graph.Database, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{db: db, cache: newTypeCache(), logger: logger}

	gtx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer gtx.Finish(ctx)

	m := metaModel{gtx: gtx}
	if err := m.ensureRoots(ctx); err != nil {
		return nil, fmt.Errorf("initialising meta-model: %w", err)
	}
	version, _, err := gtx.Meta(ctx, metaModelVersionKey)
	if err != nil {
		return nil, err
	}
	gtx.Success()
	if err := gtx.Finish(ctx); err != nil {
		return nil, err
	}

	e.version = version
	logger.Info("topic storage opened",
		zap.String("backend", db.Backend()),
		zap.String("model_version", version))
	return e, nil
}

// Begin starts a transaction.
func (e *Engine) Begin(ctx context.Context) (Transaction, error) {
	gtx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &engineTx{
		e:       e,
		gtx:     gtx,
		meta:    metaModel{gtx: gtx},
		pending: make(map[string]*typeEntry),
	}, nil
}

// TopicTypeExists checks the cache first and the graph on a miss. A type
// found in the graph is cached.
func (e *Engine) TopicTypeExists(ctx context.Context, typeID string) bool {
	if _, ok := e.cache.get(typeID); ok {
		return true
	}

	gtx, err := e.db.Begin(ctx)
	if err != nil {
		e.logger.Warn("type lookup failed", zap.String("type_id", typeID), zap.Error(err))
		return false
	}
	defer gtx.Finish(ctx)

	m := metaModel{gtx: gtx}
	_, err = e.cache.getOrLoad(typeID, func() (*typeEntry, error) {
		return m.loadType(ctx, typeID)
	})
	if err != nil && !errors.Is(err, model.ErrUnknownType) {
		e.logger.Warn("type lookup failed", zap.String("type_id", typeID), zap.Error(err))
	}
	return err == nil
}

// CachedTypes reports how many topic types are cached.
func (e *Engine) CachedTypes() int {
	return len(e.cache.ids())
}

// ModelVersion returns the meta-model version recorded in the graph.
func (e *Engine) ModelVersion() string {
	return e.version
}

// Close closes the underlying graph database.
func (e *Engine) Close(ctx context.Context) error {
	return e.db.Close(ctx)
}

type engineTx struct {
	e    *Engine
	gtx  graph.Tx
	meta metaModel

	// types created or changed in this transaction, published on commit
	pending map[string]*typeEntry
	success bool
}

func (t *engineTx) Success() {
	t.success = true
	t.gtx.Success()
}

func (t *engineTx) Finish(ctx context.Context) error {
	if err := t.gtx.Finish(ctx); err != nil {
		return err
	}
	if t.success {
		t.e.cache.publish(t.pending)
	}
	t.pending = nil
	return nil
}

// typeEntry resolves a type through the transaction overlay, then the cache,
// loading from the graph on a miss.
func (t *engineTx) typeEntry(ctx context.Context, typeID string) (*typeEntry, error) {
	if e, ok := t.pending[typeID]; ok {
		return e, nil
	}
	return t.e.cache.getOrLoad(typeID, func() (*typeEntry, error) {
		return t.meta.loadType(ctx, typeID)
	})
}

// topicType is typeEntry without the graph ids.
func (t *engineTx) topicType(ctx context.Context, typeID string) (*model.TopicType, error) {
	e, err := t.typeEntry(ctx, typeID)
	if err != nil {
		return nil, err
	}
	return e.tt, nil
}

// topicFromNode builds a topic from a node whose type is already known.
func (t *engineTx) topicFromNode(ctx context.Context, node *graph.Node, typeID string) (*model.Topic, error) {
	tt, err := t.topicType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	props := withoutInternal(node.Props)
	return &model.Topic{
		ID:         node.ID,
		TypeID:     typeID,
		Label:      tt.TopicLabel(props),
		Properties: props,
	}, nil
}

// mapErr translates substrate errors into the model taxonomy.
func mapErr(err error) error {
	if errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return err
}
