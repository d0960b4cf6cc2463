package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// SearchTopics runs a full-text search under fieldID's key, or the shared
// default key when fieldID is empty, and records it as a bucket topic
// related to every match. Buckets never match.
func (t *engineTx) SearchTopics(ctx context.Context, term, fieldID string, wholeWord bool) (*model.SearchResult, error) {
	key := fieldID
	if key == "" {
		key = model.DefaultFulltextKey
	}

	ids, err := t.searchIDs(ctx, key, term, wholeWord)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", term, err)
	}

	topics := make([]*model.Topic, 0, len(ids))
	for _, id := range ids {
		node, err := t.gtx.GetNode(ctx, id)
		if err != nil {
			return nil, mapErr(err)
		}
		typeID, err := t.meta.resolveType(ctx, id)
		if err != nil {
			return nil, err
		}
		if typeID == model.SearchResultTypeID {
			continue
		}
		topic, err := t.topicFromNode(ctx, node, typeID)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}

	bucket, err := t.CreateTopic(ctx, model.SearchResultTypeID, map[string]any{
		model.SearchTermFieldID: term,
	})
	if err != nil {
		return nil, fmt.Errorf("creating search bucket: %w", err)
	}
	for _, topic := range topics {
		if _, err := t.CreateRelation(ctx, model.SearchResultRelationType, bucket.ID, topic.ID, nil); err != nil {
			return nil, err
		}
	}

	t.e.logger.Debug("search",
		zap.String("term", term),
		zap.String("key", key),
		zap.Bool("whole_word", wholeWord),
		zap.Int("results", len(topics)))
	return &model.SearchResult{Bucket: bucket, Topics: topics}, nil
}
