package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

// indexValue applies the declared indexing mode of key to one property
// write. A nil value removes the entry. Meta types and undeclared keys are
// not indexed here.
func (t *engineTx) indexValue(ctx context.Context, nodeID int64, tt *model.TopicType, key string, value any) error {
	if model.IsMetaType(tt.Identifier()) {
		return nil
	}
	f, ok := tt.DataField(key)
	if !ok {
		return nil
	}

	switch f.IndexingMode {
	case model.IndexingOff:
		return nil
	case model.IndexingKey:
		if err := t.gtx.RemoveFromIndex(ctx, indexTopics, nodeID, key); err != nil {
			return err
		}
		if value == nil {
			return nil
		}
		return t.gtx.AddToIndex(ctx, indexTopics, nodeID, key, value)
	case model.IndexingFulltext:
		return t.indexText(ctx, nodeID, model.DefaultFulltextKey, f, value)
	case model.IndexingFulltextKey:
		return t.indexText(ctx, nodeID, key, f, value)
	default:
		return fmt.Errorf("%w: field %q of type %q has indexing mode %q",
			model.ErrConfiguration, f.ID, tt.Identifier(), f.IndexingMode)
	}
}

// unindexValue removes whatever f's indexing mode wrote for nodeID.
func (t *engineTx) unindexValue(ctx context.Context, nodeID int64, f *model.DataField) error {
	switch f.IndexingMode {
	case model.IndexingKey:
		return t.gtx.RemoveFromIndex(ctx, indexTopics, nodeID, f.ID)
	case model.IndexingFulltext:
		return t.gtx.RemoveText(ctx, nodeID, model.DefaultFulltextKey, f.ID)
	case model.IndexingFulltextKey:
		return t.gtx.RemoveText(ctx, nodeID, f.ID, f.ID)
	}
	return nil
}

func (t *engineTx) indexText(ctx context.Context, nodeID int64, key string, f *model.DataField, value any) error {
	if value == nil {
		return t.gtx.RemoveText(ctx, nodeID, key, f.ID)
	}
	return t.gtx.IndexText(ctx, nodeID, key, f.ID, searchableText(f, value))
}

// searchableText renders a value for the full-text index. HTML fields are
// reduced to their text nodes.
func searchableText(f *model.DataField, value any) string {
	s := fmt.Sprint(value)
	if f.DataType != model.DataTypeHTML {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	var parts []string
	doc.Find("*").Not("script, style").Contents().Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "#text" {
			parts = append(parts, sel.Text())
		}
	})
	return strings.Join(parts, " ")
}

// GetTopicByValue finds the lowest-id topic whose KEY-indexed field key holds value.
func (t *engineTx) GetTopicByValue(ctx context.Context, key string, value any) (*model.Topic, error) {
	ids, err := t.gtx.FindNodes(ctx, indexTopics, key, value)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return t.GetTopic(ctx, ids[0])
}

// searchIDs runs a full-text query. The last term matches as a prefix
// unless wholeWord is set.
func (t *engineTx) searchIDs(ctx context.Context, key, term string, wholeWord bool) ([]int64, error) {
	return t.gtx.SearchText(ctx, key, graph.TextQuery{Text: term, Prefix: !wholeWord})
}
