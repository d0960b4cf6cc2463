// Package model holds the value types of the topic store: topics, relations,
// topic types and their data fields, plus the schema description codec.
package model

import "maps"

// NoID marks a topic or relation that has not been persisted yet.
const NoID int64 = -1

// Reserved type and relation identifiers.
const (
	TopicTypeTypeID    = "dm3.core.topic_type"
	DataFieldTypeID    = "dm3.core.data_field"
	SearchResultTypeID = "dm3.core.search_result"
	SearchTermFieldID  = "dm3.core.search_term"

	// SearchResultRelationType links a search bucket to each matched topic.
	SearchResultRelationType = "SEARCH_RESULT"

	// DefaultFulltextKey is the shared key FULLTEXT fields are indexed under.
	DefaultFulltextKey = "default"
)

// IsMetaType reports whether typeID names one of the meta-model root types.
func IsMetaType(typeID string) bool {
	return typeID == TopicTypeTypeID || typeID == DataFieldTypeID
}

// Topic is a typed entity instance.
type Topic struct {
	ID         int64          `json:"id"`
	TypeID     string         `json:"type_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// NewTopic returns an unpersisted topic of the given type.
func NewTopic(typeID string, props map[string]any) *Topic {
	return &Topic{ID: NoID, TypeID: typeID, Properties: copyProps(props)}
}

// Property returns the value stored under key, or nil.
func (t *Topic) Property(key string) any {
	if t.Properties == nil {
		return nil
	}
	return t.Properties[key]
}

// Relation is a typed directed link between two topics.
type Relation struct {
	ID         int64          `json:"id"`
	TypeID     string         `json:"type_id"`
	SrcTopicID int64          `json:"src_topic_id"`
	DstTopicID int64          `json:"dst_topic_id"`
	Properties map[string]any `json:"properties"`
}

// SearchResult is the outcome of a full-text search: the bucket topic that
// materializes the search and the topics it found.
type SearchResult struct {
	Bucket *Topic   `json:"bucket"`
	Topics []*Topic `json:"topics"`
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	maps.Copy(out, props)
	return out
}
