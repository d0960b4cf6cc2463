package subscriptions

import (
	"errors"
	"time"
)

// ErrNotFound is returned for unknown subscription ids.
var ErrNotFound = errors.New("subscription not found")

// Event represents a committed change in the topic store
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // topic.created, topic.updated, topic.deleted, relation.created, relation.deleted, type.created, type.updated
	Timestamp time.Time `json:"timestamp"`

	// Topic event fields
	TopicID   int64  `json:"topic_id,omitempty"`
	TopicType string `json:"topic_type,omitempty"`

	// Relation event fields
	RelationID     int64  `json:"relation_id,omitempty"`
	RelationSource int64  `json:"relation_source,omitempty"`
	RelationTarget int64  `json:"relation_target,omitempty"`
	RelationType   string `json:"relation_type,omitempty"`

	// Properties written by the change
	Properties map[string]any `json:"properties,omitempty"`
}

// Event type constants
const (
	EventTopicCreated    = "topic.created"
	EventTopicUpdated    = "topic.updated"
	EventTopicDeleted    = "topic.deleted"
	EventRelationCreated = "relation.created"
	EventRelationDeleted = "relation.deleted"
	EventTypeCreated     = "type.created"
	EventTypeUpdated     = "type.updated"
)

// SubscriptionPattern defines what events a subscription matches.
// Empty lists match everything.
type SubscriptionPattern struct {
	EventTypes    []string       `json:"event_types,omitempty"`
	TopicTypes    []string       `json:"topic_types,omitempty"`
	RelationTypes []string       `json:"relation_types,omitempty"`
	PropertyMatch map[string]any `json:"property_match,omitempty"`
}

// Subscription is a standing pattern that fires a webhook when it matches
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Pattern SubscriptionPattern `json:"pattern"`
	Webhook string              `json:"webhook"`

	// State
	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
}

// Notification is POSTed to a webhook when a subscription matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
