package subscriptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	created := Event{
		Type:       EventTopicCreated,
		TopicID:    7,
		TopicType:  "person",
		Properties: map[string]any{"name": "Ada", "age": float64(36), "active": true},
	}
	related := Event{
		Type:         EventRelationCreated,
		RelationID:   3,
		RelationType: "KNOWS",
	}

	tests := []struct {
		name    string
		event   Event
		pattern SubscriptionPattern
		want    bool
	}{
		{"empty pattern", created, SubscriptionPattern{}, true},
		{"event type hit", created, SubscriptionPattern{EventTypes: []string{EventTopicCreated}}, true},
		{"event type miss", created, SubscriptionPattern{EventTypes: []string{EventTopicDeleted}}, false},
		{"topic type hit", created, SubscriptionPattern{TopicTypes: []string{"place", "person"}}, true},
		{"topic type miss", created, SubscriptionPattern{TopicTypes: []string{"place"}}, false},
		{"topic types ignore relations", related, SubscriptionPattern{TopicTypes: []string{"place"}}, true},
		{"relation type hit", related, SubscriptionPattern{RelationTypes: []string{"KNOWS"}}, true},
		{"relation type miss", related, SubscriptionPattern{RelationTypes: []string{"LIKES"}}, false},
		{"string property folds case", created, SubscriptionPattern{PropertyMatch: map[string]any{"name": "ada"}}, true},
		{"numeric property coerces", created, SubscriptionPattern{PropertyMatch: map[string]any{"age": 36}}, true},
		{"bool property", created, SubscriptionPattern{PropertyMatch: map[string]any{"active": false}}, false},
		{"missing property", created, SubscriptionPattern{PropertyMatch: map[string]any{"email": "x"}}, false},
		{"mixed kinds never match", created, SubscriptionPattern{PropertyMatch: map[string]any{"age": "36"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.event, tt.pattern))
		})
	}
}
