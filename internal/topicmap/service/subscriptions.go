package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

// SubscriptionTypeID is the core type webhook subscriptions are stored as.
const SubscriptionTypeID = "topicgraph.subscription"

const subscriptionKey = "subscription_id"

// SubscriptionStore keeps subscriptions as topics. It writes storage
// directly: no hooks run and no events are emitted for these topics.
type SubscriptionStore struct {
	s *Service
}

var _ subscriptions.Repository = (*SubscriptionStore)(nil)

// Subscriptions returns the store backing webhook subscriptions.
func (s *Service) Subscriptions() *SubscriptionStore {
	return &SubscriptionStore{s: s}
}

func findSubscription(ctx context.Context, tx storage.Transaction, id string) (*model.Topic, error) {
	topic, err := tx.GetTopicByValue(ctx, subscriptionKey, id)
	if err != nil {
		return nil, err
	}
	if topic == nil || topic.TypeID != SubscriptionTypeID {
		return nil, nil
	}
	return topic, nil
}

func (st *SubscriptionStore) SaveSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	props := subscriptions.ToProperties(sub)
	return st.s.inTx(ctx, "save_subscription", func(tx storage.Transaction) error {
		topic, err := findSubscription(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if topic == nil {
			_, err = tx.CreateTopic(ctx, SubscriptionTypeID, props)
			return err
		}
		if sub.LastFired == nil {
			props["last_fired"] = nil
		}
		return tx.SetTopicProperties(ctx, topic.ID, props)
	})
}

func (st *SubscriptionStore) DeleteSubscription(ctx context.Context, id string) error {
	return st.s.inTx(ctx, "delete_subscription", func(tx storage.Transaction) error {
		topic, err := findSubscription(ctx, tx, id)
		if err != nil {
			return err
		}
		if topic == nil {
			return fmt.Errorf("%w: subscription %s", model.ErrNotFound, id)
		}
		return tx.DeleteTopic(ctx, topic.ID)
	})
}

// LoadSubscriptions skips topics that no longer decode.
func (st *SubscriptionStore) LoadSubscriptions(ctx context.Context) ([]*subscriptions.Subscription, error) {
	var subs []*subscriptions.Subscription
	err := st.s.inTx(ctx, "load_subscriptions", func(tx storage.Transaction) error {
		topics, err := tx.GetTopicsByType(ctx, SubscriptionTypeID)
		if err != nil {
			return err
		}
		for _, topic := range topics {
			sub, err := subscriptions.FromProperties(topic.Properties)
			if err != nil {
				st.s.logger.Warn("skipping stored subscription",
					zap.Int64("topic_id", topic.ID), zap.Error(err))
				continue
			}
			subs = append(subs, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}
