package service

import (
	"context"
	"maps"

	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

func (s *Service) provide(ctx context.Context, tx storage.Transaction, topics ...*model.Topic) error {
	for _, t := range topics {
		if t == nil {
			continue
		}
		err := s.plugins.each("ProvideProperties", func(p Plugin) error {
			return p.ProvideProperties(ctx, tx, t)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetTopic returns the topic with the given id.
func (s *Service) GetTopic(ctx context.Context, id int64) (*model.Topic, error) {
	var topic *model.Topic
	err := s.inTx(ctx, "get_topic", func(tx storage.Transaction) error {
		var err error
		if topic, err = tx.GetTopic(ctx, id); err != nil {
			return err
		}
		return s.provide(ctx, tx, topic)
	})
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// GetTopicByValue looks a topic up through a KEY-indexed field. It returns
// nil when nothing matches.
func (s *Service) GetTopicByValue(ctx context.Context, key string, value any) (*model.Topic, error) {
	var topic *model.Topic
	err := s.inTx(ctx, "get_topic_by_value", func(tx storage.Transaction) error {
		var err error
		if topic, err = tx.GetTopicByValue(ctx, key, value); err != nil {
			return err
		}
		return s.provide(ctx, tx, topic)
	})
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// GetTopicsByType lists the instances of a type.
func (s *Service) GetTopicsByType(ctx context.Context, typeID string) ([]*model.Topic, error) {
	var topics []*model.Topic
	err := s.inTx(ctx, "get_topics_by_type", func(tx storage.Transaction) error {
		var err error
		if topics, err = tx.GetTopicsByType(ctx, typeID); err != nil {
			return err
		}
		return s.provide(ctx, tx, topics...)
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// GetRelatedTopics returns the topics one relation away from id. exclude
// holds relation filters in their "<type>[;OUTGOING|INCOMING]" form.
func (s *Service) GetRelatedTopics(ctx context.Context, id int64, includeTypes, exclude []string) ([]*model.Topic, error) {
	filters, err := model.ParseRelationFilters(exclude)
	if err != nil {
		return nil, err
	}
	var topics []*model.Topic
	err = s.inTx(ctx, "get_related_topics", func(tx storage.Transaction) error {
		var err error
		if topics, err = tx.GetRelatedTopics(ctx, id, includeTypes, filters); err != nil {
			return err
		}
		return s.provide(ctx, tx, topics...)
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// SearchTopics runs a full-text search and stores it as a bucket topic.
func (s *Service) SearchTopics(ctx context.Context, term, fieldID string, wholeWord bool) (*model.SearchResult, error) {
	var result *model.SearchResult
	err := s.inTx(ctx, "search_topics", func(tx storage.Transaction) error {
		var err error
		if result, err = tx.SearchTopics(ctx, term, fieldID, wholeWord); err != nil {
			return err
		}
		return s.provide(ctx, tx, append([]*model.Topic{result.Bucket}, result.Topics...)...)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSearch(len(result.Topics))
	}
	return result, nil
}

// CreateTopic creates a topic of a registered type.
func (s *Service) CreateTopic(ctx context.Context, typeID string, props map[string]any) (*model.Topic, error) {
	var created *model.Topic
	err := s.inTx(ctx, "create_topic", func(tx storage.Transaction) error {
		topic := model.NewTopic(typeID, props)
		err := s.plugins.each("PreCreate", func(p Plugin) error {
			return p.PreCreate(ctx, tx, topic)
		})
		if err != nil {
			return err
		}
		if created, err = tx.CreateTopic(ctx, topic.TypeID, topic.Properties); err != nil {
			return err
		}
		return s.plugins.each("PostCreate", func(p Plugin) error {
			return p.PostCreate(ctx, tx, created)
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(topicEvent(subscriptions.EventTopicCreated, created, created.Properties))
	return created, nil
}

// SetTopicProperties merges props into a topic. A nil value removes the
// property. It returns the updated topic.
func (s *Service) SetTopicProperties(ctx context.Context, id int64, props map[string]any) (*model.Topic, error) {
	var updated *model.Topic
	change := maps.Clone(props)
	if change == nil {
		change = map[string]any{}
	}
	err := s.inTx(ctx, "set_topic_properties", func(tx storage.Transaction) error {
		topic, err := tx.GetTopic(ctx, id)
		if err != nil {
			return err
		}
		err = s.plugins.each("PreUpdate", func(p Plugin) error {
			return p.PreUpdate(ctx, tx, topic, change)
		})
		if err != nil {
			return err
		}
		if err := tx.SetTopicProperties(ctx, id, change); err != nil {
			return err
		}
		if updated, err = tx.GetTopic(ctx, id); err != nil {
			return err
		}
		return s.plugins.each("PostUpdate", func(p Plugin) error {
			return p.PostUpdate(ctx, tx, updated, topic.Properties)
		})
	})
	if err != nil {
		return nil, err
	}

	if updated.TypeID == model.TopicTypeTypeID {
		ev := topicEvent(subscriptions.EventTypeUpdated, updated, change)
		ev.TopicType, _ = updated.Properties[model.PropTypeID].(string)
		s.publish(ev)
	} else {
		s.publish(topicEvent(subscriptions.EventTopicUpdated, updated, change))
	}
	return updated, nil
}

// DeleteTopic deletes a topic together with its relations.
func (s *Service) DeleteTopic(ctx context.Context, id int64) error {
	var events []subscriptions.Event
	err := s.inTx(ctx, "delete_topic", func(tx storage.Transaction) error {
		topic, err := tx.GetTopic(ctx, id)
		if err != nil {
			return err
		}
		rels, err := tx.GetTopicRelations(ctx, id)
		if err != nil {
			return err
		}

		err = s.plugins.each("PreDelete", func(p Plugin) error {
			return p.PreDelete(ctx, tx, topic)
		})
		if err != nil {
			return err
		}
		for _, rel := range rels {
			err := s.plugins.each("PreDeleteRelation", func(p Plugin) error {
				return p.PreDeleteRelation(ctx, tx, rel)
			})
			if err != nil {
				return err
			}
		}

		if err := tx.DeleteTopic(ctx, id); err != nil {
			return err
		}

		for _, rel := range rels {
			err := s.plugins.each("PostDeleteRelation", func(p Plugin) error {
				return p.PostDeleteRelation(ctx, tx, rel)
			})
			if err != nil {
				return err
			}
			events = append(events, relationEvent(subscriptions.EventRelationDeleted, rel))
		}
		events = append(events, topicEvent(subscriptions.EventTopicDeleted, topic, topic.Properties))
		return s.plugins.each("PostDelete", func(p Plugin) error {
			return p.PostDelete(ctx, tx, topic)
		})
	})
	if err != nil {
		return err
	}
	s.publish(events...)
	return nil
}

// GetRelation returns the lowest-id relation between two topics in either
// direction, or nil.
func (s *Service) GetRelation(ctx context.Context, srcID, dstID int64) (*model.Relation, error) {
	var rel *model.Relation
	err := s.inTx(ctx, "get_relation", func(tx storage.Transaction) error {
		var err error
		rel, err = tx.GetRelation(ctx, srcID, dstID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *Service) GetRelationByID(ctx context.Context, id int64) (*model.Relation, error) {
	var rel *model.Relation
	err := s.inTx(ctx, "get_relation", func(tx storage.Transaction) error {
		var err error
		rel, err = tx.GetRelationByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *Service) GetTopicRelations(ctx context.Context, topicID int64) ([]*model.Relation, error) {
	var rels []*model.Relation
	err := s.inTx(ctx, "get_topic_relations", func(tx storage.Transaction) error {
		var err error
		rels, err = tx.GetTopicRelations(ctx, topicID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

// CreateRelation links two existing topics.
func (s *Service) CreateRelation(ctx context.Context, typeID string, srcID, dstID int64, props map[string]any) (*model.Relation, error) {
	var rel *model.Relation
	err := s.inTx(ctx, "create_relation", func(tx storage.Transaction) error {
		var err error
		if rel, err = tx.CreateRelation(ctx, typeID, srcID, dstID, props); err != nil {
			return err
		}
		return s.plugins.each("PostCreateRelation", func(p Plugin) error {
			return p.PostCreateRelation(ctx, tx, rel)
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(relationEvent(subscriptions.EventRelationCreated, rel))
	return rel, nil
}

// SetRelationProperties merges props into a relation and returns it.
func (s *Service) SetRelationProperties(ctx context.Context, id int64, props map[string]any) (*model.Relation, error) {
	var rel *model.Relation
	err := s.inTx(ctx, "set_relation_properties", func(tx storage.Transaction) error {
		if err := tx.SetRelationProperties(ctx, id, props); err != nil {
			return err
		}
		var err error
		rel, err = tx.GetRelationByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *Service) DeleteRelation(ctx context.Context, id int64) error {
	var rel *model.Relation
	err := s.inTx(ctx, "delete_relation", func(tx storage.Transaction) error {
		var err error
		if rel, err = tx.GetRelationByID(ctx, id); err != nil {
			return err
		}
		err = s.plugins.each("PreDeleteRelation", func(p Plugin) error {
			return p.PreDeleteRelation(ctx, tx, rel)
		})
		if err != nil {
			return err
		}
		if err := tx.DeleteRelation(ctx, id); err != nil {
			return err
		}
		return s.plugins.each("PostDeleteRelation", func(p Plugin) error {
			return p.PostDeleteRelation(ctx, tx, rel)
		})
	})
	if err != nil {
		return err
	}
	s.publish(relationEvent(subscriptions.EventRelationDeleted, rel))
	return nil
}
