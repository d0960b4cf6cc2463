package service

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

//go:embed bootstrap/core.json
var coreTypes []byte

func (s *Service) bootstrap(ctx context.Context, files []string) error {
	if _, err := s.ImportTypes(ctx, bytes.NewReader(coreTypes)); err != nil {
		return fmt.Errorf("importing core types: %w", err)
	}
	for _, path := range files {
		if err := s.importFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) importFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening type file: %w", err)
	}
	defer f.Close()

	types, err := s.ImportTypes(ctx, f)
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	s.logger.Info("type file imported", zap.String("path", path), zap.Int("types", len(types)))
	return nil
}

// ImportTypes reads a JSON array of type descriptions and creates every
// type in one transaction. Types that already exist are left as they are.
// A malformed description imports nothing.
func (s *Service) ImportTypes(ctx context.Context, r io.Reader) ([]*model.TopicType, error) {
	parsed, err := model.ParseTypeDescriptions(r)
	if err != nil {
		return nil, err
	}

	var (
		imported []*model.TopicType
		events   []subscriptions.Event
	)
	err = s.inTx(ctx, "import_types", func(tx storage.Transaction) error {
		for _, tt := range parsed {
			created, isNew, err := createType(ctx, tx, tt)
			if err != nil {
				return err
			}
			if isNew {
				events = append(events, typeEvent(subscriptions.EventTypeCreated, created))
			}
			imported = append(imported, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events...)
	return imported, nil
}

// createType creates tt unless its id is taken, reporting which happened.
func createType(ctx context.Context, tx storage.Transaction, tt *model.TopicType) (*model.TopicType, bool, error) {
	_, err := tx.GetTopicType(ctx, tt.Identifier())
	switch {
	case err == nil:
	case errors.Is(err, model.ErrUnknownType):
		created, err := tx.CreateTopicType(ctx, tt)
		return created, true, err
	default:
		return nil, false, err
	}
	existing, err := tx.CreateTopicType(ctx, tt)
	return existing, false, err
}

// CreateTopicType registers a type. Creating a type whose id exists is a
// no-op that returns the stored type.
func (s *Service) CreateTopicType(ctx context.Context, tt *model.TopicType) (*model.TopicType, error) {
	var (
		created *model.TopicType
		isNew   bool
	)
	err := s.inTx(ctx, "create_topic_type", func(tx storage.Transaction) error {
		var err error
		created, isNew, err = createType(ctx, tx, tt)
		return err
	})
	if err != nil {
		return nil, err
	}
	if isNew {
		s.publish(typeEvent(subscriptions.EventTypeCreated, created))
	}
	return created, nil
}

// GetTopicType returns a registered type. The result is shared and must
// not be modified.
func (s *Service) GetTopicType(ctx context.Context, typeID string) (*model.TopicType, error) {
	var tt *model.TopicType
	err := s.inTx(ctx, "get_topic_type", func(tx storage.Transaction) error {
		var err error
		tt, err = tx.GetTopicType(ctx, typeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tt, nil
}

// TopicTypeIDs lists every registered type id.
func (s *Service) TopicTypeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.inTx(ctx, "topic_type_ids", func(tx storage.Transaction) error {
		var err error
		ids, err = tx.TopicTypeIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TopicTypeExists needs no transaction.
func (s *Service) TopicTypeExists(ctx context.Context, typeID string) bool {
	return s.store.TopicTypeExists(ctx, typeID)
}

// AddDataField appends a field to a type and returns the changed type.
func (s *Service) AddDataField(ctx context.Context, typeID string, f *model.DataField) (*model.TopicType, error) {
	return s.changeType(ctx, "add_data_field", typeID, func(tx storage.Transaction) error {
		return tx.AddDataField(ctx, typeID, f)
	})
}

// SetDataFieldOrder reorders a type's fields. fieldIDs must be a
// permutation of the current field ids.
func (s *Service) SetDataFieldOrder(ctx context.Context, typeID string, fieldIDs []string) (*model.TopicType, error) {
	return s.changeType(ctx, "set_data_field_order", typeID, func(tx storage.Transaction) error {
		return tx.SetDataFieldOrder(ctx, typeID, fieldIDs)
	})
}

func (s *Service) changeType(ctx context.Context, op, typeID string, fn func(tx storage.Transaction) error) (*model.TopicType, error) {
	var tt *model.TopicType
	err := s.inTx(ctx, op, func(tx storage.Transaction) error {
		if err := fn(tx); err != nil {
			return err
		}
		var err error
		tt, err = tx.GetTopicType(ctx, typeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(typeEvent(subscriptions.EventTypeUpdated, tt))
	return tt, nil
}
