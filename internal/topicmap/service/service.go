// Package service is the entry point to the topic store. It runs every
// storage call in its own transaction, invokes plugin hooks around writes,
// imports topic types and emits change events once writes have committed.
package service

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/metrics"
	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

// Options configures a Service.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// TypeFiles are description files imported after the core types.
	TypeFiles []string
}

// Service wraps a Storage. It owns the plugin registry.
type Service struct {
	store   storage.Storage
	plugins *registry
	logger  *zap.Logger
	metrics *metrics.Metrics

	emitMu  sync.RWMutex
	emitter subscriptions.EventEmitter
}

// New builds the service and imports the core and configured topic types.
// A malformed description aborts startup.
func New(ctx context.Context, store storage.Storage, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:   store,
		plugins: newRegistry(),
		logger:  logger,
		metrics: opts.Metrics,
	}
	if s.metrics != nil {
		if c, ok := store.(interface{ CachedTypes() int }); ok {
			s.metrics.WatchTypeCache(c.CachedTypes)
		}
	}

	if err := s.bootstrap(ctx, opts.TypeFiles); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the storage.
func (s *Service) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// ModelVersion returns the meta-model version of the store.
func (s *Service) ModelVersion() string {
	return s.store.ModelVersion()
}

// SetEventEmitter installs the receiver of committed change events.
func (s *Service) SetEventEmitter(emit subscriptions.EventEmitter) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emitter = emit
}

// inTx runs fn in a transaction that commits only when fn succeeds. The
// transaction is finished on every path, panics included.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx storage.Transaction) error) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordOperation(op, err, time.Since(start))
		}
		if err != nil {
			s.logFailure(op, err)
		}
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := tx.Finish(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	tx.Success()
	return nil
}

func (s *Service) logFailure(op string, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrUnknownType),
		errors.Is(err, model.ErrFormat),
		errors.Is(err, model.ErrContractViolation):
		s.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	default:
		s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
}

// publish hands committed events to the emitter.
func (s *Service) publish(events ...subscriptions.Event) {
	s.emitMu.RLock()
	emit := s.emitter
	s.emitMu.RUnlock()

	for _, ev := range events {
		if s.metrics != nil {
			s.metrics.EventsEmittedTotal.WithLabelValues(ev.Type).Inc()
		}
		if emit != nil {
			emit(ev)
		}
	}
}

func topicEvent(typ string, t *model.Topic, props map[string]any) subscriptions.Event {
	return subscriptions.Event{
		Type:       typ,
		TopicID:    t.ID,
		TopicType:  t.TypeID,
		Properties: maps.Clone(props),
	}
}

func relationEvent(typ string, r *model.Relation) subscriptions.Event {
	return subscriptions.Event{
		Type:           typ,
		RelationID:     r.ID,
		RelationSource: r.SrcTopicID,
		RelationTarget: r.DstTopicID,
		RelationType:   r.TypeID,
		Properties:     maps.Clone(r.Properties),
	}
}

func typeEvent(typ string, tt *model.TopicType) subscriptions.Event {
	return subscriptions.Event{
		Type:      typ,
		TopicID:   tt.ID,
		TopicType: tt.Identifier(),
	}
}

// InstallPlugin registers p after every plugin installed before it and
// runs its PostInstall hook. A failing hook uninstalls it again.
func (s *Service) InstallPlugin(ctx context.Context, p Plugin) error {
	if err := s.plugins.add(p); err != nil {
		return err
	}
	err := s.inTx(ctx, "install_plugin", func(tx storage.Transaction) error {
		return p.PostInstall(ctx, tx)
	})
	if err != nil {
		s.plugins.remove(p.Name())
		return err
	}
	s.logger.Info("plugin installed", zap.String("plugin", p.Name()))
	return nil
}

// UninstallPlugin removes a plugin; it reports whether one was installed.
func (s *Service) UninstallPlugin(name string) bool {
	return s.plugins.remove(name)
}

// Plugins lists installed plugin names in invocation order.
func (s *Service) Plugins() []string {
	return s.plugins.list()
}
