package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventEmitter receives events after the writes behind them committed
type EventEmitter func(Event)

// Repository persists subscriptions. A nil Repository keeps them in memory only.
type Repository interface {
	SaveSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	LoadSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// Manager handles subscription lifecycle and event processing
type Manager struct {
	repo          Repository
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	logger        *zap.Logger
	mu            sync.RWMutex
	stopped       bool
	ctx           context.Context
	cancel        context.CancelFunc
	loop          sync.WaitGroup
	deliveries    sync.WaitGroup
}

// NewManager creates a new subscription manager
func NewManager(repo Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:          repo,
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan Event, 1000), // Buffered to avoid blocking writes
		notifier:      NewNotifier(logger),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start loads persisted subscriptions and begins processing events
func (m *Manager) Start(ctx context.Context) error {
	if err := m.loadSubscriptions(ctx); err != nil {
		m.logger.Warn("failed to load subscriptions", zap.Error(err))
	}

	m.loop.Add(1)
	go m.processEvents()

	m.logger.Info("subscription manager started", zap.Int("subscriptions", len(m.List())))
	return nil
}

// Stop drains queued events and shuts down. Deliveries still retrying are cancelled.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.eventChan)
	m.mu.Unlock()

	m.loop.Wait()
	m.cancel()
	m.deliveries.Wait()
	m.logger.Info("subscription manager stopped")
}

// EmitEvent queues an event for matching
func (m *Manager) EmitEvent(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return
	}
	// Non-blocking send - drop events if channel is full
	select {
	case m.eventChan <- event:
	default:
		m.logger.Warn("event channel full, dropping event",
			zap.String("event_id", event.ID), zap.String("type", event.Type))
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("subscription name is required")
	}
	if req.Webhook == "" {
		return nil, fmt.Errorf("subscription webhook URL is required")
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	if m.repo != nil {
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to persist subscription: %w", err)
		}
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("registered subscription", zap.String("id", sub.ID), zap.String("name", sub.Name))
	return sub.clone(), nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.repo != nil {
		if err := m.repo.DeleteSubscription(ctx, id); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
	}
	delete(m.subscriptions, id)

	m.logger.Info("unregistered subscription", zap.String("id", id))
	return nil
}

// Update modifies an existing subscription
func (m *Manager) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sub := cur.clone()
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Pattern != nil {
		sub.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		sub.Webhook = *req.Webhook
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	sub.Modified = time.Now().UTC()

	if m.repo != nil {
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
	}
	m.subscriptions[id] = sub
	return sub.clone(), nil
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub.clone(), nil
}

// List returns all subscriptions, oldest first
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, sub.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Created.Equal(result[j].Created) {
			return result[i].ID < result[j].ID
		}
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.loop.Done()

	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

// handleEvent matches one event against every enabled subscription
func (m *Manager) handleEvent(event Event) {
	now := time.Now().UTC()

	m.mu.Lock()
	var fired []*Subscription
	for _, sub := range m.subscriptions {
		if !sub.Enabled || !Match(event, sub.Pattern) {
			continue
		}
		sub.LastFired = &now
		sub.FireCount++
		fired = append(fired, sub.clone())
	}
	m.mu.Unlock()

	for _, sub := range fired {
		notification := Notification{
			SubscriptionID:   sub.ID,
			SubscriptionName: sub.Name,
			Event:            event,
			MatchedAt:        now,
		}
		m.deliveries.Add(1)
		go func(url string) {
			defer m.deliveries.Done()
			_ = m.notifier.SendWebhook(m.ctx, url, notification)
		}(sub.Webhook)

		m.logger.Debug("subscription fired",
			zap.String("subscription", sub.ID), zap.String("event", event.Type))
	}
}

// loadSubscriptions loads all subscriptions from storage into memory
func (m *Manager) loadSubscriptions(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	subs, err := m.repo.LoadSubscriptions(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range subs {
		m.subscriptions[sub.ID] = sub
	}
	return nil
}

func (s *Subscription) clone() *Subscription {
	cp := *s
	if s.LastFired != nil {
		t := *s.LastFired
		cp.LastFired = &t
	}
	return &cp
}

// ToProperties flattens a subscription into scalar properties for storage
func ToProperties(sub *Subscription) map[string]any {
	patternJSON, _ := json.Marshal(sub.Pattern)
	props := map[string]any{
		"subscription_id": sub.ID,
		"name":            sub.Name,
		"description":     sub.Description,
		"pattern":         string(patternJSON),
		"webhook":         sub.Webhook,
		"enabled":         sub.Enabled,
		"fire_count":      sub.FireCount,
		"created":         sub.Created.Format(time.RFC3339Nano),
		"modified":        sub.Modified.Format(time.RFC3339Nano),
	}
	if sub.LastFired != nil {
		props["last_fired"] = sub.LastFired.Format(time.RFC3339Nano)
	}
	return props
}

// FromProperties converts stored properties back to a subscription
func FromProperties(props map[string]any) (*Subscription, error) {
	sub := &Subscription{}

	if v, ok := props["subscription_id"].(string); ok {
		sub.ID = v
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("stored subscription without id")
	}
	if v, ok := props["name"].(string); ok {
		sub.Name = v
	}
	if v, ok := props["description"].(string); ok {
		sub.Description = v
	}
	if v, ok := props["webhook"].(string); ok {
		sub.Webhook = v
	}
	if v, ok := props["enabled"].(bool); ok {
		sub.Enabled = v
	}
	if v, ok := toFloat64(props["fire_count"]); ok {
		sub.FireCount = int(v)
	}
	for key, dst := range map[string]*time.Time{"created": &sub.Created, "modified": &sub.Modified} {
		if v, ok := props[key].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				*dst = t
			}
		}
	}
	if v, ok := props["last_fired"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sub.LastFired = &t
		}
	}
	if v, ok := props["pattern"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &sub.Pattern); err != nil {
			return nil, fmt.Errorf("decoding pattern of subscription %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}
