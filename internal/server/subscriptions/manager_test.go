package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newMemRepo() *memRepo { return &memRepo{subs: map[string]*Subscription{}} }

func (r *memRepo) SaveSubscription(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub.clone()
	return nil
}

func (r *memRepo) DeleteSubscription(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *memRepo) LoadSubscriptions(context.Context) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, s := range r.subs {
		out = append(out, s.clone())
	}
	return out, nil
}

// receiver collects webhook deliveries.
func receiver(t *testing.T) (*httptest.Server, <-chan Notification) {
	t.Helper()
	got := make(chan Notification, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, n.Event.Type, r.Header.Get("X-Topicgraph-Event"))
		got <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestManagerRegisterValidation(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	ctx := context.Background()

	_, err := m.Register(ctx, &CreateSubscriptionRequest{Webhook: "http://example.invalid"})
	assert.Error(t, err)
	_, err = m.Register(ctx, &CreateSubscriptionRequest{Name: "no hook"})
	assert.Error(t, err)

	_, err = m.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, m.Unregister(ctx, "missing"), ErrNotFound)
}

func TestManagerLifecycle(t *testing.T) {
	repo := newMemRepo()
	m := NewManager(repo, zap.NewNop())
	ctx := context.Background()

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{
		Name:    "people",
		Pattern: SubscriptionPattern{TopicTypes: []string{"person"}},
		Webhook: "http://example.invalid/hook",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.Enabled)
	assert.Len(t, repo.subs, 1)

	disabled := false
	name := "everyone"
	updated, err := m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Name: &name, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "everyone", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "everyone", repo.subs[sub.ID].Name)

	// Loaded back by a fresh manager.
	other := NewManager(repo, zap.NewNop())
	require.NoError(t, other.Start(ctx))
	defer other.Stop()
	got, err := other.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "everyone", got.Name)

	require.NoError(t, m.Unregister(ctx, sub.ID))
	assert.Empty(t, m.List())
	assert.Empty(t, repo.subs)
}

func TestManagerDeliversMatchingEvents(t *testing.T) {
	srv, got := receiver(t)
	m := NewManager(nil, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{
		Name:    "people",
		Pattern: SubscriptionPattern{EventTypes: []string{EventTopicCreated}, TopicTypes: []string{"person"}},
		Webhook: srv.URL,
	})
	require.NoError(t, err)

	m.EmitEvent(Event{Type: EventTopicCreated, TopicID: 1, TopicType: "place"})
	m.EmitEvent(Event{Type: EventTopicCreated, TopicID: 2, TopicType: "person"})

	select {
	case n := <-got:
		assert.Equal(t, sub.ID, n.SubscriptionID)
		assert.Equal(t, int64(2), n.Event.TopicID)
		assert.NotEmpty(t, n.Event.ID)
		assert.False(t, n.Event.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}

	select {
	case n := <-got:
		t.Fatalf("unexpected delivery for topic %d", n.Event.TopicID)
	case <-time.After(100 * time.Millisecond):
	}

	fired, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fired.FireCount)
	assert.NotNil(t, fired.LastFired)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()
	// Dropped silently once stopped.
	m.EmitEvent(Event{Type: EventTopicDeleted})
}

func TestNotifierRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(zap.NewNop())
	n.backoff = time.Millisecond
	require.NoError(t, n.SendWebhook(context.Background(), srv.URL, Notification{Event: Event{Type: EventTopicCreated}}))
	assert.Equal(t, 2, calls)
}

func TestNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	n := NewNotifier(zap.NewNop())
	n.backoff = time.Millisecond
	err := n.SendWebhook(context.Background(), srv.URL, Notification{})
	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusTeapot, werr.StatusCode)
}

func TestPropertiesRoundTrip(t *testing.T) {
	fired := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{
		ID:        "abc",
		Name:      "people",
		Pattern:   SubscriptionPattern{TopicTypes: []string{"person"}},
		Webhook:   "http://example.invalid",
		Enabled:   true,
		Created:   fired.Add(-time.Hour),
		Modified:  fired.Add(-time.Minute),
		LastFired: &fired,
		FireCount: 4,
	}
	props := ToProperties(sub)
	// Numbers come back from storage as float64.
	props["fire_count"] = float64(4)

	got, err := FromProperties(props)
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	_, err = FromProperties(map[string]any{"name": "x"})
	assert.Error(t, err)
}
