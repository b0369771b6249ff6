package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
)

func testSubscriptions() *Subscriptions {
	return NewSubscriptions([]config.WebhookSubscription{
		{ID: "sub-orders", URL: "http://a.example/hook", Secret: "s1", Events: []string{"order.created", "order.cancelled"}, Active: true},
		{ID: "sub-all", URL: "http://b.example/hook", Secret: "s2", Events: []string{"*"}, Active: true},
		{ID: "sub-inactive", URL: "http://c.example/hook", Secret: "s3", Events: []string{"order.created"}, Active: false},
		{ID: "sub-other", URL: "http://d.example/hook", Secret: "s4", Events: []string{"invoice.paid"}, Active: true},
	})
}

func TestSubscriptions_Matching(t *testing.T) {
	t.Parallel()

	subs := testSubscriptions()

	matched := subs.Matching("order.created")
	ids := make([]string, 0, len(matched))
	for _, s := range matched {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"sub-orders", "sub-all"}, ids)

	wildcard := subs.Matching("unknown.event")
	require.Len(t, wildcard, 1)
	assert.Equal(t, "sub-all", wildcard[0].ID)
}

func TestSubscriptions_Add(t *testing.T) {
	t.Parallel()

	subs := NewSubscriptions(nil)

	added, err := subs.Add(config.WebhookSubscription{
		URL:    "http://e.example/hook",
		Events: []string{"order.created"},
		Active: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	_, err = subs.Add(added)
	assert.Error(t, err)

	_, err = subs.Add(config.WebhookSubscription{URL: "http://f.example"})
	assert.Error(t, err)
}

func TestDispatcher_Trigger(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	disp := NewDispatcher(testSubscriptions(), store, nil, zap.NewNop())

	err := disp.Trigger(context.Background(), "order.created", map[string]any{"orderId": "42"}, "orders-service")
	require.NoError(t, err)

	open, err := store.Open(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, open, 2)

	subIDs := make([]string, 0, 2)
	for _, d := range open {
		subIDs = append(subIDs, d.SubscriptionID)
		assert.Equal(t, StatusPending, d.Status)
		assert.Equal(t, "order.created", d.EventType)
		assert.Zero(t, d.RetryCount)

		var event Event
		require.NoError(t, json.Unmarshal(d.Payload, &event))
		assert.Equal(t, "order.created", event.Event)
		assert.Equal(t, "orders-service", event.Source)
		assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 5*time.Second)
	}
	assert.ElementsMatch(t, []string{"sub-orders", "sub-all"}, subIDs)
}

func TestDispatcher_TriggerNoMatch(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	disp := NewDispatcher(NewSubscriptions(nil), store, nil, zap.NewNop())

	require.NoError(t, disp.Trigger(context.Background(), "order.created", nil, ""))

	open, err := store.Open(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, open)
}

type enqueueRecorder struct {
	ids []string
}

func (r *enqueueRecorder) Enqueue(d *Delivery) { r.ids = append(r.ids, d.ID) }

func TestDispatcher_TriggerEnqueues(t *testing.T) {
	t.Parallel()

	rec := &enqueueRecorder{}
	disp := NewDispatcher(testSubscriptions(), NewMemoryStore(), rec, zap.NewNop())

	require.NoError(t, disp.Trigger(context.Background(), "invoice.paid", nil, ""))
	assert.Len(t, rec.ids, 2)
}
