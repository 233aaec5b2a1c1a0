package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) received() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestMemoryBroadcaster_FanOut(t *testing.T) {
	b := NewMemoryBroadcaster()
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	var first, second, other recorder
	_, err := b.Subscribe(ctx, "rating", first.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "rating", second.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "other", other.handle)
	require.NoError(t, err)

	msg := Message{Operation: "reload_module", Name: "hashmap"}
	require.NoError(t, b.Cast(ctx, "rating", msg))

	assert.Eventually(t, func() bool {
		return len(first.received()) == 1 && len(second.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, msg, first.received()[0])
	assert.Empty(t, other.received())
}

func TestMemoryBroadcaster_ClosedSubscriptionStopsReceiving(t *testing.T) {
	b := NewMemoryBroadcaster()
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	var rec recorder
	sub, err := b.Subscribe(ctx, "rating", rec.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, b.Cast(ctx, "rating", Message{Operation: "reload_modules"}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.received())
}

func TestMemoryBroadcaster_CastWithoutSubscribers(t *testing.T) {
	b := NewMemoryBroadcaster()
	require.NoError(t, b.Cast(context.Background(), "rating", Message{Operation: "reload_modules"}))
	assert.ErrorIs(t, b.Cast(context.Background(), " ", Message{}), ErrInvalidTopic)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Cast(context.Background(), "rating", Message{}), ErrClosed)
	_, err := b.Subscribe(context.Background(), "rating", func(context.Context, Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}
