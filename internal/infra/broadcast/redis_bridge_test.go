package broadcast

import (
	"context"
	"testing"
	"time"

	"installment_notifier/internal/domain/notification"
	"installment_notifier/internal/infra/logger"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*RedisBridge, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBridge(client, "", logger.Discard()), s
}

func TestRedisBridge_PushAndSubscribe(t *testing.T) {
	bridge, _ := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushes, err := bridge.Subscribe(ctx)
	require.NoError(t, err)

	err = bridge.Push(ctx, notification.Push{
		UserIDs: []int64{7, 8},
		Data:    map[string]any{"type": "reminder_run_failures", "title": "Failures"},
	})
	require.NoError(t, err)

	select {
	case p := <-pushes:
		assert.Equal(t, []int64{7, 8}, p.UserIDs)
		assert.Equal(t, "reminder_run_failures", p.Data["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("push was not received")
	}

	cancel()
	for range pushes {
	}
}

func TestRedisBridge_PushWireFormat(t *testing.T) {
	bridge, _ := newTestBridge(t)
	ctx := context.Background()

	sub := bridge.client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bridge.Push(ctx, notification.Push{UserIDs: []int64{1}, Data: map[string]any{"title": "x"}}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_ids":[1],"data":{"title":"x"}}`, msg.Payload)
	assert.Equal(t, DefaultChannel, msg.Channel)
}

func TestRedisBridge_PushFailsWhenRedisIsDown(t *testing.T) {
	bridge, s := newTestBridge(t)
	s.Close()

	err := bridge.Push(context.Background(), notification.Push{UserIDs: []int64{1}})

	assert.Error(t, err)
}

func TestNopBridge(t *testing.T) {
	b := NewNopBridge(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Push(ctx, notification.Push{UserIDs: []int64{1}}))
	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	_, open := <-ch
	assert.False(t, open)
}
