package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression/internal/domain/shared"
)

func sampleEvent() shared.LevelUpEvent {
	return shared.NewLevelUpEvent(shared.GenerateUserID(), 4, 5)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var levelUps, all int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { levelUps++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(sampleEvent()))
	require.NoError(t, bus.Publish(shared.NewBadgeGrantedEvent(shared.GenerateUserID(), "level_5", 5)))

	assert.Equal(t, 1, levelUps)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.HandlerExecutions)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	called := false
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { called = true; return nil }))

	assert.NoError(t, bus.Publish(sampleEvent()))
	assert.True(t, called)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var n int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&n, 1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(sampleEvent()))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), atomic.LoadInt32(&n))
	assert.ErrorIs(t, bus.Publish(sampleEvent()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventLevelUp, nil))
}

func TestRedisPublisher_PublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	local := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	var mu sync.Mutex
	var localSeen []shared.EventType
	require.NoError(t, local.SubscribeAll(func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		localSeen = append(localSeen, e.EventType())
		return nil
	}))

	pub, err := NewRedisPublisher(client, RedisPublisherConfig{Channel: "test:events", Local: local})
	require.NoError(t, err)

	event := sampleEvent()
	require.NoError(t, pub.Publish(event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	envelope, err := DecodeEnvelope(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, shared.EventLevelUp, envelope.Type)
	assert.Equal(t, event.AggregateID(), envelope.AggregateID)
	assert.Equal(t, event.EventID(), envelope.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.EqualValues(t, 5, payload["new_level"])

	mu.Lock()
	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, localSeen)
	mu.Unlock()
}

func TestRedisPublisher_ReportsRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	pub, err := NewRedisPublisher(client, RedisPublisherConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEventsChannel, pub.Channel())

	mr.Close()
	assert.Error(t, pub.Publish(sampleEvent()))

	_, err = NewRedisPublisher(nil, RedisPublisherConfig{})
	assert.Error(t, err)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	_, err := DecodeEnvelope("{not json")
	assert.Error(t, err)
}
