package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/types"
)

func testEvent(id string) types.Event {
	return types.Event{
		Type:      types.EventRecordCreated,
		Namespace: "agents",
		RecordID:  id,
		Layer:     types.LayerEpisodic,
		At:        time.Now().UTC(),
	}
}

func TestBroadcaster_PublishReceive(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(testEvent("r1"))

	select {
	case evt := <-ch:
		assert.Equal(t, "r1", evt.RecordID)
		assert.Equal(t, types.EventRecordCreated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestBroadcaster_EachSubscriberReceives(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(testEvent("r1"))

	for _, ch := range []<-chan types.Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, "r1", evt.RecordID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// 缓冲 1：第一条入队，其余丢弃，发布方不阻塞
	b.Publish(testEvent("r1"))
	b.Publish(testEvent("r2"))
	b.Publish(testEvent("r3"))

	assert.Equal(t, int64(2), b.Dropped())

	evt := <-ch
	assert.Equal(t, "r1", evt.RecordID)
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	defer b.Close()

	_, cancel := b.Subscribe()
	cancel()
	cancel() // 重复注销安全

	b.Publish(testEvent("r1"))
	assert.Equal(t, int64(0), b.Dropped())
}

func TestBroadcaster_SubscriberCount(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	defer b.Close()

	assert.Zero(t, b.Subscribers())

	_, cancel1 := b.Subscribe()
	_, cancel2 := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	cancel1()
	assert.Equal(t, 1, b.Subscribers())

	cancel2()
	assert.Zero(t, b.Subscribers())
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	b.Close()
	b.Close() // 重复关闭安全

	ch, cancel := b.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel from closed broadcaster should be closed")

	b.Publish(testEvent("r1")) // 关闭后发布是空操作
}

func TestBroadcaster_CloseClosesSubscriberChannels(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())

	ch, cancel := b.Subscribe()
	b.Close()
	cancel() // 关闭后注销安全

	_, ok := <-ch
	require.False(t, ok)
}
