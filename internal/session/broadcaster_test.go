package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, b *Broadcaster, agentID int64) (func() []StreamEvent, func()) {
	t.Helper()
	var mu sync.Mutex
	var got []StreamEvent
	unsub, err := b.Subscribe(agentID, func(ev StreamEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	snapshot := func() []StreamEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]StreamEvent, len(got))
		copy(out, got)
		return out
	}
	return snapshot, unsub
}

func TestBroadcaster_OrderPreserved(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	got, unsub := collectEvents(t, b, 1)
	defer unsub()

	b.Publish(1, EventQR, map[string]interface{}{"qrCode": "one"})
	b.Publish(1, EventConnected, nil)
	b.Publish(1, EventDisconnected, nil)

	require.Eventually(t, func() bool { return len(got()) == 3 }, time.Second, 5*time.Millisecond)
	evs := got()
	assert.Equal(t, EventQR, evs[0].Type)
	assert.Equal(t, EventConnected, evs[1].Type)
	assert.Equal(t, EventDisconnected, evs[2].Type)
	assert.Equal(t, int64(1), evs[0].AgentID)
}

func TestBroadcaster_PerAgentIsolation(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	gotA, unsubA := collectEvents(t, b, 10)
	defer unsubA()
	gotB, unsubB := collectEvents(t, b, 20)
	defer unsubB()

	b.Publish(10, EventConnected, nil)
	b.Publish(10, EventDisconnected, nil)
	b.Publish(20, EventQR, map[string]interface{}{"qrCode": "b-only"})

	require.Eventually(t, func() bool {
		return len(gotA()) == 2 && len(gotB()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventQR, gotB()[0].Type)
}

func TestBroadcaster_MultipleSinksSameAgent(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	got1, unsub1 := collectEvents(t, b, 7)
	defer unsub1()
	got2, unsub2 := collectEvents(t, b, 7)
	defer unsub2()

	b.Publish(7, EventStatus, map[string]interface{}{"status": "connected"})

	require.Eventually(t, func() bool {
		return len(got1()) == 1 && len(got2()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_UnsubscribeDetachesOnlyThatSink(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	gotA, unsubA := collectEvents(t, b, 42)
	defer unsubA()
	gotB, unsubB := collectEvents(t, b, 42)

	unsubB()
	b.Publish(42, EventConnected, nil)

	require.Eventually(t, func() bool { return len(gotA()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, gotB(), "closed sink must not keep receiving")

	// the surviving sink keeps its stream after its sibling leaves
	b.Publish(42, EventDisconnected, nil)
	require.Eventually(t, func() bool { return len(gotA()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, gotB())
}

func TestBroadcaster_UnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	got, unsub := collectEvents(t, b, 3)
	b.Publish(3, EventConnected, nil)
	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub() // second call must be a no-op

	b.Publish(3, EventDisconnected, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got(), 1)
}
