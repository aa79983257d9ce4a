package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
)

// Stream event types delivered to subscribers.
const (
	EventQR           = "qr"
	EventStatus       = "status"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// StreamEvent is a lifecycle notification fanned out to client streams.
type StreamEvent struct {
	Type      string                 `json:"type"`
	AgentID   int64                  `json:"agentId,string"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Broadcaster fans lifecycle events out to any number of per-agent sinks.
// Delivery rides EventBus async transactional subscribers, so each sink sees
// events in publish order without a slow sink blocking the supervisor.
//
// One dispatcher handler is registered on the bus per agent topic; the sinks
// themselves live in a keyed map so unsubscribing one sink never detaches
// another. EventBus matches handlers for Unsubscribe by function identity,
// which cannot tell two closures over the same literal apart.
type Broadcaster struct {
	bus EventBus.Bus

	mu     sync.Mutex
	topics map[int64]*agentSinks
}

type agentSinks struct {
	dispatch func(StreamEvent)
	sinks    map[int64]func(StreamEvent)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		bus:    EventBus.New(),
		topics: make(map[int64]*agentSinks),
	}
}

func topicFor(agentID int64) string {
	return fmt.Sprintf("session.%d", agentID)
}

// Publish delivers an event to every subscriber of the agent.
func (b *Broadcaster) Publish(agentID int64, eventType string, payload map[string]interface{}) {
	ev := StreamEvent{
		Type:      eventType,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	b.bus.Publish(topicFor(agentID), ev)
}

// Subscribe registers a sink for the agent's events and returns an
// unsubscribe func that is safe to call any number of times and removes
// exactly this sink.
func (b *Broadcaster) Subscribe(agentID int64, sink func(StreamEvent)) (func(), error) {
	b.mu.Lock()
	ts, ok := b.topics[agentID]
	if !ok {
		ts = &agentSinks{sinks: make(map[int64]func(StreamEvent))}
		ts.dispatch = func(ev StreamEvent) { b.fanOut(agentID, ev) }
		if err := b.bus.SubscribeAsync(topicFor(agentID), ts.dispatch, true); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.topics[agentID] = ts
	}
	sinkID := common.UUIDint64()
	ts.sinks[sinkID] = sink
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() { b.removeSink(agentID, sinkID) })
	}
	return unsub, nil
}

func (b *Broadcaster) fanOut(agentID int64, ev StreamEvent) {
	b.mu.Lock()
	ts := b.topics[agentID]
	var sinks []func(StreamEvent)
	if ts != nil {
		sinks = make([]func(StreamEvent), 0, len(ts.sinks))
		for _, sink := range ts.sinks {
			sinks = append(sinks, sink)
		}
	}
	b.mu.Unlock()
	for _, sink := range sinks {
		sink(ev)
	}
}

func (b *Broadcaster) removeSink(agentID, sinkID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.topics[agentID]
	if ts == nil {
		return
	}
	delete(ts.sinks, sinkID)
	if len(ts.sinks) > 0 {
		return
	}
	delete(b.topics, agentID)
	if err := b.bus.Unsubscribe(topicFor(agentID), ts.dispatch); err != nil {
		zap.L().Debug("broadcaster unsubscribe", zap.Int64("agent_id", agentID), zap.Error(err))
	}
}

// Close waits for in-flight async deliveries to drain.
func (b *Broadcaster) Close() {
	b.bus.WaitAsync()
}
