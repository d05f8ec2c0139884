// Package bus implements the in-process topic pub/sub the agents
// communicate over. Dispatch is sequential within a topic: every handler
// subscribed to topic T completes (or errors) before the next Publish to T
// returns, which is what makes reflection loops deterministic. Topics are
// independent of each other. Handler failures are logged and never reach
// the publisher.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Topic identifies one dispatch lane.
type Topic string

// The fixed topic set.
const (
	TopicPlan   Topic = "requirements.plan"
	TopicSolve  Topic = "requirements.solve"
	TopicVerify Topic = "requirements.verify"
	TopicDTO    Topic = "requirements.dto"
	TopicTrace  Topic = "requirements.trace"
)

// MessageContext travels with every message and flows unchanged through
// every dispatch a message spawns.
type MessageContext struct {
	CorrelationID string         `json:"correlation_id"`
	ReqID         string         `json:"req_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	TopicID       string         `json:"topic_id"`
	OriginAgentID string         `json:"origin_agent_id"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Message is one bus envelope. Payload types are owned by the publishing
// agent; handlers assert the concrete type they expect.
type Message struct {
	Context MessageContext
	Payload any
}

// Handler processes one message. Returned errors are logged by the bus and
// not retried.
type Handler func(ctx context.Context, msg Message) error

type subscription struct {
	agentType string
	handler   Handler
}

// Bus is the process-wide message bus. Built once at startup and passed by
// reference; no package-level state.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscription
	topicLocks  map[Topic]*sync.Mutex
	logger      *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Topic][]subscription),
		topicLocks:  make(map[Topic]*sync.Mutex),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for a topic. Handlers run in subscription
// order on every publish.
func (b *Bus) Subscribe(topic Topic, agentType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{agentType: agentType, handler: h})
	if _, ok := b.topicLocks[topic]; !ok {
		b.topicLocks[topic] = &sync.Mutex{}
	}
}

// Publish dispatches msg to every handler of topic, serially, and returns
// once all of them have run. Handler errors are logged with the
// (agentType, topic, correlationId) triple and swallowed. Publishing to a
// topic with no subscribers is a no-op.
//
// The topic lock is held for the whole dispatch, so a handler must not
// publish to its own topic: that re-entrant Publish blocks on the lock the
// handler's dispatch already holds. Publishing to other topics from inside
// a handler is fine.
func (b *Bus) Publish(ctx context.Context, topic Topic, msg Message) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	lock := b.topicLocks[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	msg.Context.TopicID = string(topic)

	lock.Lock()
	defer lock.Unlock()
	for _, sub := range subs {
		if err := b.dispatch(ctx, sub, topic, msg); err != nil {
			b.logger.Error("handler failed",
				"agent_type", sub.agentType,
				"topic", topic,
				"correlation_id", msg.Context.CorrelationID,
				"error", err)
		}
	}
}

// dispatch runs one handler, converting panics into errors so a bad
// handler cannot take the bus down.
func (b *Bus) dispatch(ctx context.Context, sub subscription, topic Topic, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, msg)
}
