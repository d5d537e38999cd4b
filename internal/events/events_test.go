package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/events"
)

type testSubscriber struct {
	id      string
	allow   func(events.Event) bool
	queue   chan events.Event
}

func newTestSubscriber(id string, capacity int, allow func(events.Event) bool) *testSubscriber {
	if allow == nil {
		allow = func(events.Event) bool { return true }
	}
	return &testSubscriber{id: id, allow: allow, queue: make(chan events.Event, capacity)}
}

func (s *testSubscriber) ID() string                    { return s.id }
func (s *testSubscriber) Authorized(e events.Event) bool { return s.allow(e) }
func (s *testSubscriber) Deliver(e events.Event) bool {
	select {
	case s.queue <- e:
		return true
	default:
		return false
	}
}

func TestPublishSkipsUnauthorized(t *testing.T) {
	bus := events.NewBus(nil)

	allowed := newTestSubscriber("alice", 4, nil)
	denied := newTestSubscriber("bob", 4, func(events.Event) bool { return false })

	bus.Subscribe(allowed)
	bus.Subscribe(denied)

	dropped := bus.Publish(events.Event{Kind: events.KindChatMessage, Channel: "#nexus"})
	assert.Empty(t, dropped)

	assert.Len(t, allowed.queue, 1)
	assert.Len(t, denied.queue, 0)
}

func TestPublishReportsBackpressure(t *testing.T) {
	bus := events.NewBus(nil)
	var backpressured string
	bus.OnBackpressure = func(id string, e events.Event) { backpressured = id }

	sub := newTestSubscriber("slow", 1, nil)
	bus.Subscribe(sub)

	bus.Publish(events.Event{Kind: events.KindChatMessage})
	dropped := bus.Publish(events.Event{Kind: events.KindChatMessage})

	require.Len(t, dropped, 1)
	assert.Equal(t, "slow", dropped[0])
	assert.Equal(t, "slow", backpressured)
}

func TestUnsubscribe(t *testing.T) {
	bus := events.NewBus(nil)
	sub := newTestSubscriber("alice", 4, nil)
	bus.Subscribe(sub)
	assert.Equal(t, 1, bus.Count())

	bus.Unsubscribe("alice")
	assert.Equal(t, 0, bus.Count())

	dropped := bus.Publish(events.Event{Kind: events.KindChatMessage})
	assert.Empty(t, dropped)
	assert.Len(t, sub.queue, 0)
}
