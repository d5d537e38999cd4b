/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package events is the server-wide pub/sub fan-out: chat lines, presence
// changes, topic updates, news posts, server-info pushes, permission
// changes, broadcasts, and kicks all flow through here to every
// authorized subscriber's bounded outbound queue. Each subscriber
// supplies its own authorization predicate and gets its own bounded
// queue, so one slow or wedged reader can never block delivery to the
// rest.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind identifies the category of an Event.
type Kind string

const (
	KindChatMessage        Kind = "chat-message"
	KindUserMessage        Kind = "user-message"
	KindPresence           Kind = "presence"
	KindTopicChanged       Kind = "topic-changed"
	KindNewsPosted         Kind = "news-posted"
	KindNewsUpdated        Kind = "news-updated"
	KindNewsDeleted        Kind = "news-deleted"
	KindServerInfoUpdated  Kind = "server-info-updated"
	KindPermissionsChanged Kind = "permissions-changed"
	KindBroadcast          Kind = "broadcast"
	KindKicked             Kind = "kicked"
)

// Event is a single fan-out unit. Channel is the channel name for
// channel-scoped kinds (empty for server-wide kinds). Payload is left as
// any so the root package's own typed wire-message structs can travel
// through unmodified instead of being re-encoded into a bus-specific
// envelope.
type Event struct {
	Kind    Kind
	Channel string
	Payload any
}

// Subscriber receives Events this bus has decided it is authorized to
// see. Deliver must not block; implementations backed by a bounded
// channel should attempt a non-blocking send and report a full queue by
// returning false rather than stalling Publish.
type Subscriber interface {
	ID() string
	Authorized(e Event) bool
	Deliver(e Event) bool // returns false if the subscriber's queue is full
}

// Bus is a concurrency-safe registry of Subscribers that Publish fans an
// Event out to, skipping any that Authorized rejects.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	log         *logrus.Entry

	// OnBackpressure, if set, is invoked (outside the lock) whenever a
	// subscriber's Deliver reports a full queue, so the session machine
	// can decide whether to close that session.
	OnBackpressure func(subscriberID string, e Event)
}

// NewBus builds an empty Bus. log may be nil, in which case a
// logrus.StandardLogger() entry is used.
func NewBus(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		subscribers: make(map[string]Subscriber),
		log:         log,
	}
}

// Subscribe registers s. A second Subscribe with the same ID replaces the
// prior registration.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s.ID()] = s
}

// Unsubscribe removes a subscriber by id. Safe to call more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish fans e out to every currently-registered subscriber for which
// Authorized(e) returns true. Delivery order across subscribers is not
// guaranteed; delivery to any single subscriber preserves the Publish
// call order of a single publishing goroutine. Callers needing strict
// total ordering across events must publish from one goroutine.
// Returns the ids of subscribers whose queue was full.
func (b *Bus) Publish(e Event) []string {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	var dropped []string
	for _, s := range targets {
		if !s.Authorized(e) {
			continue
		}
		if !s.Deliver(e) {
			dropped = append(dropped, s.ID())
			b.log.WithFields(logrus.Fields{
				"subscriber": s.ID(),
				"kind":       e.Kind,
				"channel":    e.Channel,
			}).Warn("dropped event: subscriber queue full")
			if b.OnBackpressure != nil {
				b.OnBackpressure(s.ID(), e)
			}
		}
	}
	return dropped
}

// Count returns the number of currently registered subscribers, mainly
// for tests and metrics.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
