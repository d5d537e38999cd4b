/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"
	"strings"
	"sync"

	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/validate"
)

// canonicalChannelName folds a channel name to its case-insensitive
// identity. Display casing is preserved on the Channel itself; every
// registry lookup and membership key goes through this.
func canonicalChannelName(name string) string {
	return strings.ToLower(name)
}

// ChannelRegistry is the server-wide channel table: canonical name ->
// Channel, covering both persistent channels (rebuilt from the store at
// startup) and ephemeral ones (created on first join, destroyed on last
// leave). Join/leave policy lives here rather than in the command
// handlers so every caller gets the same checks.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	store      *store.Store
	bus        *events.Bus
	maxPerUser int
	maxNameLen int
}

// NewChannelRegistry builds an empty registry.
func NewChannelRegistry(st *store.Store, bus *events.Bus, maxPerUser, maxNameLen int) *ChannelRegistry {
	return &ChannelRegistry{
		channels:   make(map[string]*Channel),
		store:      st,
		bus:        bus,
		maxPerUser: maxPerUser,
		maxNameLen: maxNameLen,
	}
}

// LoadPersistent rebuilds the in-memory Channel for every persistent
// channel row, called once at startup.
func (r *ChannelRegistry) LoadPersistent(ctx context.Context) error {
	rows, err := r.store.ListPersistentChannels(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		ch := NewChannel(row.Name, true)
		ch.secret = row.Secret
		ch.topic = row.Topic
		ch.topicSetBy = row.TopicSetBy
		r.channels[canonicalChannelName(row.Name)] = ch
	}
	return nil
}

// Get returns the channel named name, if it currently exists.
func (r *ChannelRegistry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[canonicalChannelName(name)]
	return ch, ok
}

// List returns a snapshot of every currently known channel.
func (r *ChannelRegistry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Join adds session to the named channel, creating an ephemeral channel
// if it does not exist and the session may create one.
func (r *ChannelRegistry) Join(session *Session, name string) error {
	if verr := validate.ChannelName(name, r.maxNameLen); verr != nil {
		return NewError(ErrChannelNameInvalid, "channel", name)
	}
	if len(session.JoinedChannels()) >= r.maxPerUser {
		return NewError(ErrChannelLimitExceeded, "max", r.maxPerUser)
	}

	ch := r.getOrCreate(session, name)
	if ch == nil {
		return NewError(ErrPermissionDeniedChatCreate, "channel", name)
	}
	if ch.hasMember(session) {
		return NewError(ErrChannelAlreadyMember, "channel", name)
	}

	ch.addMember(session)
	session.markJoined(canonicalChannelName(name))
	return nil
}

// getOrCreate returns the existing channel for name, or creates an
// ephemeral one if the session holds chat_create. Returns nil if the
// channel doesn't exist and the session may not create it.
func (r *ChannelRegistry) getOrCreate(session *Session, name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := canonicalChannelName(name)
	if ch, ok := r.channels[key]; ok {
		return ch
	}
	if !session.HasPermission(PermChatCreate) {
		return nil
	}
	ch := NewChannel(name, false)
	r.channels[key] = ch
	return ch
}

// Leave removes session from the named channel. Leaving a channel the
// session is not a member of fails without touching any state. If the
// channel is ephemeral and now empty, it is destroyed.
func (r *ChannelRegistry) Leave(session *Session, name string) error {
	ch, ok := r.Get(name)
	if !ok || !ch.hasMember(session) {
		return NewError(ErrChannelNotFound, "channel", name)
	}

	empty := ch.removeMember(session)
	session.markLeft(canonicalChannelName(name))

	if empty && !ch.Persistent() {
		r.mu.Lock()
		delete(r.channels, canonicalChannelName(name))
		r.mu.Unlock()
	}
	return nil
}

// SetTopic updates name's topic, requiring the caller already hold
// chat_topic_edit (checked by the handler), and persists the change for
// persistent channels.
func (r *ChannelRegistry) SetTopic(ctx context.Context, session *Session, name, topic string) error {
	ch, ok := r.Get(name)
	if !ok {
		return NewError(ErrChannelNotFound, "channel", name)
	}
	if verr := validate.Topic(topic, DefaultTopicMaxLength); verr != nil {
		return mapValidationError(verr)
	}

	setBy := session.Nickname()
	ch.setTopic(topic, setBy)

	if ch.Persistent() {
		if err := r.store.SetTopic(ctx, ch.Name(), topic, setBy); err != nil {
			return NewError(ErrDatabase, "reason", err.Error())
		}
	}

	r.bus.Publish(events.Event{
		Kind:    events.KindTopicChanged,
		Channel: canonicalChannelName(name),
		Payload: &Message{Kind: KindEventTopic, Fields: map[string]any{
			"channel": ch.Name(),
			"who":     setBy,
			"text":    topic,
		}},
	})
	return nil
}

// DefaultTopicMaxLength bounds topic/description text absent a
// configured override.
const DefaultTopicMaxLength = 512
