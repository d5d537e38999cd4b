/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import "sync"

// Channel is a named chat room, either persistent (backed by a
// store.ChannelSettings row) or ephemeral (created on first join,
// destroyed when its last member leaves). There are no moderation
// roles, only topic/secret and membership.
type Channel struct {
	mu sync.RWMutex

	name       string
	topic      string
	topicSetBy string
	secret     bool
	persistent bool

	members map[string]*Session // keyed by Session.ID()
}

// NewChannel builds a Channel. persistent marks whether topic changes
// should be written through to the store.
func NewChannel(name string, persistent bool) *Channel {
	return &Channel{
		name:       name,
		persistent: persistent,
		members:    make(map[string]*Session),
	}
}

func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Topic returns the current topic text and who last set it.
func (c *Channel) Topic() (text, setBy string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic, c.topicSetBy
}

func (c *Channel) setTopic(text, setBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = text
	c.topicSetBy = setBy
}

func (c *Channel) Secret() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret
}

func (c *Channel) Persistent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistent
}

// Members returns a snapshot of the sessions currently joined.
func (c *Channel) Members() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Session, 0, len(c.members))
	for _, s := range c.members {
		out = append(out, s)
	}
	return out
}

func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

func (c *Channel) hasMember(s *Session) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[s.ID()]
	return ok
}

func (c *Channel) addMember(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[s.ID()] = s
}

// removeMember deletes s from the member set and reports whether the
// channel is now empty.
func (c *Channel) removeMember(s *Session) (empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, s.ID())
	return len(c.members) == 0
}
