/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import "github.com/nexuschat/nexus/shared/concurrentmap"

// SessionRegistry is the online-user registry: user_id -> session and
// nickname -> session. One type rather than two since a logged-in
// session is only ever looked up by one of those two keys; backed by
// shared/concurrentmap instead of each map growing its own mutex.
type SessionRegistry struct {
	byUserID   concurrentmap.ConcurrentMap[uint, *Session]
	byNickname concurrentmap.ConcurrentMap[string, *Session]
}

// NewSessionRegistry builds an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUserID:   concurrentmap.New[uint, *Session](),
		byNickname: concurrentmap.New[string, *Session](),
	}
}

// Register adds s, indexed by its logged-in user id and nickname. A
// prior registration under the same keys is replaced.
func (r *SessionRegistry) Register(s *Session) {
	r.byUserID.Set(s.UserID(), s)
	r.byNickname.Set(s.Nickname(), s)
}

// Unregister removes s from both indexes.
func (r *SessionRegistry) Unregister(s *Session) {
	if cur, ok := r.byNickname.Get(s.Nickname()); ok && cur == s {
		r.byNickname.Delete(s.Nickname())
	}
	if cur, ok := r.byUserID.Get(s.UserID()); ok && cur == s {
		r.byUserID.Delete(s.UserID())
	}
}

// ByNickname looks up the session currently logged in with nickname.
func (r *SessionRegistry) ByNickname(nickname string) (*Session, bool) {
	return r.byNickname.Get(nickname)
}

// ByUserID looks up the session currently logged in as the given user,
// used by handleLogin to reject a second concurrent login to a
// non-shared account. For a shared account it holds only the most
// recently registered session.
func (r *SessionRegistry) ByUserID(id uint) (*Session, bool) {
	return r.byUserID.Get(id)
}

// ForEach calls do for every registered session. do must not call back
// into the registry.
func (r *SessionRegistry) ForEach(do func(*Session)) {
	_ = r.byNickname.ForEach(func(_ string, s *Session) error {
		do(s)
		return nil
	})
}

// Count returns the number of online sessions.
func (r *SessionRegistry) Count() int {
	return r.byNickname.Length()
}
