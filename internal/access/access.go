/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package access evaluates connecting addresses and nicknames against the
// stored ban and trust lists. It evaluates internal/store's rows; its
// only write is the lazy purge of expired bans before each evaluation.
// No network I/O, no locking beyond what the store's own queries do.
package access

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/nexuschat/nexus/internal/store"
)

// Decision is the outcome of evaluating a connection or login attempt
// against the ban and trust lists.
type Decision struct {
	Banned    bool
	Trusted   bool
	Reason    string
	ExpiresAt *time.Time
}

// Store is the subset of *store.Store this package depends on, narrowed
// for testability.
type Store interface {
	PurgeExpiredBans(ctx context.Context, now time.Time) (int64, error)
	ListActiveBans(ctx context.Context, now time.Time) ([]store.IPBan, error)
	ListActiveTrust(ctx context.Context, now time.Time) ([]store.TrustEntry, error)
}

// Checker evaluates addresses/nicknames against a Store's live ban and
// trust entries.
type Checker struct {
	store Store
	now   func() time.Time
}

// NewChecker builds a Checker over store. now defaults to time.Now.
func NewChecker(s Store, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{store: s, now: now}
}

// TargetMatches reports whether an IPBan/TrustEntry-shaped target
// (ipAddress, cidr, nickname) applies to the given remote address and
// nickname. Exposed so the session machine can evict live sessions
// covered by a freshly-created ban with the exact matching rules this
// package enforces at connect and login time.
func TargetMatches(entryIP, entryCIDR, entryNick, remoteIP, nickname string) bool {
	return matches(entryIP, entryCIDR, entryNick, remoteIP, nickname)
}

// matches reports whether an IPBan/TrustEntry-shaped target (ipAddress,
// cidr, nickname) applies to the given remote address and nickname.
func matches(entryIP, entryCIDR, entryNick, remoteIP, nickname string) bool {
	if entryNick != "" {
		return entryNick == nickname
	}
	if entryCIDR != "" {
		_, network, err := net.ParseCIDR(entryCIDR)
		if err != nil {
			return false
		}
		addr, err := netip.ParseAddr(remoteIP)
		if err != nil {
			return false
		}
		return network.Contains(net.IP(addr.AsSlice()))
	}
	if entryIP != "" {
		return entryIP == remoteIP
	}
	return false
}

// CheckConnect evaluates a freshly-accepted connection's remote IP
// before the TLS handshake begins, so a banned peer never gets to send
// a ClientHello. A trust entry for the same target does not override a
// ban here: trust only bypasses rate limiting and policy gates, never
// an outright ban.
func (c *Checker) CheckConnect(ctx context.Context, remoteIP string) (Decision, error) {
	return c.check(ctx, remoteIP, "")
}

// CheckLogin evaluates a nickname at login time, in addition to the
// connection-time IP check, since a ban may target a nickname rather
// than an address.
func (c *Checker) CheckLogin(ctx context.Context, remoteIP, nickname string) (Decision, error) {
	return c.check(ctx, remoteIP, nickname)
}

func (c *Checker) check(ctx context.Context, remoteIP, nickname string) (Decision, error) {
	now := c.now()

	// Expired bans are purged lazily, on the next evaluation after they
	// lapse, rather than by a background sweeper.
	if _, err := c.store.PurgeExpiredBans(ctx, now); err != nil {
		return Decision{}, err
	}

	bans, err := c.store.ListActiveBans(ctx, now)
	if err != nil {
		return Decision{}, err
	}
	for _, b := range bans {
		if matches(b.IPAddress, b.CIDR, b.Nickname, remoteIP, nickname) {
			return Decision{Banned: true, Reason: b.Reason, ExpiresAt: b.ExpiresAt}, nil
		}
	}

	trusts, err := c.store.ListActiveTrust(ctx, now)
	if err != nil {
		return Decision{}, err
	}
	for _, t := range trusts {
		if matches(t.IPAddress, t.CIDR, t.Nickname, remoteIP, nickname) {
			return Decision{Trusted: true, Reason: t.Reason, ExpiresAt: t.ExpiresAt}, nil
		}
	}

	return Decision{}, nil
}
