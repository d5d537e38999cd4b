/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"
	"time"

	"github.com/nexuschat/nexus/internal/access"
	"github.com/nexuschat/nexus/internal/validate"
)

func registerBanHandlers(r *Router) {
	r.Handle(KindBan, handleBan)
	r.Handle(KindUnban, handleUnban)
	r.Handle(KindTrust, handleTrust)
	r.Handle(KindUntrust, handleUntrust)
}

// handleBan records a ban entry and immediately closes every live
// session the new entry covers, whatever its target kind. Admin
// accounts can never be targeted, whether by nickname or by the IP of an
// admin's own session.
func handleBan(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermBanManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	target := ctx.Msg.StringField("target")
	reason := ctx.Msg.StringField("reason")
	durationStr := ctx.Msg.StringField("duration")

	kind, verr := validate.BanTarget(target)
	if verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}
	d, permanent, verr := validate.Duration(durationStr)
	if verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}

	if err := s.refuseAdminTarget(kind, target); err != nil {
		s.ReplyError(err)
		return
	}

	bgCtx := context.Background()
	var ipAddress, cidr, nickname string
	switch kind {
	case validate.BanTargetIP:
		ipAddress = target
	case validate.BanTargetCIDR:
		cidr = target
	case validate.BanTargetNickname:
		nickname = target
	}

	var expiresAt *time.Time
	if !permanent {
		t := time.Now().Add(d)
		expiresAt = &t
	}

	ban, err := s.server.store.CreateBan(bgCtx, ipAddress, cidr, nickname, reason, s.Username(), expiresAt)
	if err != nil {
		s.ReplyError(asError(err))
		return
	}

	// Evict every live session the new ban covers, whatever its target
	// kind. Matches are collected first: Close unregisters from the
	// presence registry and must not run inside its iteration.
	var evicted []*Session
	s.server.presence.ForEach(func(other *Session) {
		if access.TargetMatches(ipAddress, cidr, nickname, other.RemoteIP(), other.Nickname()) {
			evicted = append(evicted, other)
		}
	})
	for _, other := range evicted {
		other.Close("banned: " + reason)
	}

	s.ReplyOK(map[string]any{"id": ban.ID, "target": target})
}

func handleUnban(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermBanManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	id := uint(ctx.Msg.IntField("id"))
	if err := s.server.store.DeleteBan(context.Background(), id); err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(map[string]any{"id": id})
}

// handleTrust records a trust entry exempting a target from rate-limiting
// and policy gates; it never overrides an existing ban.
func handleTrust(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermTrustManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	target := ctx.Msg.StringField("target")
	reason := ctx.Msg.StringField("reason")
	durationStr := ctx.Msg.StringField("duration")

	kind, verr := validate.BanTarget(target)
	if verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}
	d, permanent, verr := validate.Duration(durationStr)
	if verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}

	var ipAddress, cidr, nickname string
	switch kind {
	case validate.BanTargetIP:
		ipAddress = target
	case validate.BanTargetCIDR:
		cidr = target
	case validate.BanTargetNickname:
		nickname = target
	}

	var expiresAt *time.Time
	if !permanent {
		t := time.Now().Add(d)
		expiresAt = &t
	}

	trust, err := s.server.store.CreateTrust(context.Background(), ipAddress, cidr, nickname, reason, s.Username(), expiresAt)
	if err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(map[string]any{"id": trust.ID, "target": target})
}

func handleUntrust(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermTrustManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	id := uint(ctx.Msg.IntField("id"))
	if err := s.server.store.DeleteTrust(context.Background(), id); err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(map[string]any{"id": id})
}

// refuseAdminTarget enforces that a ban can never target an admin: not by
// the admin's own nickname, and not by the IP address of a session an
// admin is currently using.
func (s *Session) refuseAdminTarget(kind validate.BanTargetKind, target string) *Error {
	switch kind {
	case validate.BanTargetNickname:
		if other, ok := s.server.presence.ByNickname(target); ok && other.IsAdmin() {
			return NewError(ErrBanTargetIsAdmin)
		}
		// An offline admin is protected too: non-shared accounts log in
		// under their own username as the nickname.
		if u, err := s.server.store.GetUserByUsername(context.Background(), target); err == nil && u.IsAdmin {
			return NewError(ErrBanTargetIsAdmin)
		}
	case validate.BanTargetIP:
		var blocked bool
		s.server.presence.ForEach(func(other *Session) {
			if other.IsAdmin() && other.RemoteIP() == target {
				blocked = true
			}
		})
		if blocked {
			return NewError(ErrBanTargetIsAdmin)
		}
	}
	return nil
}
