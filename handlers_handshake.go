/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/validate"
)

// ServerProtocolVersion is this server's wire-protocol version. Major
// must match a client's declared major exactly; minor differences are
// tolerated.
var ServerProtocolVersion = validate.Version{Major: ProtocolMajor, Minor: ProtocolMinor, Patch: ProtocolPatch}

func registerHandshakeHandlers(r *Router) {
	r.Handle(KindHandshake, handleHandshake)
	r.Handle(KindLogin, handleLogin)
}

// handleHandshake negotiates the protocol version and feature set,
// advancing Awaiting-handshake to Awaiting-login.
func handleHandshake(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	switch s.State() {
	case StateAwaitingHandshake:
		// proceeds below
	case StateAwaitingLogin, StateActive:
		s.ReplyError(NewError(ErrHandshakeAlreadyCompleted))
		return
	default:
		s.ReplyError(NewError(ErrHandshakeRequired))
		return
	}

	versionStr := ctx.Msg.StringField("version")
	version, verr := validate.ParseVersion(versionStr)
	if verr != nil {
		s.ReplyError(NewError(ErrVersionInvalid, "value", versionStr))
		return
	}

	if version.Major != ServerProtocolVersion.Major {
		if version.Major > ServerProtocolVersion.Major {
			s.ReplyError(NewError(ErrVersionClientTooNew,
				"client_major", version.Major, "server_major", ServerProtocolVersion.Major))
		} else {
			s.ReplyError(NewError(ErrVersionMajorMismatch,
				"client_major", version.Major, "server_major", ServerProtocolVersion.Major))
		}
		return
	}

	var declared []string
	if raw, ok := ctx.Msg.Field("features"); ok {
		if list, ok := raw.([]any); ok {
			for _, f := range list {
				if name, ok := f.(string); ok {
					declared = append(declared, name)
				}
			}
		}
	}

	s.setHandshake(version, NewFeatureSet(declared))
	s.ReplyOK(map[string]any{
		"server_version": fmt.Sprintf("%d.%d.%d", ServerProtocolVersion.Major, ServerProtocolVersion.Minor, ServerProtocolVersion.Patch),
	})
}

// handleLogin authenticates credentials, assigns a nickname, and
// advances Awaiting-login to Active. Guest/shared accounts
// have no password and authenticate by username alone, with a required
// nickname.
func handleLogin(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	switch s.State() {
	case StateAwaitingHandshake:
		s.ReplyError(NewError(ErrHandshakeRequired))
		return
	case StateActive:
		s.ReplyError(NewError(ErrAlreadyLoggedIn))
		return
	case StateAwaitingLogin:
		// proceeds below
	default:
		s.ReplyError(NewError(ErrHandshakeRequired))
		return
	}

	username := ctx.Msg.StringField("username")
	password := ctx.Msg.StringField("password")
	nickname := ctx.Msg.StringField("nickname")
	locale := ctx.Msg.StringField("locale")

	bgCtx := context.Background()
	srv := s.server

	u, err := srv.store.GetUserByUsername(bgCtx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.ReplyError(NewError(ErrInvalidCredentials))
			return
		}
		s.ReplyError(NewError(ErrDatabase, "reason", err.Error()))
		return
	}

	if !u.IsShared {
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			s.ReplyError(NewError(ErrInvalidCredentials))
			return
		}
	}
	if !u.Enabled {
		s.ReplyError(NewError(ErrAccountDisabled))
		return
	}

	// Two-login ambiguity: a non-shared user already has a
	// live session elsewhere. Reject the second login rather than
	// displacing the first.
	if !u.IsShared {
		if _, online := srv.presence.ByUserID(u.ID); online {
			s.ReplyError(NewError(ErrUserAlreadyOnline, "username", u.Username))
			return
		}
	}

	if nickname == "" {
		if u.IsShared {
			s.ReplyError(NewError(ErrNicknameRequired))
			return
		}
		nickname = u.Username
	}

	// A nickname may not impersonate another account's username.
	reserved := make(map[string]bool)
	if users, lerr := srv.store.ListUsers(bgCtx); lerr == nil {
		for _, other := range users {
			reserved[other.Username] = true
		}
	}
	nickOpts := validate.NicknameOpts{
		Max:               DefaultNicknameMaxLength,
		ExistingUsernames: reserved,
		OwnUsername:       u.Username,
	}
	if nverr := validate.Nickname(nickname, nickOpts); nverr != nil {
		s.ReplyError(mapValidationError(nverr))
		return
	}
	if existing, ok := srv.presence.ByNickname(nickname); ok && existing != s {
		s.ReplyError(NewError(ErrNicknameInUse, "nickname", nickname))
		return
	}

	// Ban evaluation happens against the nickname the session will
	// actually carry, after derivation from the username for non-shared
	// accounts.
	decision, err := srv.access.CheckLogin(bgCtx, s.RemoteIP(), nickname)
	if err != nil {
		s.ReplyError(NewError(ErrDatabase, "reason", err.Error()))
		return
	}
	if decision.Banned {
		if decision.ExpiresAt != nil {
			s.ReplyError(NewError(ErrBannedWithExpiry, "reason", decision.Reason, "expires_at", decision.ExpiresAt.Unix()))
		} else {
			s.ReplyError(NewError(ErrBannedPermanent, "reason", decision.Reason))
		}
		return
	}

	s.applyLogin(bgCtx, u, nickname, locale)
	s.ReplyOK(map[string]any{
		"username": u.Username,
		"nickname": nickname,
		"is_admin": u.IsAdmin,
	})
}
