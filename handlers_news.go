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

	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/validate"
)

func registerNewsHandlers(r *Router) {
	r.Handle(KindBroadcast, handleBroadcast)
	r.Handle(KindNewsCreate, handleNewsCreate)
	r.Handle(KindNewsEdit, handleNewsEdit)
	r.Handle(KindNewsDelete, handleNewsDelete)
	r.Handle(KindSetServerInfo, handleSetServerInfo)
	r.Handle(KindChangePassword, handleChangePassword)
	r.Handle(KindManageUser, handleManageUser)
}

// handleBroadcast fans a server-wide message out to every connected
// session regardless of channel membership.
func handleBroadcast(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermUserBroadcast) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	body := ctx.Msg.StringField("body")
	if verr := validate.Message(body, DefaultMessageMaxLength); verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}

	s.server.bus.Publish(events.Event{
		Kind: events.KindBroadcast,
		Payload: &Message{Kind: KindEventBroadcast, Fields: map[string]any{
			"from": s.Nickname(),
			"body": body,
		}},
	})
	s.ReplyOK(nil)
}

// handleNewsCreate posts a news item. Either body or image (or both) must
// be present.
func handleNewsCreate(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermNewsCreate) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	body := ctx.Msg.StringField("body")
	image := ctx.Msg.StringField("image")
	var bodyPtr, imagePtr *string
	if body != "" {
		if verr := validate.Message(body, DefaultMessageMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		bodyPtr = &body
	}
	if image != "" {
		if verr := validate.Image(image, DefaultImageMaxBytes); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		imagePtr = &image
	}

	item, err := s.server.store.CreateNews(context.Background(), s.UserID(), bodyPtr, imagePtr)
	if err != nil {
		if errors.Is(err, store.ErrNewsBodyOrImageRequired) {
			s.ReplyError(NewError(ErrMessageEmpty, "field", "body"))
			return
		}
		s.ReplyError(asError(err))
		return
	}

	s.server.bus.Publish(events.Event{
		Kind: events.KindNewsPosted,
		Payload: &Message{Kind: KindEventNews, Fields: map[string]any{
			"kind":   "posted",
			"id":     item.ID,
			"author": s.Nickname(),
			"body":   body,
			"image":  image,
		}},
	})
	s.ReplyOK(map[string]any{"id": item.ID})
}

// handleNewsEdit overwrites a news item's body/image. Admin-authored news
// may only be edited by an admin.
func handleNewsEdit(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermNewsCreate) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	id := uint(ctx.Msg.IntField("id"))

	bgCtx := context.Background()
	item, err := s.server.store.GetNews(bgCtx, id)
	if err != nil {
		s.ReplyError(asError(err))
		return
	}
	if !s.IsAdmin() {
		authorIsAdmin, err := s.authorIsAdmin(bgCtx, item.AuthorID)
		if err != nil {
			s.ReplyError(asError(err))
			return
		}
		if authorIsAdmin {
			s.ReplyError(NewError(ErrCannotEditAdminNews))
			return
		}
		if item.AuthorID != s.UserID() {
			s.ReplyError(NewError(ErrPermissionDenied))
			return
		}
	}

	body := ctx.Msg.StringField("body")
	image := ctx.Msg.StringField("image")
	var bodyPtr, imagePtr *string
	if body != "" {
		if verr := validate.Message(body, DefaultMessageMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		bodyPtr = &body
	}
	if image != "" {
		if verr := validate.Image(image, DefaultImageMaxBytes); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		imagePtr = &image
	}

	if err := s.server.store.UpdateNews(bgCtx, id, bodyPtr, imagePtr); err != nil {
		if errors.Is(err, store.ErrNewsBodyOrImageRequired) {
			s.ReplyError(NewError(ErrMessageEmpty, "field", "body"))
			return
		}
		s.ReplyError(asError(err))
		return
	}

	s.server.bus.Publish(events.Event{
		Kind: events.KindNewsUpdated,
		Payload: &Message{Kind: KindEventNews, Fields: map[string]any{
			"kind":   "updated",
			"id":     id,
			"author": s.Nickname(),
			"body":   body,
			"image":  image,
		}},
	})
	s.ReplyOK(map[string]any{"id": id})
}

// handleNewsDelete removes a news item, subject to the same
// admin-authored protection as edits.
func handleNewsDelete(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermNewsCreate) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	id := uint(ctx.Msg.IntField("id"))

	bgCtx := context.Background()
	item, err := s.server.store.GetNews(bgCtx, id)
	if err != nil {
		s.ReplyError(asError(err))
		return
	}
	if !s.IsAdmin() {
		authorIsAdmin, err := s.authorIsAdmin(bgCtx, item.AuthorID)
		if err != nil {
			s.ReplyError(asError(err))
			return
		}
		if authorIsAdmin {
			s.ReplyError(NewError(ErrCannotEditAdminNews))
			return
		}
		if item.AuthorID != s.UserID() {
			s.ReplyError(NewError(ErrPermissionDenied))
			return
		}
	}

	if err := s.server.store.DeleteNews(bgCtx, id); err != nil {
		s.ReplyError(asError(err))
		return
	}

	s.server.bus.Publish(events.Event{
		Kind: events.KindNewsDeleted,
		Payload: &Message{Kind: KindEventNews, Fields: map[string]any{
			"kind": "deleted",
			"id":   id,
		}},
	})
	s.ReplyOK(map[string]any{"id": id})
}

// handleSetServerInfo overwrites server-wide config values (name,
// description, MOTD image) and republishes them to every session.
func handleSetServerInfo(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermServerInfoEdit) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	bgCtx := context.Background()
	changed := map[string]any{}

	if name, ok := ctx.Msg.Field("name"); ok {
		v, _ := name.(string)
		if verr := validate.Topic(v, DefaultChannelNameMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		if err := s.server.store.SetConfig(bgCtx, "server_name", v); err != nil {
			s.ReplyError(asError(err))
			return
		}
		changed["name"] = v
	}
	if desc, ok := ctx.Msg.Field("description"); ok {
		v, _ := desc.(string)
		if verr := validate.Topic(v, DefaultTopicMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		if err := s.server.store.SetConfig(bgCtx, "server_description", v); err != nil {
			s.ReplyError(asError(err))
			return
		}
		changed["description"] = v
	}
	if image, ok := ctx.Msg.Field("image"); ok {
		v, _ := image.(string)
		if v != "" {
			if verr := validate.Image(v, DefaultImageMaxBytes); verr != nil {
				s.ReplyError(mapValidationError(verr))
				return
			}
		}
		if err := s.server.store.SetConfig(bgCtx, "server_image", v); err != nil {
			s.ReplyError(asError(err))
			return
		}
		changed["image"] = v
	}

	s.server.bus.Publish(events.Event{
		Kind:    events.KindServerInfoUpdated,
		Payload: &Message{Kind: KindEventServerInfoUpdated, Fields: changed},
	})
	s.ReplyOK(nil)
}

// handleChangePassword lets a user change their own password. Shared
// accounts can never have a password.
func handleChangePassword(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if s.IsShared() {
		s.ReplyError(NewError(ErrSharedAccountCannotRepassword))
		return
	}
	newPassword := ctx.Msg.StringField("new_password")
	if newPassword == "" {
		s.ReplyError(NewError(ErrUsernameEmpty, "field", "new_password"))
		return
	}

	if err := s.server.store.SetPassword(context.Background(), s.Username(), newPassword); err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(nil)
}

// handleManageUser is the admin user-CRUD surface: create, enable/disable,
// promote/demote, set permissions, delete, all guarded by the
// guest-immutability and last-admin invariants the store already
// enforces, re-reported here as the specific err-* the admin console
// expects instead of a bare database error.
func handleManageUser(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermUserManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	action := ctx.Msg.StringField("action")
	username := ctx.Msg.StringField("username")
	bgCtx := context.Background()

	switch action {
	case "create":
		password := ctx.Msg.StringField("password")
		isAdmin := ctx.Msg.BoolField("is_admin")
		isShared := ctx.Msg.BoolField("is_shared")
		if verr := validate.Username(username, DefaultUsernameMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		if isAdmin && !s.IsAdmin() {
			s.ReplyError(NewError(ErrAdminRequired))
			return
		}
		u, err := s.server.store.CreateUser(bgCtx, username, password, isAdmin, isShared)
		if err != nil {
			s.ReplyError(remapGuestImmutable(err))
			return
		}
		s.ReplyOK(map[string]any{"username": u.Username})
	case "rename":
		newUsername := ctx.Msg.StringField("new_username")
		if verr := validate.Username(newUsername, DefaultUsernameMaxLength); verr != nil {
			s.ReplyError(mapValidationError(verr))
			return
		}
		if err := s.server.store.Rename(bgCtx, username, newUsername); err != nil {
			s.ReplyError(remapGuestImmutable(err))
			return
		}
		s.ReplyOK(map[string]any{"username": newUsername})
	case "set-avatar":
		avatar := ctx.Msg.StringField("avatar")
		if avatar != "" {
			if verr := validate.Image(avatar, DefaultAvatarMaxBytes); verr != nil {
				s.ReplyError(mapValidationError(verr))
				return
			}
		}
		if err := s.server.store.SetAvatar(bgCtx, username, avatar); err != nil {
			s.ReplyError(asError(err))
			return
		}
		s.ReplyOK(map[string]any{"username": username})
	case "set-password":
		if err := s.server.store.SetPassword(bgCtx, username, ctx.Msg.StringField("password")); err != nil {
			if errors.Is(err, store.ErrGuestImmutable) {
				s.ReplyError(NewError(ErrCannotRepasswordGuest))
				return
			}
			s.ReplyError(asError(err))
			return
		}
		s.ReplyOK(map[string]any{"username": username})
	case "enable", "disable":
		// Disabling yourself is allowed as long as another enabled admin
		// remains; the store's last-admin check is the only guard here.
		if err := s.server.store.SetEnabled(bgCtx, username, action == "enable"); err != nil {
			s.ReplyError(remapLastAdmin(err, ErrCannotDisableLastAdmin))
			return
		}
		s.ReplyOK(map[string]any{"username": username})
	case "promote", "demote":
		if username == s.Username() && action == "demote" {
			s.ReplyError(NewError(ErrCannotEditSelf))
			return
		}
		if err := s.server.store.SetAdmin(bgCtx, username, action == "promote"); err != nil {
			s.ReplyError(remapLastAdmin(err, ErrCannotDemoteLastAdmin))
			return
		}
		s.ReplyOK(map[string]any{"username": username})
	case "set-permissions":
		perms := ctx.Msg.StringField("permissions")
		target, err := s.server.store.GetUserByUsername(bgCtx, username)
		if err != nil {
			s.ReplyError(asError(err))
			return
		}
		if target.IsShared {
			for p := range parsePermissions(perms) {
				if SharedForbidden(p) {
					s.ReplyError(NewError(ErrSharedAccountForbiddenPerm, "permission", string(p)))
					return
				}
			}
		}
		if err := s.server.store.SetPermissions(bgCtx, username, perms); err != nil {
			s.ReplyError(asError(err))
			return
		}
		if target, ok := s.server.presence.ByNickname(username); ok {
			target.SetPermissions(parsePermissions(perms))
			target.Deliver(events.Event{
				Kind:    events.KindPermissionsChanged,
				Payload: &Message{Kind: KindEventPermissionsChanged, Fields: map[string]any{"permissions": perms}},
			})
		}
		s.ReplyOK(map[string]any{"username": username})
	case "delete":
		if username == s.Username() {
			s.ReplyError(NewError(ErrCannotDeleteSelf))
			return
		}
		if err := s.server.store.DeleteUser(bgCtx, username); err != nil {
			s.ReplyError(remapLastAdmin(err, ErrCannotDeleteLastAdmin))
			return
		}
		s.ReplyOK(map[string]any{"username": username})
	default:
		s.ReplyError(NewError(ErrInvalidMessageFormat, "reason", "unknown manage-user action", "action", action))
	}
}

func remapGuestImmutable(err error) *Error {
	switch {
	case errors.Is(err, store.ErrGuestImmutable):
		return NewError(ErrCannotRenameGuest)
	case errors.Is(err, store.ErrSharedAdmin):
		return NewError(ErrSharedAccountCannotBeAdmin)
	case errors.Is(err, store.ErrNotFound):
		return NewError(ErrUserNotFound)
	}
	return asError(err)
}

func remapLastAdmin(err error, code string) *Error {
	switch {
	case errors.Is(err, store.ErrLastAdmin):
		return NewError(code)
	case errors.Is(err, store.ErrGuestImmutable):
		return NewError(ErrCannotDeleteGuest)
	case errors.Is(err, store.ErrSharedAdmin):
		return NewError(ErrSharedAccountCannotBeAdmin)
	case errors.Is(err, store.ErrNotFound):
		return NewError(ErrUserNotFound)
	}
	return asError(err)
}

// authorIsAdmin looks up whether the account that authored a news item is
// an admin, used to enforce the "news authored by an admin may only be
// edited/deleted by an admin" rule without requiring the
// store to expose a username-keyed lookup for what is really a numeric
// foreign key.
func (s *Session) authorIsAdmin(ctx context.Context, authorID uint) (bool, error) {
	users, err := s.server.store.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.ID == authorID {
			return u.IsAdmin, nil
		}
	}
	return false, nil
}
