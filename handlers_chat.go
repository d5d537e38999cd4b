/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"

	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/validate"
	"github.com/nexuschat/nexus/shared/stringutils"
)

// NameListPageBytes bounds each chunk of a ChunkJoinStrings-paginated
// nickname/filename listing carried alongside the structured entries
// for clients that render a flat text list.
const NameListPageBytes = 1024

func registerChatHandlers(r *Router) {
	r.Handle(KindSendChat, handleSendChat)
	r.Handle(KindSendUserMessage, handleSendUserMessage)
	r.Handle(KindJoinChannel, handleJoinChannel)
	r.Handle(KindLeaveChannel, handleLeaveChannel)
	r.Handle(KindSetTopic, handleSetTopic)
	r.Handle(KindListUsers, handleListUsers)
	r.Handle(KindUserInfo, handleUserInfo)
	r.Handle(KindKickUser, handleKickUser)
}

// handleSendChat publishes a chat message to every authorized member of
// the session's joined channel. The author always receives their own
// echo: through the bus when it holds chat_receive, and delivered
// directly otherwise, since Authorized checks membership + chat_receive.
func handleSendChat(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermChatSend) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}

	channel := ctx.Msg.StringField("channel")
	body := ctx.Msg.StringField("body")

	if verr := validate.Message(body, DefaultMessageMaxLength); verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}
	key := canonicalChannelName(channel)
	if !s.isJoined(key) {
		s.ReplyError(NewError(ErrChannelNotFound, "channel", channel))
		return
	}

	ev := events.Event{
		Kind:    events.KindChatMessage,
		Channel: key,
		Payload: &Message{Kind: KindEventChat, Fields: map[string]any{
			"channel": channel,
			"author":  s.Nickname(),
			"body":    body,
		}},
	}
	s.server.bus.Publish(ev)
	if !s.HasPermission(PermChatReceive) {
		s.Deliver(ev)
	}
	s.ReplyOK(nil)
}

// handleSendUserMessage delivers directly to the named recipient's
// session, bypassing the bus's broadcast Authorized check since the
// recipient is already fully determined by nickname.
func handleSendUserMessage(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	to := ctx.Msg.StringField("to")
	body := ctx.Msg.StringField("body")

	if verr := validate.Message(body, DefaultMessageMaxLength); verr != nil {
		s.ReplyError(mapValidationError(verr))
		return
	}

	target, ok := s.server.presence.ByNickname(to)
	if !ok {
		s.ReplyError(NewError(ErrUserNotOnline, "nickname", to))
		return
	}

	target.Deliver(events.Event{
		Kind: events.KindUserMessage,
		Payload: &Message{Kind: KindEventUserMessage, Fields: map[string]any{
			"from": s.Nickname(),
			"to":   to,
			"body": body,
		}},
	})
	s.ReplyOK(nil)
}

func handleJoinChannel(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	name := ctx.Msg.StringField("channel")
	if !s.HasPermission(PermChatReceive) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	if err := s.server.channels.Join(s, name); err != nil {
		s.ReplyError(asError(err))
		return
	}
	ch, _ := s.server.channels.Get(name)
	topic, setBy := ch.Topic()
	s.ReplyOK(map[string]any{
		"channel": name,
		"topic":   topic,
		"topic_set_by": setBy,
		"members": len(ch.Members()),
	})
}

func handleLeaveChannel(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	name := ctx.Msg.StringField("channel")
	if err := s.server.channels.Leave(s, name); err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(map[string]any{"channel": name})
}

func handleSetTopic(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermChatTopicEdit) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	name := ctx.Msg.StringField("channel")
	topic := ctx.Msg.StringField("topic")

	if err := s.server.channels.SetTopic(context.Background(), s, name, topic); err != nil {
		s.ReplyError(asError(err))
		return
	}
	s.ReplyOK(map[string]any{"channel": name, "topic": topic})
}

func handleListUsers(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermUserList) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	names := make([]string, 0, s.server.presence.Count())
	s.server.presence.ForEach(func(other *Session) {
		names = append(names, other.Nickname())
	})
	s.ReplyOK(map[string]any{
		"users": names,
		// name_pages pre-chunks the same names into wire-friendly pages for
		// clients that render a flat text list rather than JSON.
		"name_pages": stringutils.ChunkJoinStrings(NameListPageBytes, ",", names...),
	})
}

func handleUserInfo(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	nickname := ctx.Msg.StringField("nickname")
	target, ok := s.server.presence.ByNickname(nickname)
	if !ok {
		s.ReplyError(NewError(ErrUserNotOnline, "nickname", nickname))
		return
	}
	s.ReplyOK(map[string]any{
		"nickname": target.Nickname(),
		"username": target.Username(),
		"is_admin": target.IsAdmin(),
		"channels": target.JoinedChannels(),
	})
}

// handleKickUser delivers a kicked event to another session and then
// disconnects it. Ban application does not go through here: handleBan
// closes the covered sessions itself.
func handleKickUser(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermKick) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	nickname := ctx.Msg.StringField("nickname")
	reason := ctx.Msg.StringField("reason")

	target, ok := s.server.presence.ByNickname(nickname)
	if !ok {
		s.ReplyError(NewError(ErrUserNotOnline, "nickname", nickname))
		return
	}
	if target.IsAdmin() && !s.IsAdmin() {
		s.ReplyError(NewError(ErrCannotKickAdmin))
		return
	}

	target.Deliver(events.Event{
		Kind: events.KindKicked,
		Payload: &Message{Kind: KindEventKicked, Fields: map[string]any{
			"nickname": nickname,
			"reason":   reason,
		}},
	})
	target.Close("kicked: " + reason)
	s.ReplyOK(map[string]any{"nickname": nickname})
}

// asError normalizes an error returned by a lower layer into a wire
// Error: passes an existing *Error through unchanged and reports every
// other error, store sentinels included, as err-database. Handlers that
// need a specific code for a sentinel check it before calling this.
func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(ErrDatabase, "reason", err.Error())
}
