/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

// Kind discriminates a wire message's body shape. The vocabulary is
// closed: every value here is one the router can dispatch on and every
// handler file implements a named subset of it.
type Kind string

// Handshake and login, valid only before Active.
const (
	KindHandshake Kind = "handshake"
	KindLogin     Kind = "login"
)

// Chat and messaging.
const (
	KindSendChat        Kind = "send-chat"
	KindSendUserMessage Kind = "send-user-message"
)

// Channels.
const (
	KindJoinChannel  Kind = "join-channel"
	KindLeaveChannel Kind = "leave-channel"
	KindSetTopic     Kind = "set-topic"
)

// Presence and users.
const (
	KindListUsers Kind = "list-users"
	KindUserInfo  Kind = "user-info"
	KindKickUser  Kind = "kick-user"
)

// News, broadcast, admin.
const (
	KindBroadcast      Kind = "broadcast"
	KindNewsCreate     Kind = "news-create"
	KindNewsEdit       Kind = "news-edit"
	KindNewsDelete     Kind = "news-delete"
	KindSetServerInfo  Kind = "set-server-info"
	KindChangePassword Kind = "change-password"
	KindManageUser     Kind = "manage-user"
)

// File area.
const (
	KindListDir       Kind = "list-dir"
	KindMakeDir       Kind = "make-dir"
	KindRename        Kind = "rename"
	KindMove          Kind = "move"
	KindCopy          Kind = "copy"
	KindDeleteFile    Kind = "delete-file"
	KindUploadBegin   Kind = "upload-begin"
	KindUploadChunk   Kind = "upload-chunk"
	KindUploadCommit  Kind = "upload-commit"
	KindDownloadBegin Kind = "download-begin"
	KindDownloadChunk Kind = "download-chunk"
	KindSearchFiles   Kind = "search-files"
)

// Ban/trust management.
const (
	KindBan     Kind = "ban"
	KindUnban   Kind = "unban"
	KindTrust   Kind = "trust"
	KindUntrust Kind = "untrust"
)

// Server-to-client replies and pushed events. Reply kinds carry the
// outcome of a single request; event kinds mirror internal/events.Kind
// for whichever events reach the wire.
const (
	KindOK    Kind = "ok"
	KindError Kind = "error"

	KindEventChat               Kind = "event-chat"
	KindEventUserMessage        Kind = "event-user-message"
	KindEventPresence           Kind = "event-presence"
	KindEventTopic              Kind = "event-topic"
	KindEventNews               Kind = "event-news"
	KindEventServerInfoUpdated  Kind = "event-server-info-updated"
	KindEventPermissionsChanged Kind = "event-permissions-changed"
	KindEventBroadcast          Kind = "event-broadcast"
	KindEventKicked             Kind = "event-kicked"
)

// preActiveKinds is the set of commands accepted before the session
// reaches Active; everything else is rejected with err-handshake-
// required or err-not-logged-in depending on which step is missing.
var preActiveKinds = map[Kind]bool{
	KindHandshake: true,
	KindLogin:     true,
}
