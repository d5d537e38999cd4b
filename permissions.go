/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

// Permission names the closed vocabulary of named permissions a user may
// hold. Held as a set on the User row and snapshotted onto the Session
// at login (and refreshed on permissions-changed).
type Permission string

const (
	PermChatReceive    Permission = "chat_receive"
	PermChatSend       Permission = "chat_send"
	PermChatTopicEdit  Permission = "chat_topic_edit"
	PermChatCreate     Permission = "chat_create"
	PermUserList       Permission = "user_list"
	PermUserBroadcast  Permission = "user_broadcast"
	PermNewsReceive    Permission = "news_receive"
	PermNewsCreate     Permission = "news_create"
	PermServerInfoEdit Permission = "server_info_edit"
	PermFileDownload   Permission = "file_download"
	PermFileUpload     Permission = "file_upload"
	PermFileManage     Permission = "file_manage"
	PermUserManage     Permission = "user_manage"
	PermBanManage      Permission = "ban_manage"
	PermTrustManage    Permission = "trust_manage"
	PermKick           Permission = "kick"
)

// sharedForbidden is the subset of permissions a shared account may
// never hold.
var sharedForbidden = map[Permission]bool{
	PermUserManage:     true,
	PermBanManage:      true,
	PermTrustManage:    true,
	PermServerInfoEdit: true,
}

// SharedForbidden reports whether perm is in the shared-forbidden subset.
func SharedForbidden(perm Permission) bool {
	return sharedForbidden[perm]
}

// PermissionSet is a small set of Permission values, snapshotted onto a
// Session at login time.
type PermissionSet map[Permission]bool

// NewPermissionSet builds a PermissionSet from a slice of permission names.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Has reports whether the set grants perm.
func (s PermissionSet) Has(perm Permission) bool {
	return s[perm]
}

// DefaultPermissions are granted to any enabled, non-admin user account
// that has no explicit permission set stored.
var DefaultPermissions = []Permission{
	PermChatReceive,
	PermChatSend,
	PermUserList,
	PermNewsReceive,
	PermFileDownload,
}

// AdminPermissions are granted to any admin account that has no explicit
// permission set stored; a stored set replaces them, as it does
// DefaultPermissions. Admin status itself is checked separately
// (Session.IsAdmin) by handlers that require an admin, not as a
// permission string.
var AdminPermissions = []Permission{
	PermChatReceive,
	PermChatSend,
	PermChatTopicEdit,
	PermChatCreate,
	PermUserList,
	PermUserBroadcast,
	PermNewsReceive,
	PermNewsCreate,
	PermServerInfoEdit,
	PermFileDownload,
	PermFileUpload,
	PermFileManage,
	PermUserManage,
	PermBanManage,
	PermTrustManage,
	PermKick,
}
