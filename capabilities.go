/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

// FeatureSet is the set of client-declared feature strings carried on
// the handshake message. Unlike IRCv3 CAP negotiation this is not
// bitmasked or acked by the server. It's informational, consulted by
// handlers that want to tailor behavior to what a client supports (e.g.
// whether to bother sending a presence event to a client that declared no
// interest in it).
type FeatureSet map[string]bool

// NewFeatureSet builds a FeatureSet from the feature strings carried on a
// handshake message.
func NewFeatureSet(features []string) FeatureSet {
	set := make(FeatureSet, len(features))
	for _, f := range features {
		set[f] = true
	}
	return set
}

// Has reports whether the client declared support for the named feature.
func (s FeatureSet) Has(feature string) bool {
	return s[feature]
}

// Known feature strings a client may declare at handshake.
const (
	FeatureAvatars        = "avatars"
	FeatureServerInfoPush = "server-info-push"
	FeatureMultilineChat  = "multiline-chat"
	FeatureFileTransfers  = "file-transfers"
)
