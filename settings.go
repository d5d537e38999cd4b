/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

// ProtocolMajor/Minor/Patch is the wire-protocol semver this server
// implements. A client's major version must match exactly; minor and
// patch differences are tolerated.
const (
	ProtocolMajor = 2
	ProtocolMinor = 4
	ProtocolPatch = 1
)
