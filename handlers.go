/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import "github.com/nexuschat/nexus/internal/validate"

// Field length defaults. The protocol leaves the exact numbers to the
// server; these are this server's choices.
const (
	DefaultUsernameMaxLength    = 32
	DefaultNicknameMaxLength    = 32
	DefaultMessageMaxLength     = 2000
	DefaultChannelNameMaxLength = 64
	DefaultAvatarMaxBytes       = 256 << 10
	DefaultImageMaxBytes        = 512 << 10
)

// registerHandlers wires every command Kind to its handler.
func registerHandlers(r *Router) {
	registerHandshakeHandlers(r)
	registerChatHandlers(r)
	registerNewsHandlers(r)
	registerFileHandlers(r)
	registerBanHandlers(r)
}

// mapValidationError translates a validate.Error into this package's
// {code, parameters} Error, picking the field-specific err-* code the
// closed taxonomy expects instead of validate's generic
// err-field-* codes.
func mapValidationError(v *validate.Error) *Error {
	code := ErrDatabase // unreachable default; every known (field, kind) below is covered

	switch v.Field {
	case "username":
		switch v.Kind {
		case validate.ErrEmpty:
			code = ErrUsernameEmpty
		case validate.ErrTooLong:
			code = ErrUsernameTooLong
		case validate.ErrWhitespace:
			code = ErrUsernameWhitespace
		case validate.ErrControlChars:
			code = ErrUsernameControlChars
		}
	case "nickname":
		switch v.Kind {
		case validate.ErrEmpty:
			code = ErrNicknameEmpty
		case validate.ErrTooLong:
			code = ErrNicknameTooLong
		case validate.ErrWhitespace:
			code = ErrNicknameWhitespace
		case validate.ErrControlChars:
			code = ErrNicknameControlChars
		case "err-nickname-reserved":
			code = ErrNicknameInUse
		}
	case "topic":
		switch v.Kind {
		case validate.ErrTooLong:
			code = ErrTopicTooLong
		case validate.ErrNewlines:
			code = ErrTopicContainsNewlines
		case validate.ErrControlChars:
			code = ErrTopicControlChars
		}
	case "message":
		switch v.Kind {
		case validate.ErrEmpty:
			code = ErrMessageEmpty
		case validate.ErrTooLong:
			code = ErrMessageTooLong
		case validate.ErrNewlines:
			code = ErrMessageContainsNewlines
		case validate.ErrControlChars:
			code = ErrMessageControlChars
		}
	case "image":
		switch v.Kind {
		case validate.ErrInvalidDataURI:
			code = ErrImageInvalidDataURI
		case validate.ErrUnsupportedMIME:
			code = ErrImageUnsupportedMIME
		case validate.ErrImageTooLarge:
			code = ErrImageTooLarge
		}
	case "channel":
		code = ErrChannelNameInvalid
		if v.Kind == validate.ErrTooLong {
			code = ErrChannelNameTooLong
		}
	case "version":
		code = ErrVersionInvalid
	case "duration":
		code = ErrDurationInvalid
	case "target":
		code = ErrBanTargetInvalid
	}

	kv := make([]any, 0, 2+2*len(v.Params))
	kv = append(kv, "field", v.Field)
	for k, val := range v.Params {
		kv = append(kv, k, val)
	}
	return NewError(code, kv...)
}
