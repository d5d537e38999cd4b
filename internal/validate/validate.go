/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package validate holds the pure, side-effect-free predicates that check
// user-supplied strings (names, messages, topics, images, versions,
// durations, ban targets) against their length/character/semver rules.
// Every failure is a stable error id plus named parameters, so
// callers can render it however they like without re-deriving why it
// failed.
package validate

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Error codes, kept as plain strings here (rather than importing the root
// package) to avoid a package cycle between the root session machine and
// this pure validation kit. The image, version, duration, ban-target and
// channel-name codes are the same strings the root package uses; the
// generic err-field-* codes are translated by the root package into
// field-specific ones.
const (
	ErrEmpty            = "err-field-empty"
	ErrTooLong          = "err-field-too-long"
	ErrWhitespace       = "err-field-contains-whitespace"
	ErrControlChars     = "err-field-contains-control-chars"
	ErrNewlines         = "err-field-contains-newlines"
	ErrInvalidDataURI   = "err-image-invalid-data-uri"
	ErrUnsupportedMIME  = "err-image-unsupported-mime"
	ErrImageTooLarge    = "err-image-too-large"
	ErrVersionInvalid     = "err-version-invalid"
	ErrDurationInvalid    = "err-duration-invalid"
	ErrBanTargetInvalid   = "err-ban-target-invalid"
	ErrChannelNameInvalid = "err-channel-name-invalid"
)

// Error is a structured validation failure: a stable Kind plus named
// Params a client-facing localizer can interpolate.
type Error struct {
	Kind   string
	Field  string
	Params map[string]any
}

func newError(kind, field string, kv ...any) *Error {
	e := &Error{Kind: kind, Field: field}
	if len(kv) > 0 {
		e.Params = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if key, ok := kv[i].(string); ok {
				e.Params[key] = kv[i+1]
			}
		}
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %v", e.Field, e.Kind, e.Params)
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' {
			return true
		}
	}
	return false
}

func hasWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// checkBounded applies the common non-empty/length/whitespace/control
// rule set shared by Username and Nickname.
func checkBounded(field, value string, max int, forbidWhitespace bool) *Error {
	if len(value) == 0 {
		return newError(ErrEmpty, field)
	}
	if len(value) > max {
		return newError(ErrTooLong, field, "max", max)
	}
	if forbidWhitespace && hasWhitespace(value) {
		return newError(ErrWhitespace, field)
	}
	if hasControlChars(value) {
		return newError(ErrControlChars, field)
	}
	return nil
}

// Username validates a candidate account username: non-empty, bounded,
// no whitespace, no control characters.
func Username(value string, max int) *Error {
	return checkBounded("username", value, max, true)
}

// NicknameOpts carries the extra context nickname validation needs beyond
// the shared bounded-string rules: the set of existing usernames, and
// whose own username (if any) is exempt from the collision check.
type NicknameOpts struct {
	Max               int
	ExistingUsernames map[string]bool
	OwnUsername       string
}

// Nickname validates a candidate nickname: non-empty, bounded, no
// whitespace, no control characters, and must not collide with any
// existing username other than the caller's own.
func Nickname(value string, opts NicknameOpts) *Error {
	if err := checkBounded("nickname", value, opts.Max, true); err != nil {
		return err
	}
	if opts.ExistingUsernames != nil && opts.ExistingUsernames[value] && !strings.EqualFold(value, opts.OwnUsername) {
		return newError("err-nickname-reserved", "nickname", "value", value)
	}
	return nil
}

// Topic validates a channel topic or server description: bounded, no
// newlines, no control characters.
func Topic(value string, max int) *Error {
	if len(value) > max {
		return newError(ErrTooLong, "topic", "max", max)
	}
	if strings.ContainsAny(value, "\r\n") {
		return newError(ErrNewlines, "topic")
	}
	if hasControlChars(value) {
		return newError(ErrControlChars, "topic")
	}
	return nil
}

// Message validates a chat or user message body: non-empty, no newlines,
// no control characters, bounded.
func Message(value string, max int) *Error {
	if len(value) == 0 {
		return newError(ErrEmpty, "message")
	}
	if len(value) > max {
		return newError(ErrTooLong, "message", "max", max)
	}
	if strings.ContainsAny(value, "\r\n") {
		return newError(ErrNewlines, "message")
	}
	if hasControlChars(value) {
		return newError(ErrControlChars, "message")
	}
	return nil
}

// ChannelName validates a channel name: starts with '#', at least one
// further character, bounded, no whitespace or control characters.
func ChannelName(value string, max int) *Error {
	if len(value) < 2 || value[0] != '#' {
		return newError(ErrChannelNameInvalid, "channel", "value", value)
	}
	if len(value) > max {
		return newError(ErrTooLong, "channel", "max", max)
	}
	if hasWhitespace(value) || hasControlChars(value) {
		return newError(ErrChannelNameInvalid, "channel", "value", value)
	}
	return nil
}

var dataURIPattern = regexp.MustCompile(`^data:image/([a-zA-Z0-9.+-]+);base64,(.+)$`)

var allowedImageMIME = map[string]bool{
	"png":     true,
	"webp":    true,
	"jpeg":    true,
	"svg+xml": true,
}

// Image validates a data-URI-encoded image (avatar, server image, or news
// image): well-formed data URI, base64 payload, allowed MIME subtype,
// decoded size within maxBytes.
func Image(value string, maxBytes int) *Error {
	m := dataURIPattern.FindStringSubmatch(value)
	if m == nil {
		return newError(ErrInvalidDataURI, "image")
	}
	mime, payload := m[1], m[2]
	if !allowedImageMIME[mime] {
		return newError(ErrUnsupportedMIME, "image", "mime", mime)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return newError(ErrInvalidDataURI, "image")
	}
	if len(decoded) > maxBytes {
		return newError(ErrImageTooLarge, "image", "max_bytes", maxBytes, "actual_bytes", len(decoded))
	}
	return nil
}

// Version is a parsed MAJOR.MINOR.PATCH semantic version.
type Version struct {
	Major, Minor, Patch int
}

var semverPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ParseVersion parses a strict MAJOR.MINOR.PATCH semver string.
func ParseVersion(value string) (Version, *Error) {
	m := semverPattern.FindStringSubmatch(value)
	if m == nil {
		return Version{}, newError(ErrVersionInvalid, "version", "value", value)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// Duration parses the duration grammar "<n>m|h|d" or "0" (permanent,
// represented as a zero time.Duration with permanent=true and a nil
// error).
func Duration(value string) (d time.Duration, permanent bool, verr *Error) {
	if value == "0" {
		return 0, true, nil
	}
	if len(value) < 2 {
		return 0, false, newError(ErrDurationInvalid, "duration", "value", value)
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n <= 0 {
		return 0, false, newError(ErrDurationInvalid, "duration", "value", value)
	}
	switch value[len(value)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, false, nil
	case 'h':
		return time.Duration(n) * time.Hour, false, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, false, nil
	default:
		return 0, false, newError(ErrDurationInvalid, "duration", "value", value)
	}
}

// BanTargetKind disambiguates the syntax of a ban/trust target.
type BanTargetKind int

const (
	BanTargetNickname BanTargetKind = iota
	BanTargetIP
	BanTargetCIDR
)

// BanTarget classifies and validates a ban/trust target string: an IP
// literal, a CIDR range, or a nickname.
func BanTarget(value string) (BanTargetKind, *Error) {
	if strings.Contains(value, "/") {
		if _, _, err := net.ParseCIDR(value); err != nil {
			return 0, newError(ErrBanTargetInvalid, "target", "value", value)
		}
		return BanTargetCIDR, nil
	}
	if _, err := netip.ParseAddr(value); err == nil {
		return BanTargetIP, nil
	}
	if len(value) == 0 || hasWhitespace(value) || hasControlChars(value) {
		return 0, newError(ErrBanTargetInvalid, "target", "value", value)
	}
	return BanTargetNickname, nil
}
