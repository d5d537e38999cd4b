/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package store wraps a relational store (SQLite via GORM) exposing
// typed, transactional operations: user CRUD with the admin-count
// invariant, config get/set, persistent-channel settings, news CRUD
// with author checks, IP-ban and trust lookup with expiry filtering,
// and the upload-reservation lifecycle. Multi-row mutations run inside
// db.Transaction.
package store

import (
	"errors"
	"time"
)

// Sentinel errors. Persistence callers in the session machine map these
// (and anything else this package returns) to the err-database code,
// except where a more specific protocol error applies (e.g. ErrNotFound
// variants map to not-found errors, not err-database).
var (
	ErrNotFound         = errors.New("store: record not found")
	ErrLastAdmin        = errors.New("store: at least one enabled admin must exist")
	ErrGuestImmutable   = errors.New("store: the guest account cannot be renamed, repassworded, or deleted")
	ErrSharedAdmin      = errors.New("store: a shared account cannot be an admin")
	ErrUploadConflict   = errors.New("store: a reservation already exists for this folder and filename")
	ErrUploadFileExists = errors.New("store: a file already exists at this folder and filename")
)

// GuestUsername is the built-in shared account name that can never be
// renamed, repassworded, or deleted.
const GuestUsername = "guest"

// User is the durable account row.
type User struct {
	ID           uint   `gorm:"primarykey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string
	IsAdmin      bool
	IsShared     bool
	Enabled      bool `gorm:"default:true"`
	CreatedAt    time.Time
	Permissions  string // space-separated Permission names; empty means "use defaults".
	Avatar       string // data URI, optional.
	Locale       string
}

// ConfigEntry is a single key/value row in the config table.
type ConfigEntry struct {
	Key   string `gorm:"primarykey"`
	Value string
}

// ChannelSettings is the durable settings row for a persistent channel.
type ChannelSettings struct {
	Name       string `gorm:"primarykey"`
	Topic      string
	TopicSetBy string
	Secret     bool
}

// NewsItem is a news post. CHECK(body IS NOT NULL OR image IS
// NOT NULL) is enforced in application code at CreateNews/UpdateNews
// since GORM's SQLite dialect does not surface CHECK constraint
// violations as a typed error; the check tag below still declares the
// constraint at the schema level.
type NewsItem struct {
	ID        uint    `gorm:"primarykey"`
	Body      *string `gorm:"check:chk_news_body_or_image,body IS NOT NULL OR image IS NOT NULL"`
	Image     *string
	AuthorID  uint      `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt *time.Time
}

// IPBan is a ban entry. Target is exactly one of {Nickname,
// IPAddress, CIDR}, disambiguated by which field is non-empty.
type IPBan struct {
	ID        uint   `gorm:"primarykey"`
	IPAddress string `gorm:"index"`
	CIDR      string
	Nickname  string `gorm:"index"`
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time `gorm:"index"`
}

// TrustEntry grants a rate-limit/policy-gate bypass for a target of the
// same shape as IPBan.
type TrustEntry struct {
	ID        uint   `gorm:"primarykey"`
	IPAddress string `gorm:"index"`
	CIDR      string
	Nickname  string `gorm:"index"`
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// UploadReservation binds a future filename to a session, expected size
// and hash. At most one live (State == ReservationActive
// or ReservationInterrupted) reservation may exist per (Folder, Filename).
type UploadReservation struct {
	ID            uint   `gorm:"primarykey"`
	Folder        string `gorm:"uniqueIndex:idx_folder_filename"`
	Filename      string `gorm:"uniqueIndex:idx_folder_filename"`
	SessionID     string
	ExpectedSize  int64
	ExpectedHash  string
	ReceivedBytes int64
	State         ReservationState
	CreatedAt     time.Time
}

// ReservationState is the lifecycle state of an UploadReservation.
type ReservationState string

const (
	ReservationActive      ReservationState = "active"
	ReservationInterrupted ReservationState = "interrupted"
)

// ChatState is the deprecated legacy single-channel topic table, kept
// only so Migrate can fold its one row into channel_settings("#nexus")
// on first run against an old database.
type ChatState struct {
	ID    uint `gorm:"primarykey"`
	Topic string
}

// AllModels lists every model AutoMigrate must know about.
func AllModels() []any {
	return []any{
		&User{},
		&ConfigEntry{},
		&ChannelSettings{},
		&NewsItem{},
		&IPBan{},
		&TrustEntry{},
		&UploadReservation{},
		&ChatState{},
	}
}
