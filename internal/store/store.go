/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// AdminUsername is the administrator account seeded on a fresh install.
const AdminUsername = "root"

// EnvAdminInitialPassword optionally supplies the seed admin password.
// When unset, a random one is generated and exposed once through
// InitialAdminPassword so the operator can perform the first login.
const EnvAdminInitialPassword = "NEXUS_ADMIN_INITIAL_PASSWORD"

// Store wraps a *gorm.DB with the typed operations the session machine
// needs. Every multi-row mutation runs inside db.Transaction.
type Store struct {
	db *gorm.DB

	initialAdminPassword string
}

// Config configures the SQLite-backed store. Path may be ":memory:" for
// tests.
type Config struct {
	Path string
}

// ApplyDefaults fills in an unset Path with the conventional on-disk
// location for a standalone Nexus server.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "nexus.db"
	}
}

// Open opens (creating if necessary) the SQLite database at cfg.Path,
// runs AutoMigrate for every model, migrates the legacy chat_state row
// into channel_settings("#nexus") if present, and seeds the built-in
// guest account and a single enabled admin if the users table is empty.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", cfg.Path, err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrateChatState(); err != nil {
		return nil, fmt.Errorf("store: migrate chat_state: %w", err)
	}

	if err := s.seedDefaults(); err != nil {
		return nil, fmt.Errorf("store: seed defaults: %w", err)
	}

	return s, nil
}

// migrateChatState folds the legacy single-row chat_state topic into
// channel_settings("#nexus") the first time Open runs against a database
// that still has it.
func (s *Store) migrateChatState() error {
	var legacy ChatState
	err := s.db.First(&legacy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing ChannelSettings
		err := tx.Where("name = ?", "#nexus").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&ChannelSettings{Name: "#nexus", Topic: legacy.Topic}).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}
		return tx.Delete(&legacy).Error
	})
}

// seedDefaults creates the built-in guest account and the seed admin
// account if the users table is empty, so a fresh install always
// satisfies the "at least one enabled admin" invariant and that admin
// can actually log in. The admin password comes from
// EnvAdminInitialPassword when set; otherwise a random one is generated
// and kept for InitialAdminPassword.
func (s *Store) seedDefaults() error {
	var count int64
	if err := s.db.Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password, generated, err := adminInitialPassword()
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&User{
			Username: GuestUsername,
			IsShared: true,
			Enabled:  true,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&User{
			Username:     AdminUsername,
			PasswordHash: string(hash),
			IsAdmin:      true,
			Enabled:      true,
		}).Error
	})
	if err != nil {
		return err
	}

	// Only surface a password the operator doesn't already know.
	if generated {
		s.initialAdminPassword = password
	}
	return nil
}

// adminInitialPassword reads the seed admin password from the
// environment, or generates 18 bytes of randomness as URL-safe base64.
func adminInitialPassword() (password string, generated bool, err error) {
	if pw := os.Getenv(EnvAdminInitialPassword); pw != "" {
		return pw, false, nil
	}
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", false, err
	}
	return base64.URLEncoding.EncodeToString(b), true, nil
}

// InitialAdminPassword returns the generated seed admin password when
// this Open call created the admin account, and "" otherwise. The server
// logs it once at startup so the first login is possible.
func (s *Store) InitialAdminPassword() string {
	return s.initialAdminPassword
}

// DB exposes the underlying *gorm.DB for code that needs its own typed
// queries against the same database file without this package growing a
// method for every one of its operations. internal/access and
// internal/transfer do not use it; they go through narrowed interfaces
// over *Store.
func (s *Store) DB() *gorm.DB {
	return s.db
}
