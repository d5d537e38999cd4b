/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package store

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CreateUser creates a new account with the given password, bcrypt-hashed.
// Returns ErrGuestImmutable if username collides with the reserved guest
// account name. Shared accounts carry no password and can never be admin.
func (s *Store) CreateUser(ctx context.Context, username, password string, isAdmin, isShared bool) (*User, error) {
	if strings.EqualFold(username, GuestUsername) {
		return nil, ErrGuestImmutable
	}
	if isShared && isAdmin {
		return nil, ErrSharedAdmin
	}

	u := &User{
		Username: username,
		IsAdmin:  isAdmin,
		IsShared: isShared,
		Enabled:  true,
	}
	if !isShared && password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = string(hash)
	}

	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername looks up an account by username (case-sensitive,
// usernames are stored as typed). Returns ErrNotFound if absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every account, ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

// Authenticate verifies a username/password pair against the stored
// bcrypt hash. Returns ErrNotFound if no such account, or
// bcrypt.ErrMismatchedHashAndPassword if the password is wrong. The
// shared guest account has no password and never authenticates this way.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.IsShared {
		return nil, ErrGuestImmutable
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return u, nil
}

// countEnabledAdmins returns the number of enabled admin accounts visible
// to tx, used by the last-admin invariant checks below.
func countEnabledAdmins(tx *gorm.DB, excludeID uint) (int64, error) {
	var count int64
	q := tx.Model(&User{}).Where("is_admin = ? AND enabled = ?", true, true)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count, err
}

// SetPassword changes an account's password. Refuses to touch the guest
// account.
func (s *Store) SetPassword(ctx context.Context, username, newPassword string) error {
	if strings.EqualFold(username, GuestUsername) {
		return ErrGuestImmutable
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).Where("username = ?", username).Update("password_hash", string(hash))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Rename changes an account's username. Refuses to touch the guest
// account.
func (s *Store) Rename(ctx context.Context, oldUsername, newUsername string) error {
	if strings.EqualFold(oldUsername, GuestUsername) {
		return ErrGuestImmutable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).Where("username = ?", oldUsername).Update("username", newUsername)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetEnabled toggles an account's enabled flag, refusing any change
// that would leave zero enabled admins. Disabling the guest account is
// allowed; only identity-changing operations are blocked for it.
func (s *Store) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("username = ?", username).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !enabled && u.IsAdmin && u.Enabled {
			n, err := countEnabledAdmins(tx, u.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrLastAdmin
			}
		}

		return tx.Model(&u).Update("enabled", enabled).Error
	})
}

// SetAdmin promotes or demotes an account, refusing a demotion that would
// leave zero enabled admins. Promoting/demoting the guest account is
// refused outright.
func (s *Store) SetAdmin(ctx context.Context, username string, isAdmin bool) error {
	if strings.EqualFold(username, GuestUsername) {
		return ErrGuestImmutable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("username = ?", username).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if u.IsShared && isAdmin {
			return ErrSharedAdmin
		}

		if !isAdmin && u.IsAdmin && u.Enabled {
			n, err := countEnabledAdmins(tx, u.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrLastAdmin
			}
		}

		return tx.Model(&u).Update("is_admin", isAdmin).Error
	})
}

// SetPermissions overwrites an account's custom permission override
// string (space-separated Permission names; empty means "use defaults").
func (s *Store) SetPermissions(ctx context.Context, username, permissions string) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Update("permissions", permissions)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAvatar overwrites an account's avatar data URI.
func (s *Store) SetAvatar(ctx context.Context, username, avatar string) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Update("avatar", avatar)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes an account, refusing to delete the guest account or
// the last enabled admin.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	if strings.EqualFold(username, GuestUsername) {
		return ErrGuestImmutable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("username = ?", username).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if u.IsAdmin && u.Enabled {
			n, err := countEnabledAdmins(tx, u.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrLastAdmin
			}
		}

		return tx.Delete(&u).Error
	})
}
