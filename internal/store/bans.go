/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package store

import (
	"context"
	"time"
)

// CreateBan inserts a ban entry targeting exactly one of ipAddress, cidr,
// or nickname. expiresAt nil means permanent.
func (s *Store) CreateBan(ctx context.Context, ipAddress, cidr, nickname, reason, createdBy string, expiresAt *time.Time) (*IPBan, error) {
	ban := &IPBan{
		IPAddress: ipAddress,
		CIDR:      cidr,
		Nickname:  nickname,
		Reason:    reason,
		CreatedBy: createdBy,
		ExpiresAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(ban).Error; err != nil {
		return nil, err
	}
	return ban, nil
}

// ListActiveBans returns every ban whose expiry is either nil (permanent)
// or in the future, relative to now. internal/access purges expired rows
// before calling this; the filter here covers callers (e.g. an admin
// "list bans" command) that read without purging first.
func (s *Store) ListActiveBans(ctx context.Context, now time.Time) ([]IPBan, error) {
	var bans []IPBan
	err := s.db.WithContext(ctx).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		Find(&bans).Error
	return bans, err
}

// ListAllBans returns every ban entry, including expired ones, for admin
// audit views.
func (s *Store) ListAllBans(ctx context.Context) ([]IPBan, error) {
	var bans []IPBan
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&bans).Error
	return bans, err
}

// DeleteBan removes a ban entry by id.
func (s *Store) DeleteBan(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&IPBan{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredBans deletes every ban whose expiry has passed, relative
// to now. internal/access calls this lazily before each evaluation.
func (s *Store) PurgeExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&IPBan{})
	return res.RowsAffected, res.Error
}
