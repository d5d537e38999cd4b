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

// CreateTrust inserts a trust entry targeting exactly one of ipAddress,
// cidr, or nickname. expiresAt nil means permanent.
func (s *Store) CreateTrust(ctx context.Context, ipAddress, cidr, nickname, reason, createdBy string, expiresAt *time.Time) (*TrustEntry, error) {
	t := &TrustEntry{
		IPAddress: ipAddress,
		CIDR:      cidr,
		Nickname:  nickname,
		Reason:    reason,
		CreatedBy: createdBy,
		ExpiresAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// ListActiveTrust returns every trust entry whose expiry is nil or in the
// future, relative to now.
func (s *Store) ListActiveTrust(ctx context.Context, now time.Time) ([]TrustEntry, error) {
	var entries []TrustEntry
	err := s.db.WithContext(ctx).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}

// ListAllTrust returns every trust entry, including expired ones.
func (s *Store) ListAllTrust(ctx context.Context) ([]TrustEntry, error) {
	var entries []TrustEntry
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error
	return entries, err
}

// DeleteTrust removes a trust entry by id.
func (s *Store) DeleteTrust(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&TrustEntry{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredTrust deletes every trust entry whose expiry has passed.
func (s *Store) PurgeExpiredTrust(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&TrustEntry{})
	return res.RowsAffected, res.Error
}
