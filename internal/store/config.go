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

	"gorm.io/gorm"
)

// GetConfig reads a single runtime-mutable config value. Returns
// ErrNotFound if the key has never been set.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var entry ConfigEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// SetConfig upserts a runtime-mutable config value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Save(&ConfigEntry{Key: key, Value: value}).Error
}

// AllConfig returns every config row as a key/value map.
func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	var entries []ConfigEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}
