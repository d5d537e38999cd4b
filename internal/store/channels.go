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

// GetChannelSettings reads the durable settings row for a persistent
// channel. Ephemeral channels never appear here; the session machine
// keeps those in memory only.
func (s *Store) GetChannelSettings(ctx context.Context, name string) (*ChannelSettings, error) {
	var cs ChannelSettings
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// ListPersistentChannels returns the settings row for every persistent
// channel, ordered by name, used to rebuild channel state on startup.
func (s *Store) ListPersistentChannels(ctx context.Context) ([]ChannelSettings, error) {
	var rows []ChannelSettings
	err := s.db.WithContext(ctx).Order("name").Find(&rows).Error
	return rows, err
}

// CreatePersistentChannel inserts the durable settings row for a newly
// created persistent channel.
func (s *Store) CreatePersistentChannel(ctx context.Context, name string, secret bool) (*ChannelSettings, error) {
	cs := &ChannelSettings{Name: name, Secret: secret}
	if err := s.db.WithContext(ctx).Create(cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

// SetTopic updates a persistent channel's topic and who set it.
func (s *Store) SetTopic(ctx context.Context, name, topic, setBy string) error {
	res := s.db.WithContext(ctx).Model(&ChannelSettings{}).Where("name = ?", name).
		Updates(map[string]any{"topic": topic, "topic_set_by": setBy})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePersistentChannel removes a persistent channel's durable settings
// row. Removing persistence does not evict members; that is
// session-machine policy.
func (s *Store) DeletePersistentChannel(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&ChannelSettings{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
