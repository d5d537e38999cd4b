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
	"time"

	"gorm.io/gorm"
)

// ErrNewsBodyOrImageRequired enforces the CHECK(body IS NOT NULL OR image
// IS NOT NULL) invariant at the application layer (see models.go doc
// comment on NewsItem).
var ErrNewsBodyOrImageRequired = errors.New("store: news item requires a body or an image")

// CreateNews inserts a news post authored by authorID. Either body or
// image (or both) must be non-empty.
func (s *Store) CreateNews(ctx context.Context, authorID uint, body, image *string) (*NewsItem, error) {
	if (body == nil || *body == "") && (image == nil || *image == "") {
		return nil, ErrNewsBodyOrImageRequired
	}
	item := &NewsItem{AuthorID: authorID, Body: body, Image: image}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// ListNews returns news items newest-first, limited to limit rows (0 means
// unlimited).
func (s *Store) ListNews(ctx context.Context, limit int) ([]NewsItem, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var items []NewsItem
	err := q.Find(&items).Error
	return items, err
}

// GetNews fetches a single news item by id.
func (s *Store) GetNews(ctx context.Context, id uint) (*NewsItem, error) {
	var item NewsItem
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateNews overwrites a news item's body/image. Callers (the session
// machine) are responsible for the author-or-admin authorization check
// and the "cannot edit admin-authored news" rule before
// calling this; this method only enforces the data-shape invariant.
func (s *Store) UpdateNews(ctx context.Context, id uint, body, image *string) error {
	if (body == nil || *body == "") && (image == nil || *image == "") {
		return ErrNewsBodyOrImageRequired
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item NewsItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		now := time.Now()
		item.Body = body
		item.Image = image
		item.UpdatedAt = &now
		return tx.Save(&item).Error
	})
}

// DeleteNews removes a news item by id.
func (s *Store) DeleteNews(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&NewsItem{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
