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

// BeginUpload reserves (folder, filename) for sessionID, refusing if a
// live reservation (active or interrupted) already exists for that
// path. internal/transfer checks the filesystem separately for an
// already-committed file at the same path and maps that to
// ErrUploadFileExists before calling this.
func (s *Store) BeginUpload(ctx context.Context, folder, filename, sessionID string, expectedSize int64, expectedHash string) (*UploadReservation, error) {
	var res *UploadReservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UploadReservation
		err := tx.Where("folder = ? AND filename = ?", folder, filename).First(&existing).Error
		switch {
		case err == nil:
			return ErrUploadConflict
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		res = &UploadReservation{
			Folder:       folder,
			Filename:     filename,
			SessionID:    sessionID,
			ExpectedSize: expectedSize,
			ExpectedHash: expectedHash,
			State:        ReservationActive,
		}
		return tx.Create(res).Error
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetUploadReservation looks up a live reservation by folder and filename.
func (s *Store) GetUploadReservation(ctx context.Context, folder, filename string) (*UploadReservation, error) {
	var res UploadReservation
	err := s.db.WithContext(ctx).Where("folder = ? AND filename = ?", folder, filename).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateUploadProgress records how many bytes have been received so far,
// called as each chunk lands.
func (s *Store) UpdateUploadProgress(ctx context.Context, id uint, receivedBytes int64) error {
	res := s.db.WithContext(ctx).Model(&UploadReservation{}).Where("id = ?", id).Update("received_bytes", receivedBytes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUploadInterrupted flags a reservation as interrupted (e.g. the
// session disconnected mid-transfer) without releasing the (folder,
// filename) slot: until the row is removed, any later BeginUpload for the
// same path fails with ErrUploadConflict. There is no resume operation.
func (s *Store) MarkUploadInterrupted(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&UploadReservation{}).Where("id = ?", id).Update("state", ReservationInterrupted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteUpload deletes the reservation row once internal/transfer has
// verified the hash and renamed the file into its final location; the
// reservation's only job was to hold the slot until the bytes existed.
func (s *Store) CompleteUpload(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&UploadReservation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelUpload deletes a reservation outright, releasing the (folder,
// filename) slot for reuse.
func (s *Store) CancelUpload(ctx context.Context, id uint) error {
	return s.CompleteUpload(ctx, id)
}

// ListReservationsForSession returns every live reservation owned by a
// session, used to interrupt them all when that session disconnects.
func (s *Store) ListReservationsForSession(ctx context.Context, sessionID string) ([]UploadReservation, error) {
	var reservations []UploadReservation
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&reservations).Error
	return reservations, err
}
