package transfer_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/transfer"
)

type fakeReservations struct {
	reservations map[uint]*store.UploadReservation
	nextID       uint
}

func newFakeReservations() *fakeReservations {
	return &fakeReservations{reservations: make(map[uint]*store.UploadReservation)}
}

func (f *fakeReservations) BeginUpload(ctx context.Context, folder, filename, sessionID string, expectedSize int64, expectedHash string) (*store.UploadReservation, error) {
	for _, r := range f.reservations {
		if r.Folder == folder && r.Filename == filename {
			return nil, store.ErrUploadConflict
		}
	}
	f.nextID++
	res := &store.UploadReservation{
		ID: f.nextID, Folder: folder, Filename: filename, SessionID: sessionID,
		ExpectedSize: expectedSize, ExpectedHash: expectedHash, State: store.ReservationActive,
	}
	f.reservations[res.ID] = res
	return res, nil
}

func (f *fakeReservations) GetUploadReservation(ctx context.Context, folder, filename string) (*store.UploadReservation, error) {
	for _, r := range f.reservations {
		if r.Folder == folder && r.Filename == filename {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeReservations) UpdateUploadProgress(ctx context.Context, id uint, receivedBytes int64) error {
	r, ok := f.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	r.ReceivedBytes = receivedBytes
	return nil
}

func (f *fakeReservations) MarkUploadInterrupted(ctx context.Context, id uint) error {
	r, ok := f.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	r.State = store.ReservationInterrupted
	return nil
}

func (f *fakeReservations) CompleteUpload(ctx context.Context, id uint) error {
	if _, ok := f.reservations[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.reservations, id)
	return nil
}

func (f *fakeReservations) CancelUpload(ctx context.Context, id uint) error {
	return f.CompleteUpload(ctx, id)
}

func (f *fakeReservations) ListReservationsForSession(ctx context.Context, sessionID string) ([]store.UploadReservation, error) {
	var out []store.UploadReservation
	for _, r := range f.reservations {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestAdmitEnforcesPerIPLimit(t *testing.T) {
	area := transfer.NewArea(t.TempDir(), newFakeReservations(), 2)

	release1, err := area.Admit("198.51.100.1")
	require.NoError(t, err)
	_, err = area.Admit("198.51.100.1")
	require.NoError(t, err)

	_, err = area.Admit("198.51.100.1")
	assert.ErrorIs(t, err, transfer.ErrLimitExceeded)

	release1()
	_, err = area.Admit("198.51.100.1")
	assert.NoError(t, err)
}

func TestUploadFlowVerifiesHash(t *testing.T) {
	root := t.TempDir()
	fr := newFakeReservations()
	area := transfer.NewArea(root, fr, 0)

	content := []byte("hello nexus file area")
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	ctx := context.Background()
	res, err := area.BeginUpload(ctx, "docs", "greeting.txt", "session-1", int64(len(content)), hash)
	require.NoError(t, err)

	require.NoError(t, area.WriteChunk(ctx, res, content[:10]))
	res.ReceivedBytes = 10
	require.NoError(t, area.WriteChunk(ctx, res, content[10:]))
	res.ReceivedBytes = int64(len(content))

	require.NoError(t, area.Commit(ctx, res))

	final := filepath.Join(root, "docs", "greeting.txt")
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestCommitRejectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	area := transfer.NewArea(root, newFakeReservations(), 0)

	ctx := context.Background()
	res, err := area.BeginUpload(ctx, "docs", "bad.txt", "session-1", 5, "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)

	require.NoError(t, area.WriteChunk(ctx, res, []byte("hello")))
	res.ReceivedBytes = 5

	err = area.Commit(ctx, res)
	assert.ErrorIs(t, err, transfer.ErrHashMismatch)

	// A rejected commit must discard the temp file and free the
	// (folder, filename) slot so the client can try again.
	_, statErr := os.Stat(filepath.Join(root, "docs", "bad.txt.part"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = area.BeginUpload(ctx, "docs", "bad.txt", "session-1", 5, "0000000000000000000000000000000000000000000000000000000000000000")
	assert.NoError(t, err)
}

func TestBeginUploadRejectsPathEscape(t *testing.T) {
	area := transfer.NewArea(t.TempDir(), newFakeReservations(), 0)
	_, err := area.BeginUpload(context.Background(), "../../etc", "passwd", "session-1", 1, "x")
	assert.ErrorIs(t, err, transfer.ErrPathOutsideRoot)
}

func TestBeginUploadRejectsExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "existing.txt"), []byte("x"), 0o644))

	area := transfer.NewArea(root, newFakeReservations(), 0)
	_, err := area.BeginUpload(context.Background(), "docs", "existing.txt", "session-1", 1, "x")
	assert.ErrorIs(t, err, store.ErrUploadFileExists)
}
