package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	return s
}

func TestSeedDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	guest, err := s.GetUserByUsername(ctx, store.GuestUsername)
	require.NoError(t, err)
	assert.True(t, guest.IsShared)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	// The seed admin must be able to log in with the generated password.
	admin, err := s.GetUserByUsername(ctx, store.AdminUsername)
	require.NoError(t, err)
	assert.NotEmpty(t, admin.PasswordHash)

	password := s.InitialAdminPassword()
	require.NotEmpty(t, password)
	_, err = s.Authenticate(ctx, store.AdminUsername, password)
	assert.NoError(t, err)
}

func TestSeedAdminPasswordFromEnv(t *testing.T) {
	t.Setenv(store.EnvAdminInitialPassword, "swordfish")
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Authenticate(ctx, store.AdminUsername, "swordfish")
	assert.NoError(t, err)
	assert.Empty(t, s.InitialAdminPassword(), "an operator-chosen password is never re-surfaced")
}

func TestLastAdminInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SetAdmin(ctx, "root", false)
	assert.ErrorIs(t, err, store.ErrLastAdmin)

	err = s.SetEnabled(ctx, "root", false)
	assert.ErrorIs(t, err, store.ErrLastAdmin)

	_, err = s.CreateUser(ctx, "second", "hunter2", true, false)
	require.NoError(t, err)

	err = s.SetAdmin(ctx, "root", false)
	assert.NoError(t, err)
}

func TestGuestImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, store.GuestUsername, "x", false, false)
	assert.ErrorIs(t, err, store.ErrGuestImmutable)

	err = s.SetPassword(ctx, store.GuestUsername, "x")
	assert.ErrorIs(t, err, store.ErrGuestImmutable)

	err = s.Rename(ctx, store.GuestUsername, "somebody")
	assert.ErrorIs(t, err, store.ErrGuestImmutable)

	err = s.DeleteUser(ctx, store.GuestUsername)
	assert.ErrorIs(t, err, store.ErrGuestImmutable)

	err = s.SetAdmin(ctx, store.GuestUsername, true)
	assert.ErrorIs(t, err, store.ErrGuestImmutable)
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "alice", "correct-horse", false, false)
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "alice", "correct-horse")
	assert.NoError(t, err)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.Error(t, err)

	_, err = s.Authenticate(ctx, store.GuestUsername, "")
	assert.ErrorIs(t, err, store.ErrGuestImmutable)
}

func TestSharedAccountCannotBeAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kiosk, err := s.CreateUser(ctx, "kiosk", "", false, true)
	require.NoError(t, err)
	assert.True(t, kiosk.IsShared)
	assert.Empty(t, kiosk.PasswordHash)

	_, err = s.CreateUser(ctx, "kiosk-admin", "", true, true)
	assert.ErrorIs(t, err, store.ErrSharedAdmin)

	err = s.SetAdmin(ctx, "kiosk", true)
	assert.ErrorIs(t, err, store.ErrSharedAdmin)
}

func TestNewsRequiresBodyOrImage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateNews(ctx, 1, nil, nil)
	assert.ErrorIs(t, err, store.ErrNewsBodyOrImageRequired)

	body := "hello world"
	item, err := s.CreateNews(ctx, 1, &body, nil)
	require.NoError(t, err)

	err = s.DeleteNews(ctx, item.ID)
	assert.NoError(t, err)
}

func TestBanLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := s.CreateBan(ctx, "203.0.113.7", "", "", "spam", "root", &past)
	require.NoError(t, err)

	_, err = s.CreateBan(ctx, "", "", "troll", "abuse", "root", nil)
	require.NoError(t, err)

	active, err := s.ListActiveBans(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 1)

	n, err := s.PurgeExpiredBans(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUploadReservationConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.BeginUpload(ctx, "/uploads", "file.bin", "session-1", 1024, "deadbeef")
	require.NoError(t, err)

	_, err = s.BeginUpload(ctx, "/uploads", "file.bin", "session-2", 1024, "deadbeef")
	assert.ErrorIs(t, err, store.ErrUploadConflict)

	err = s.UpdateUploadProgress(ctx, res.ID, 512)
	require.NoError(t, err)

	err = s.CompleteUpload(ctx, res.ID)
	require.NoError(t, err)

	_, err = s.GetUploadReservation(ctx, "/uploads", "file.bin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersistentChannelTopicRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A fresh store has no legacy row, so no #nexus channel is created by
	// migration; CreatePersistentChannel still works directly.
	_, err := s.CreatePersistentChannel(ctx, "#nexus", false)
	require.NoError(t, err)

	err = s.SetTopic(ctx, "#nexus", "welcome", "root")
	require.NoError(t, err)

	cs, err := s.GetChannelSettings(ctx, "#nexus")
	require.NoError(t, err)
	assert.Equal(t, "welcome", cs.Topic)
}
