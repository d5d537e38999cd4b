package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/access"
	"github.com/nexuschat/nexus/internal/store"
)

type fakeStore struct {
	bans   []store.IPBan
	trusts []store.TrustEntry
}

func (f *fakeStore) PurgeExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	var kept []store.IPBan
	var purged int64
	for _, b := range f.bans {
		if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
			purged++
			continue
		}
		kept = append(kept, b)
	}
	f.bans = kept
	return purged, nil
}

func (f *fakeStore) ListActiveBans(ctx context.Context, now time.Time) ([]store.IPBan, error) {
	return f.bans, nil
}

func (f *fakeStore) ListActiveTrust(ctx context.Context, now time.Time) ([]store.TrustEntry, error) {
	return f.trusts, nil
}

func TestCheckConnectCIDRBan(t *testing.T) {
	fs := &fakeStore{bans: []store.IPBan{{CIDR: "203.0.113.0/24", Reason: "spam"}}}
	c := access.NewChecker(fs, nil)

	d, err := c.CheckConnect(context.Background(), "203.0.113.42")
	require.NoError(t, err)
	assert.True(t, d.Banned)
	assert.Equal(t, "spam", d.Reason)

	d, err = c.CheckConnect(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, d.Banned)
}

func TestCheckLoginNicknameBan(t *testing.T) {
	fs := &fakeStore{bans: []store.IPBan{{Nickname: "troll", Reason: "abuse"}}}
	c := access.NewChecker(fs, nil)

	d, err := c.CheckLogin(context.Background(), "198.51.100.1", "troll")
	require.NoError(t, err)
	assert.True(t, d.Banned)

	d, err = c.CheckLogin(context.Background(), "198.51.100.1", "someone-else")
	require.NoError(t, err)
	assert.False(t, d.Banned)
}

func TestCheckConnectTrustDoesNotOverrideBan(t *testing.T) {
	fs := &fakeStore{
		bans:   []store.IPBan{{IPAddress: "198.51.100.1", Reason: "spam"}},
		trusts: []store.TrustEntry{{IPAddress: "198.51.100.1", Reason: "vip"}},
	}
	c := access.NewChecker(fs, nil)

	d, err := c.CheckConnect(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, d.Banned)
}

func TestCheckConnectTrustGrant(t *testing.T) {
	fs := &fakeStore{trusts: []store.TrustEntry{{IPAddress: "198.51.100.1", Reason: "vip"}}}
	c := access.NewChecker(fs, nil)

	d, err := c.CheckConnect(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, d.Trusted)
}
