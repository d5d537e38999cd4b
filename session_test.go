package nexus

import (
	"context"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/access"
	"github.com/nexuschat/nexus/internal/config"
	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)

	cfg := &config.Config{
		MaxTransfersPerIP: 2,
	}
	bus := events.NewBus(nil)

	return &Server{
		config:   cfg,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		store:    st,
		access:   access.NewChecker(st, nil),
		bus:      bus,
		presence: NewSessionRegistry(),
		channels: NewChannelRegistry(st, bus, MaxJoinedChannels, 64),
	}
}

func newTestSession(t *testing.T, srv *Server) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	s := NewSession(srv, server, NewMessagePool(4))
	s.remoteIP = "203.0.113.5"
	s.log = srv.log.WithField("session", s.id)
	s.setState(StateAwaitingLogin)
	return s
}

func loginMsg(username, password, nickname string) *Message {
	return &Message{
		Kind: KindLogin,
		Fields: map[string]any{
			"username": username,
			"password": password,
			"nickname": nickname,
		},
	}
}

// TestSecondLoginRejected exercises the two-login ambiguity decision
// from DESIGN.md: a non-shared user's second concurrent login attempt is
// rejected with err-user-already-online rather than displacing the
// first session.
func TestSecondLoginRejected(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreateUser(ctx, "alice", "hunter2", false, false)
	require.NoError(t, err)

	first := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: first, Msg: loginMsg("alice", "hunter2", "")})
	assert.Equal(t, StateActive, first.State())

	second := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: second, Msg: loginMsg("alice", "hunter2", "")})

	assert.Equal(t, StateAwaitingLogin, second.State(),
		"a rejected second login must not advance the session's state")

	sess, ok := srv.presence.ByUserID(first.UserID())
	require.True(t, ok)
	assert.Same(t, first, sess, "the first session must remain the registered one")
}

// TestAutoJoinOnLogin ensures configured channels are joined at login
// and that invalid names in the list are skipped without failing the
// login itself.
func TestAutoJoinOnLogin(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreatePersistentChannel(ctx, "#nexus", false)
	require.NoError(t, err)
	require.NoError(t, srv.channels.LoadPersistent(ctx))
	srv.config.AutoJoinChannels = []string{"#nexus", "bad name"}

	s := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: s, Msg: loginMsg(store.GuestUsername, "", "Alice")})

	require.Equal(t, StateActive, s.State())
	assert.True(t, s.isJoined("#nexus"))
	assert.False(t, s.isJoined("bad name"))
}

// TestSharedAccountAllowsConcurrentLogins ensures the two-login
// rejection only applies to non-shared accounts: guest (shared) may be
// logged into from multiple sessions at once, each with its own
// nickname.
func TestSharedAccountAllowsConcurrentLogins(t *testing.T) {
	srv := newTestServer(t)

	first := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: first, Msg: loginMsg(store.GuestUsername, "", "Alice")})
	assert.Equal(t, StateActive, first.State())

	second := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: second, Msg: loginMsg(store.GuestUsername, "", "Bob")})
	assert.Equal(t, StateActive, second.State())
}
