package nexus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/store"
)

// lastReply drains one rendered frame off the session's outbound queue
// and decodes it back into a Message.
func lastReply(t *testing.T, s *Session) *Message {
	t.Helper()
	select {
	case buf := <-s.writeQueue:
		raw := buf.Bytes()
		require.Greater(t, len(raw), 4, "frame must carry a length prefix and a body")
		var msg Message
		require.NoError(t, json.Unmarshal(raw[4:], &msg))
		RecycleBuffer(buf)
		return &msg
	default:
		t.Fatal("no reply was queued")
		return nil
	}
}

func handshakeMsg(version string) *Message {
	return &Message{
		Kind: KindHandshake,
		Fields: map[string]any{
			"version":  version,
			"features": []any{FeatureFileTransfers},
		},
	}
}

func TestHandshakeMajorMismatch(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv)
	s.setState(StateAwaitingHandshake)

	handleHandshake(&MessageContext{Session: s, Msg: handshakeMsg("1.9.0")})

	reply := lastReply(t, s)
	assert.Equal(t, KindError, reply.Kind)
	assert.Equal(t, ErrVersionMajorMismatch, reply.StringField("code"))
	assert.EqualValues(t, ProtocolMajor, reply.IntField("server_major"))
	assert.EqualValues(t, 1, reply.IntField("client_major"))
}

func TestHandshakeClientTooNew(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv)
	s.setState(StateAwaitingHandshake)

	handleHandshake(&MessageContext{Session: s, Msg: handshakeMsg("3.0.0")})

	reply := lastReply(t, s)
	assert.Equal(t, ErrVersionClientTooNew, reply.StringField("code"))
}

func TestHandshakeMinorMismatchTolerated(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv)
	s.setState(StateAwaitingHandshake)

	handleHandshake(&MessageContext{Session: s, Msg: handshakeMsg("2.0.0")})

	reply := lastReply(t, s)
	assert.Equal(t, KindOK, reply.Kind)
	assert.Equal(t, StateAwaitingLogin, s.State())
	assert.True(t, s.features.Has(FeatureFileTransfers))
}

func TestHandshakeOnlyOnce(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv)
	s.setState(StateAwaitingHandshake)

	handleHandshake(&MessageContext{Session: s, Msg: handshakeMsg("2.4.1")})
	_ = lastReply(t, s)

	handleHandshake(&MessageContext{Session: s, Msg: handshakeMsg("2.4.1")})
	reply := lastReply(t, s)
	assert.Equal(t, ErrHandshakeAlreadyCompleted, reply.StringField("code"))
}

func TestSharedLoginRequiresNickname(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv)

	handleLogin(&MessageContext{Session: s, Msg: loginMsg(store.GuestUsername, "", "")})

	reply := lastReply(t, s)
	assert.Equal(t, ErrNicknameRequired, reply.StringField("code"))
	assert.Equal(t, StateAwaitingLogin, s.State())
}

func TestLoginDisabledAccount(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreateUser(ctx, "mallory", "hunter2", false, false)
	require.NoError(t, err)
	require.NoError(t, srv.store.SetEnabled(ctx, "mallory", false))

	s := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: s, Msg: loginMsg("mallory", "hunter2", "")})

	reply := lastReply(t, s)
	assert.Equal(t, ErrAccountDisabled, reply.StringField("code"))
}

func TestLoginBadPassword(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreateUser(ctx, "alice", "hunter2", false, false)
	require.NoError(t, err)

	s := newTestSession(t, srv)
	handleLogin(&MessageContext{Session: s, Msg: loginMsg("alice", "wrong", "")})

	reply := lastReply(t, s)
	assert.Equal(t, ErrInvalidCredentials, reply.StringField("code"))
	assert.Equal(t, StateAwaitingLogin, s.State())
}
