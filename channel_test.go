package nexus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActiveSession(t *testing.T, srv *Server, nickname string, perms []Permission) *Session {
	t.Helper()
	s := newTestSession(t, srv)
	s.nickname = nickname
	s.permissions = NewPermissionSet(perms)
	s.setState(StateActive)
	return s
}

func TestJoinCreatesEphemeralChannel(t *testing.T) {
	srv := newTestServer(t)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})

	require.NoError(t, srv.channels.Join(s, "#side"))

	ch, ok := srv.channels.Get("#side")
	require.True(t, ok)
	assert.False(t, ch.Persistent())
	assert.True(t, s.isJoined("#side"))
}

func TestJoinWithoutCreatePermission(t *testing.T) {
	srv := newTestServer(t)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive})

	err := srv.channels.Join(s, "#side")
	require.Error(t, err)
	assert.Equal(t, ErrPermissionDeniedChatCreate, err.(*Error).Code)
	_, ok := srv.channels.Get("#side")
	assert.False(t, ok)
}

func TestJoinTwiceFails(t *testing.T) {
	srv := newTestServer(t)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})

	require.NoError(t, srv.channels.Join(s, "#side"))
	err := srv.channels.Join(s, "#Side")
	require.Error(t, err)
	assert.Equal(t, ErrChannelAlreadyMember, err.(*Error).Code)
}

func TestChannelNameIsCaseInsensitive(t *testing.T) {
	srv := newTestServer(t)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})

	require.NoError(t, srv.channels.Join(s, "#Lobby"))

	ch, ok := srv.channels.Get("#lobby")
	require.True(t, ok)
	assert.Equal(t, "#Lobby", ch.Name(), "display casing of the creator is preserved")

	other := newActiveSession(t, srv, "Bob", []Permission{PermChatReceive})
	require.NoError(t, srv.channels.Join(other, "#LOBBY"))
	assert.Equal(t, 2, ch.MemberCount())
}

func TestLeaveNotMemberFailsWithoutMutation(t *testing.T) {
	srv := newTestServer(t)
	member := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})
	outsider := newActiveSession(t, srv, "Bob", []Permission{PermChatReceive})

	require.NoError(t, srv.channels.Join(member, "#side"))

	err := srv.channels.Leave(outsider, "#side")
	require.Error(t, err)
	assert.Equal(t, ErrChannelNotFound, err.(*Error).Code)

	ch, ok := srv.channels.Get("#side")
	require.True(t, ok, "the channel must survive a failed leave")
	assert.Equal(t, 1, ch.MemberCount())

	err = srv.channels.Leave(outsider, "#nowhere")
	require.Error(t, err)
	assert.Equal(t, ErrChannelNotFound, err.(*Error).Code)
}

func TestEphemeralChannelDestroyedOnLastLeave(t *testing.T) {
	srv := newTestServer(t)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})

	require.NoError(t, srv.channels.Join(s, "#fleeting"))
	require.NoError(t, srv.channels.Leave(s, "#fleeting"))

	_, ok := srv.channels.Get("#fleeting")
	assert.False(t, ok)
	assert.False(t, s.isJoined("#fleeting"))
}

func TestPersistentChannelSurvivesLastLeave(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreatePersistentChannel(ctx, "#nexus", false)
	require.NoError(t, err)
	require.NoError(t, srv.channels.LoadPersistent(ctx))

	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive})
	require.NoError(t, srv.channels.Join(s, "#nexus"))
	require.NoError(t, srv.channels.Leave(s, "#nexus"))

	_, ok := srv.channels.Get("#nexus")
	assert.True(t, ok)
}

func TestChannelLimit(t *testing.T) {
	srv := newTestServer(t)
	srv.channels = NewChannelRegistry(srv.store, srv.bus, 2, DefaultChannelNameMaxLength)
	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatCreate})

	require.NoError(t, srv.channels.Join(s, "#one"))
	require.NoError(t, srv.channels.Join(s, "#two"))

	err := srv.channels.Join(s, "#three")
	require.Error(t, err)
	assert.Equal(t, ErrChannelLimitExceeded, err.(*Error).Code)
}

func TestSetTopicPersistsForPersistentChannels(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.CreatePersistentChannel(ctx, "#nexus", false)
	require.NoError(t, err)
	require.NoError(t, srv.channels.LoadPersistent(ctx))

	s := newActiveSession(t, srv, "Alice", []Permission{PermChatReceive, PermChatTopicEdit})
	require.NoError(t, srv.channels.Join(s, "#nexus"))
	require.NoError(t, srv.channels.SetTopic(ctx, s, "#nexus", "welcome"))

	ch, _ := srv.channels.Get("#nexus")
	topic, setBy := ch.Topic()
	assert.Equal(t, "welcome", topic)
	assert.Equal(t, "Alice", setBy)

	row, err := srv.store.GetChannelSettings(ctx, "#nexus")
	require.NoError(t, err)
	assert.Equal(t, "welcome", row.Topic)
	assert.Equal(t, "Alice", row.TopicSetBy)
}
