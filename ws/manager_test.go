package ws

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/bulletchat/auth"
	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/dev/fakeroom"
)

var (
	alice = fakeroom.Member{
		UserId:       "u-alice",
		Username:     "alice",
		Capabilities: auth.Capabilities(false),
	}
	mod = fakeroom.Member{
		UserId:       "u-mod",
		Username:     "mod",
		Capabilities: auth.Capabilities(true),
	}
)

func setup(t *testing.T) (*fakeroom.Room, *Manager) {
	room := fakeroom.New()
	srv := httptest.NewServer(room.Handler())
	t.Cleanup(srv.Close)

	m := NewManager(&Config{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: 2 * time.Second,
	})
	t.Cleanup(m.Close)
	return room, m
}

func nextEvent(t *testing.T, m *Manager) *Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func noEvent(t *testing.T, m *Manager, d time.Duration) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event: %s %+v", ev.Kind, ev.Error)
	case <-time.After(d):
	}
}

func connect(t *testing.T, room *fakeroom.Room, m *Manager, member fakeroom.Member) {
	t.Helper()
	require.NoError(t, m.Connect(context.Background(), room.Issue(member)))
	assert.Equal(t, EventConnected, nextEvent(t, m).Kind)
	assert.Equal(t, Connected, m.State())
	require.Eventually(t, func() bool {
		return room.Online(member.UserId) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerReceive(t *testing.T) {
	// go test ./ws -run TestManagerReceive -args -v=5 -logtostderr
	flag.Parse()

	room, m := setup(t)
	connect(t, room, m, alice)

	env := room.Post(mod, "hello")
	ev := nextEvent(t, m)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, env.Id, ev.Message.Id)
	assert.Equal(t, "hello", ev.Message.Content)
	assert.Equal(t, "u-mod", ev.Message.SenderId)
	assert.Equal(t, "mod", ev.Message.SenderName)
}

func TestManagerSend(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	require.NoError(t, m.Send(context.Background(), chat.NewSendMessageReq("r1", "hi")))

	var req chat.SendMessageReq
	select {
	case data := <-room.Received():
		require.NoError(t, json.Unmarshal(data, &req))
	case <-time.After(3 * time.Second):
		t.Fatal("frame not received")
	}
	assert.Equal(t, chat.ActionSendMessage, req.Action)
	assert.Equal(t, "hi", req.Content)

	ev := nextEvent(t, m)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "r1", ev.Message.RequestId)
	assert.Equal(t, "u-alice", ev.Message.SenderId)
}

func TestManagerSendNotConnected(t *testing.T) {
	_, m := setup(t)

	err := m.Send(context.Background(), chat.NewSendMessageReq("", "hi"))
	var ne *chat.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, chat.SendFailed, ne.Kind)
	assert.True(t, errors.Is(err, ErrNotConnected))

	ev := nextEvent(t, m)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, chat.SendFailed, ev.Error.Kind)
}

func TestManagerConnectFailed(t *testing.T) {
	_, m := setup(t)

	assert.Error(t, m.Connect(context.Background(), "bogus"))
	ev := nextEvent(t, m)
	require.Equal(t, EventError, ev.Kind)
	assert.Equal(t, chat.ConnectionFailed, ev.Error.Kind)
	assert.Equal(t, Disconnected, m.State())
}

func TestManagerReconnect(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	require.NoError(t, m.Connect(context.Background(), room.Issue(alice)))
	assert.Equal(t, EventConnected, nextEvent(t, m).Kind)
	require.Eventually(t, func() bool {
		return room.Online(alice.UserId) == 1
	}, time.Second, 10*time.Millisecond)

	// the replaced socket is closed silently.
	noEvent(t, m, 200*time.Millisecond)

	room.Post(mod, "after")
	ev := nextEvent(t, m)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "after", ev.Message.Content)
}

func TestManagerPeerClose(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	room.CloseAll(1011, "boom")
	ev := nextEvent(t, m)
	require.Equal(t, EventError, ev.Kind)
	assert.Equal(t, chat.RawError, ev.Error.Kind)
	assert.Equal(t, 1011, ev.Error.Code)
	assert.Equal(t, "boom", ev.Error.Message)
	require.Eventually(t, func() bool {
		return m.State() == Disconnected
	}, time.Second, 10*time.Millisecond)
}

func TestManagerPeerRestartClose(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	room.CloseAll(chat.CloseCodeRestart, chat.CloseReasonRestart)
	require.Eventually(t, func() bool {
		return m.State() == Disconnected
	}, time.Second, 10*time.Millisecond)
	noEvent(t, m, 100*time.Millisecond)
}

func TestManagerKicked(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	room.Kick(alice.UserId)
	ev := nextEvent(t, m)
	require.Equal(t, EventError, ev.Kind)
	assert.Equal(t, chat.ErrorCodeDisconnectedByModerator, ev.Error.Code)
	assert.Equal(t, fakeroom.KickMessage, ev.Error.Message)
}

func TestManagerModeration(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, mod)

	require.NoError(t, m.Send(context.Background(), chat.NewDeleteMessageReq("", "m1")))
	ev := nextEvent(t, m)
	require.Equal(t, EventMessageDeleted, ev.Kind)
	assert.Equal(t, "m1", ev.Moderation.TargetMessageId)

	require.NoError(t, m.Send(context.Background(), chat.NewKickUserReq("", "u-other")))
	ev = nextEvent(t, m)
	require.Equal(t, EventUserKicked, ev.Kind)
	assert.Equal(t, "u-other", ev.Moderation.TargetUserId)
}

func TestManagerMissingCapability(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	require.NoError(t, m.Send(context.Background(), chat.NewDeleteMessageReq("", "m1")))
	ev := nextEvent(t, m)
	require.Equal(t, EventError, ev.Kind)
	assert.Equal(t, chat.RawError, ev.Error.Kind)
	assert.Equal(t, fakeroom.ErrorCodeUnauthorized, ev.Error.Code)
}

func TestManagerDropsForbidden(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	room.BroadcastRaw([]byte(`{"Type":"ERROR","ErrorCode":403,"ErrorMessage":"Forbidden"}`))
	room.Post(mod, "next")
	ev := nextEvent(t, m)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "next", ev.Message.Content)
}

func TestManagerClose(t *testing.T) {
	room, m := setup(t)
	connect(t, room, m, alice)

	m.Close()
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, ErrClosed, m.Connect(context.Background(), room.Issue(alice)))
	require.Eventually(t, func() bool {
		return room.Online(alice.UserId) == 0
	}, time.Second, 10*time.Millisecond)
}
