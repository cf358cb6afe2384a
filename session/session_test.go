package session

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/bulletchat/auth"
	auth_mock "github.com/mqy/bulletchat/auth/mock"
	"github.com/mqy/bulletchat/bullet"
	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/moderation"
	"github.com/mqy/bulletchat/settings"
	"github.com/mqy/bulletchat/store"
	"github.com/mqy/bulletchat/ws"
	ws_mock "github.com/mqy/bulletchat/ws/mock"
)

const (
	selfId = "u-self"
	wait   = 2 * time.Second
	tick   = 10 * time.Millisecond
)

type sent struct {
	frame interface{}
	at    time.Time
}

type fixture struct {
	auth   *auth_mock.MockClient
	conn   *ws_mock.MockIConnection
	events chan *ws.Event
	bullet *bullet.Scheduler
	s      *Session

	mu   sync.Mutex
	sent []sent
}

func newFixture(t *testing.T, conf *Config) *fixture {
	return newFixtureWithStore(t, conf, store.NewMessageStore(chat.HistorySize, chat.MessageTTL))
}

func newFixtureWithStore(t *testing.T, conf *Config, messages store.IMessageStore) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		auth:   auth_mock.NewMockClient(ctrl),
		conn:   ws_mock.NewMockIConnection(ctrl),
		events: make(chan *ws.Event, 16),
		bullet: bullet.NewScheduler(true, rand.NewSource(1)),
	}
	f.bullet.InitRows(3)

	f.conn.EXPECT().Events().Return((<-chan *ws.Event)(f.events)).AnyTimes()
	f.conn.EXPECT().Close().AnyTimes()
	f.conn.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, frame interface{}) error {
			f.mu.Lock()
			f.sent = append(f.sent, sent{frame: frame, at: time.Now()})
			f.mu.Unlock()
			return nil
		}).AnyTimes()

	if conf.UserId == "" {
		conf.UserId = selfId
	}
	f.s = New(conf, f.auth, f.conn, messages, f.bullet, nil)
	f.s.Start()
	t.Cleanup(f.s.Close)
	return f
}

func (f *fixture) frames() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

// login sets the identity, expecting one auth and connect.
func (f *fixture) login(t *testing.T) {
	connected := make(chan struct{})
	f.auth.EXPECT().Auth(gomock.Any(), gomock.Any()).Return(&chat.AuthToken{Value: "tok"}, nil)
	f.conn.EXPECT().Connect(gomock.Any(), "tok").DoAndReturn(func(context.Context, string) error {
		close(connected)
		return nil
	})
	f.s.RefreshIdentity("self", "a.png")
	select {
	case <-connected:
	case <-time.After(wait):
		t.Fatal("not connected")
	}
}

func (f *fixture) receive(t *testing.T, msgs ...*chat.ChatMessage) {
	n := len(f.s.Snapshot())
	for _, m := range msgs {
		f.events <- &ws.Event{Kind: ws.EventMessage, Message: m}
	}
	require.Eventually(t, func() bool {
		return len(f.s.Snapshot()) == n+len(msgs)
	}, wait, tick)
}

func msg(id, sender string) *chat.ChatMessage {
	return &chat.ChatMessage{
		Id:        id,
		Type:      chat.TypeMessage,
		Content:   "content " + id,
		SenderId:  sender,
		CreatedAt: time.Now(),
	}
}

func ids(msgs []chat.ChatMessage) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func kicked(uid string) *ws.Event {
	return &ws.Event{Kind: ws.EventUserKicked, Moderation: &moderation.Event{Kind: moderation.UserKicked, TargetUserId: uid}}
}

func netError(code int, text string) *ws.Event {
	return &ws.Event{Kind: ws.EventError, Error: chat.NewRawError(code, text)}
}

func expectOnce[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	var v T
	select {
	case v = <-c:
	case <-time.After(wait):
		t.Fatal("timeout")
	}
	select {
	case extra := <-c:
		t.Fatalf("unexpected second value: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
	return v
}

func TestLocalKick(t *testing.T) {
	f := newFixture(t, &Config{})
	kickedC := f.s.LocalKicked()
	f.login(t)
	f.receive(t, msg("a", "u1"), msg("b", selfId))

	f.events <- kicked(selfId)
	// the moderator close follows the kick event.
	f.events <- netError(chat.ErrorCodeDisconnectedByModerator, "disconnected by moderator")

	expectOnce(t, kickedC.C)
	assert.Empty(t, f.s.Snapshot())
	assert.Nil(t, f.s.Identity())
}

func TestRemoteKick(t *testing.T) {
	f := newFixture(t, &Config{})
	remote := f.s.RemoteKicked()
	local := f.s.LocalKicked()
	f.receive(t, msg("A", "u1"), msg("B", "u2"), msg("C", "u1"))

	f.events <- kicked("u1")

	assert.Equal(t, "u1", expectOnce(t, remote.C))
	assert.Equal(t, []string{"B"}, ids(f.s.Snapshot()))
	assert.Len(t, local.C, 0)
}

func TestKickUserDeletesPaced(t *testing.T) {
	f := newFixture(t, &Config{Moderator: true})
	notices := f.s.Notices()
	f.receive(t, msg("A", "u1"), msg("B", "u2"), msg("C", "u1"))

	f.s.KickUser("u1")
	assert.Equal(t, []string{"B"}, ids(f.s.Snapshot()))

	require.Eventually(t, func() bool {
		return len(f.frames()) == 3
	}, wait, tick)

	frames := f.frames()
	kick, ok := frames[0].frame.(*chat.KickUserReq)
	require.True(t, ok)
	assert.Equal(t, "u1", kick.UserId)

	var deleted []string
	for _, s := range frames[1:] {
		req, ok := s.frame.(*chat.DeleteMessageReq)
		require.True(t, ok)
		deleted = append(deleted, req.Id)
	}
	assert.Equal(t, []string{"A", "C"}, deleted)
	assert.GreaterOrEqual(t, frames[2].at.Sub(frames[1].at), 290*time.Millisecond)

	f.events <- kicked("u1")
	n := expectOnce(t, notices.C)
	assert.Equal(t, &Notice{Kind: NoticeUserKicked, Target: "u1"}, n)
}

// lateStore appends a message right before the next RemoveAll, as if it
// arrived while a kick was in progress.
type lateStore struct {
	store.IMessageStore
	late *chat.ChatMessage
}

func (l *lateStore) RemoveAll(match func(*chat.ChatMessage) bool) int {
	if l.late != nil {
		l.IMessageStore.Append(l.late)
		l.late = nil
	}
	return l.IMessageStore.RemoveAll(match)
}

func TestKickUserDeletesLateMessage(t *testing.T) {
	messages := &lateStore{IMessageStore: store.NewMessageStore(chat.HistorySize, chat.MessageTTL)}
	f := newFixtureWithStore(t, &Config{Moderator: true}, messages)
	f.receive(t, msg("A", "u1"), msg("B", "u2"))

	messages.late = msg("L", "u1")
	f.s.KickUser("u1")
	assert.Equal(t, []string{"B"}, ids(f.s.Snapshot()))

	require.Eventually(t, func() bool {
		return len(f.frames()) == 3
	}, wait, tick)

	var deleted []string
	for _, s := range f.frames()[1:] {
		deleted = append(deleted, s.frame.(*chat.DeleteMessageReq).Id)
	}
	assert.Equal(t, []string{"A", "L"}, deleted)
}

func TestKickUserNotModerator(t *testing.T) {
	f := newFixture(t, &Config{})
	f.receive(t, msg("A", "u1"))

	f.s.KickUser("u1")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.frames())
	assert.Equal(t, []string{"A"}, ids(f.s.Snapshot()))

	f.s.SetModerator(true)
	assert.True(t, f.s.IsModerator())
	f.s.KickUser("u1")
	assert.Empty(t, f.s.Snapshot())
}

func TestErrorDisconnectedByModerator(t *testing.T) {
	f := newFixture(t, &Config{})
	kickedC := f.s.LocalKicked()
	f.login(t)
	f.receive(t, msg("a", "u1"))

	f.events <- netError(chat.ErrorCodeDisconnectedByModerator, "disconnected by moderator")

	expectOnce(t, kickedC.C)
	for _, m := range f.s.Snapshot() {
		assert.NotEqual(t, chat.TypeSystemRed, m.Type)
	}
	assert.Empty(t, f.s.Snapshot())
}

func TestErrorNotice(t *testing.T) {
	f := newFixture(t, &Config{})
	f.login(t)

	f.events <- netError(406, "too fast")
	require.Eventually(t, func() bool {
		return len(f.s.Snapshot()) == 1
	}, wait, tick)

	m := f.s.Snapshot()[0]
	assert.Equal(t, chat.TypeSystemRed, m.Type)
	assert.Equal(t, "406", m.SenderId)
	assert.Equal(t, "too fast", m.Content)

	f.events <- &ws.Event{Kind: ws.EventError, Error: chat.NewSendFailed(nil, ws.ErrNotConnected)}
	require.Eventually(t, func() bool {
		return len(f.s.Snapshot()) == 2
	}, wait, tick)
	assert.Equal(t, "", f.s.Snapshot()[1].SenderId)
}

func TestErrorWithoutIdentity(t *testing.T) {
	f := newFixture(t, &Config{})
	f.events <- netError(500, "boom")
	f.events <- &ws.Event{Kind: ws.EventConnected}
	f.receive(t, msg("a", "u1"))

	assert.Equal(t, []string{"a"}, ids(f.s.Snapshot()))
}

func TestConnectedNotice(t *testing.T) {
	f := newFixture(t, &Config{})
	f.login(t)

	f.events <- &ws.Event{Kind: ws.EventConnected}
	require.Eventually(t, func() bool {
		return len(f.s.Snapshot()) == 1
	}, wait, tick)
	assert.Equal(t, chat.TypeSystemGreen, f.s.Snapshot()[0].Type)
}

func TestMessageDeduplicated(t *testing.T) {
	f := newFixture(t, &Config{})
	incoming := f.s.Incoming()

	f.receive(t, msg("a", "u1"))
	f.events <- &ws.Event{Kind: ws.EventMessage, Message: msg("a", "u1")}
	f.receive(t, msg("b", "u2"))

	assert.Equal(t, []string{"a", "b"}, ids(f.s.Snapshot()))

	first := <-incoming.C
	second := <-incoming.C
	assert.Equal(t, "a", first.Message.Id)
	assert.Equal(t, "b", second.Message.Id)
	require.NotNil(t, first.Row)
	require.NotNil(t, second.Row)
	assert.NotEqual(t, *first.Row, *second.Row)
	assert.Len(t, incoming.C, 0)
}

func TestIncomingWithoutBullet(t *testing.T) {
	f := newFixture(t, &Config{})
	incoming := f.s.Incoming()
	f.s.SetBulletMode(false)

	f.receive(t, msg("a", "u1"))
	in := <-incoming.C
	assert.Nil(t, in.Row)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, &Config{Moderator: true})
	notices := f.s.Notices()
	f.receive(t, msg("a", "u1"), msg("b", "u1"))

	f.s.DeleteMessage("a")
	require.Eventually(t, func() bool {
		return len(f.frames()) == 1
	}, wait, tick)
	req := f.frames()[0].frame.(*chat.DeleteMessageReq)
	assert.Equal(t, "a", req.Id)
	assert.Equal(t, chat.DefaultDeleteReason, req.Reason)

	// a delete by another moderator has no notice.
	f.events <- &ws.Event{Kind: ws.EventMessageDeleted, Moderation: &moderation.Event{Kind: moderation.MessageDeleted, TargetMessageId: "b"}}
	f.events <- &ws.Event{Kind: ws.EventMessageDeleted, Moderation: &moderation.Event{Kind: moderation.MessageDeleted, TargetMessageId: "a"}}

	assert.Equal(t, &Notice{Kind: NoticeMessageDeleted, Target: "a"}, expectOnce(t, notices.C))
	assert.Empty(t, f.s.Snapshot())
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, &Config{})

	f.s.SendMessage("   ")
	f.s.SendMessage(" hi ")
	f.s.SendSticker(chat.Stickers[2])
	require.Eventually(t, func() bool {
		return len(f.frames()) == 2
	}, wait, tick)

	var texts, stickers int
	for _, s := range f.frames() {
		req := s.frame.(*chat.SendMessageReq)
		assert.NotEmpty(t, req.RequestId)
		switch req.Attributes.MessageType {
		case chat.MessageTypeMessage:
			texts++
			assert.Equal(t, "hi", req.Content)
		case chat.MessageTypeSticker:
			stickers++
			assert.Equal(t, chat.Stickers[2].Src, req.Attributes.StickerSrc)
		}
	}
	assert.Equal(t, 1, texts)
	assert.Equal(t, 1, stickers)
}

func TestRefreshIdentity(t *testing.T) {
	f := newFixture(t, &Config{Moderator: true, RefreshInterval: 100 * time.Millisecond})

	var mu sync.Mutex
	var calls int
	f.auth.EXPECT().Auth(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, id *auth.Identity) (*chat.AuthToken, error) {
			assert.Equal(t, selfId, id.UserId)
			assert.Equal(t, "self", id.Username)
			assert.True(t, id.Moderator)
			mu.Lock()
			calls++
			mu.Unlock()
			return &chat.AuthToken{Value: "tok"}, nil
		}).MinTimes(2)
	f.conn.EXPECT().Connect(gomock.Any(), "tok").Return(nil).MinTimes(2)

	f.s.RefreshIdentity("self", "")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, wait, tick)

	// a local kick stops the refresh.
	f.events <- kicked(selfId)
	require.Eventually(t, func() bool {
		return f.s.Identity() == nil
	}, wait, tick)
	mu.Lock()
	n := calls
	mu.Unlock()
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, calls, n+1)
	mu.Unlock()
}

func TestAuthFailure(t *testing.T) {
	f := newFixture(t, &Config{})
	failed := make(chan struct{}, 2)
	f.auth.EXPECT().Auth(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *auth.Identity) (*chat.AuthToken, error) {
			failed <- struct{}{}
			return nil, &auth.Error{Status: 500, Body: "down"}
		}).Times(2)
	f.conn.EXPECT().State().Return(ws.Disconnected)

	f.s.RefreshIdentity("self", "")
	<-failed

	// no token yet, resume authenticates again.
	f.s.Resume()
	select {
	case <-failed:
	case <-time.After(wait):
		t.Fatal("resume did not authenticate")
	}
	f.s.Lock()
	assert.Nil(t, f.s.token)
	f.s.Unlock()
}

func TestResume(t *testing.T) {
	f := newFixture(t, &Config{})
	f.login(t)

	f.conn.EXPECT().State().Return(ws.Connected)
	f.s.Resume()

	reconnected := make(chan struct{})
	f.conn.EXPECT().State().Return(ws.Disconnected)
	f.conn.EXPECT().Connect(gomock.Any(), "tok").DoAndReturn(func(context.Context, string) error {
		close(reconnected)
		return errors.New("dial failed")
	})
	f.s.Resume()
	select {
	case <-reconnected:
	case <-time.After(wait):
		t.Fatal("resume did not reconnect")
	}
}

func TestSweepExpired(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := ws_mock.NewMockIConnection(ctrl)
	events := make(chan *ws.Event, 4)
	conn.EXPECT().Events().Return((<-chan *ws.Event)(events)).AnyTimes()
	conn.EXPECT().Close().AnyTimes()

	messages := store.NewMessageStore(chat.HistorySize, 200*time.Millisecond)
	s := New(&Config{SweepInterval: 20 * time.Millisecond}, auth_mock.NewMockClient(ctrl), conn,
		messages, bullet.NewScheduler(false, nil), nil)
	s.Start()
	defer s.Close()

	old := msg("old", "u1")
	old.CreatedAt = time.Now().Add(-time.Second)
	events <- &ws.Event{Kind: ws.EventMessage, Message: old}
	events <- &ws.Event{Kind: ws.EventMessage, Message: msg("new", "u1")}

	require.Eventually(t, func() bool {
		got := ids(s.Snapshot())
		return len(got) == 1 && got[0] == "new"
	}, wait, tick)
	require.Eventually(t, func() bool {
		return len(s.Snapshot()) == 0
	}, wait, tick)
}

func TestBulletModePersisted(t *testing.T) {
	prefs, err := settings.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	defer prefs.Close()
	require.NoError(t, prefs.SetUseBulletChat(true))

	ctrl := gomock.NewController(t)
	conn := ws_mock.NewMockIConnection(ctrl)
	conn.EXPECT().Close().AnyTimes()

	scheduler := bullet.NewScheduler(false, nil)
	s := New(&Config{}, auth_mock.NewMockClient(ctrl), conn,
		store.NewMessageStore(0, 0), scheduler, prefs)
	assert.True(t, scheduler.Enabled())

	s.SetBulletMode(false)
	assert.False(t, scheduler.Enabled())
	assert.False(t, prefs.UseBulletChat())
	s.Close()
}

func TestRelease(t *testing.T) {
	f := newFixture(t, &Config{})
	f.receive(t, msg("a", "u1"))
	f.s.Release()
	assert.Empty(t, f.s.Snapshot())
}
