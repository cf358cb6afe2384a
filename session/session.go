// Package session ties authentication, the socket connection and the local
// message list together. Commands return immediately, results surface on
// the output topics.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"golang.org/x/time/rate"

	"github.com/mqy/bulletchat/auth"
	"github.com/mqy/bulletchat/bullet"
	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/pubsub"
	"github.com/mqy/bulletchat/settings"
	"github.com/mqy/bulletchat/store"
	"github.com/mqy/bulletchat/ws"
)

const (
	DefaultSweepInterval   = 500 * time.Millisecond
	DefaultRefreshInterval = 55 * time.Minute
	DefaultDeleteSpacing   = 300 * time.Millisecond
)

type Config struct {
	// UserId identifies this session towards the backend, a random uuid if empty.
	UserId    string
	Moderator bool

	SweepInterval   time.Duration
	RefreshInterval time.Duration

	// DeleteSpacing separates moderation sends.
	DeleteSpacing time.Duration

	Now func() time.Time
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.UserId == "" {
		out.UserId = uuid.New()
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.DeleteSpacing <= 0 {
		out.DeleteSpacing = DefaultDeleteSpacing
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

// Incoming is a newly appended ordinary message, with its bullet row
// if it animates.
type Incoming struct {
	Message *chat.ChatMessage
	Row     *int
}

type NoticeKind int

const (
	NoticeMessageDeleted NoticeKind = iota + 1
	NoticeUserKicked
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeMessageDeleted:
		return "message deleted"
	case NoticeUserKicked:
		return "user kicked"
	default:
		return "unknown"
	}
}

// Notice confirms a moderation action this session requested.
type Notice struct {
	Kind   NoticeKind
	Target string
}

type Session struct {
	sync.Mutex

	conf    *Config
	auth    auth.Client
	conn    ws.IConnection
	store   store.IMessageStore
	bullet  *bullet.Scheduler
	prefs   settings.IStore
	limiter *rate.Limiter

	identity      *auth.Identity
	moderator     bool
	token         *chat.AuthToken
	refreshCancel context.CancelFunc

	pendingDeletes map[string]struct{}
	pendingKicks   map[string]struct{}

	incoming     *pubsub.Topic[*Incoming]
	localKicked  *pubsub.Topic[struct{}]
	remoteKicked *pubsub.Topic[string]
	notices      *pubsub.Topic[*Notice]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a session. prefs may be nil, then the bullet mode is not
// persisted.
func New(conf *Config, authClient auth.Client, conn ws.IConnection, messages store.IMessageStore,
	scheduler *bullet.Scheduler, prefs settings.IStore) *Session {

	conf = conf.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conf:           conf,
		auth:           authClient,
		conn:           conn,
		store:          messages,
		bullet:         scheduler,
		prefs:          prefs,
		limiter:        rate.NewLimiter(rate.Every(conf.DeleteSpacing), 1),
		moderator:      conf.Moderator,
		pendingDeletes: make(map[string]struct{}),
		pendingKicks:   make(map[string]struct{}),
		incoming:       pubsub.NewTopic[*Incoming](pubsub.DefaultBufferSize),
		localKicked:    pubsub.NewTopic[struct{}](1),
		remoteKicked:   pubsub.NewTopic[string](pubsub.DefaultBufferSize),
		notices:        pubsub.NewTopic[*Notice](pubsub.DefaultBufferSize),
		ctx:            ctx,
		cancel:         cancel,
	}
	if prefs != nil {
		scheduler.SetEnabled(prefs.UseBulletChat())
	}
	return s
}

// Start runs the event dispatch and expiration sweep loops.
func (s *Session) Start() {
	s.Lock()
	defer s.Unlock()
	s.wg.Add(2)
	go s.dispatchLoop()
	go s.sweepLoop()
	glog.Infof("session: started, uid: %s", s.conf.UserId)
}

// Close stops all loops, closes the connection and clears messages.
func (s *Session) Close() {
	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	s.closed = true
	s.Unlock()

	s.cancel()
	s.conn.Close()
	s.wg.Wait()
	s.store.Clear()

	s.incoming.Close()
	s.localKicked.Close()
	s.remoteKicked.Close()
	s.notices.Close()
	glog.Infof("session: closed, uid: %s", s.conf.UserId)
}

func (s *Session) UserId() string {
	return s.conf.UserId
}

// Identity returns a copy of the display identity, nil if not set.
func (s *Session) Identity() *auth.Identity {
	s.Lock()
	defer s.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *Session) IsModerator() bool {
	s.Lock()
	defer s.Unlock()
	return s.moderator
}

func (s *Session) State() ws.State {
	return s.conn.State()
}

// Messages subscribes to the ordered message list.
func (s *Session) Messages() *pubsub.Subscription[[]chat.ChatMessage] {
	return s.store.Subscribe()
}

func (s *Session) Snapshot() []chat.ChatMessage {
	return s.store.Snapshot()
}

func (s *Session) Incoming() *pubsub.Subscription[*Incoming] {
	return s.incoming.Subscribe()
}

// LocalKicked fires when this session's user was disconnected by a moderator.
func (s *Session) LocalKicked() *pubsub.Subscription[struct{}] {
	return s.localKicked.Subscribe()
}

// RemoteKicked delivers the id of another user after their messages were removed.
func (s *Session) RemoteKicked() *pubsub.Subscription[string] {
	return s.remoteKicked.Subscribe()
}

func (s *Session) Notices() *pubsub.Subscription[*Notice] {
	return s.notices.Subscribe()
}

// goAsync runs fn on its own goroutine, bound to the session lifetime.
func (s *Session) goAsync(fn func(ctx context.Context)) {
	s.goAsyncCtx(s.ctx, fn)
}

func (s *Session) goAsyncCtx(ctx context.Context, fn func(ctx context.Context)) {
	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	s.wg.Add(1)
	s.Unlock()

	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *Session) sweepLoop() {
	ticker := time.NewTicker(s.conf.SweepInterval)
	defer func() {
		ticker.Stop()
		glog.V(5).Infof("session: sweepLoop(): exited")
		s.wg.Done()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.store.SweepExpired(s.conf.Now()); n > 0 {
				glog.V(7).Infof("session: swept %d expired messages", n)
			}
		}
	}
}
