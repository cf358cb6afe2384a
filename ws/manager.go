package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/bulletchat/chat"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	defaultPingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 30 * time.Second

	defaultHandshakeTimeout = 30 * time.Second

	// websocket max message size to read.
	defaultReadLimit = 16 * 1024

	defaultEventBuffer = 64
)

type Config struct {
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PingPeriod       time.Duration
	PongWait         time.Duration
	ReadLimit        int64
	EventBuffer      int

	// Now stamps inbound messages.
	Now func() time.Time
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = defaultHandshakeTimeout
	}
	if out.WriteWait <= 0 {
		out.WriteWait = defaultWriteWait
	}
	if out.PongWait <= 0 {
		out.PongWait = defaultPongWait
	}
	if out.PingPeriod <= 0 || out.PingPeriod >= out.PongWait {
		out.PingPeriod = out.PongWait * 2 / 3
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = defaultReadLimit
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = defaultEventBuffer
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

// Manager implements `IConnection` on top of gorilla websocket.
// The token is presented as the websocket subprotocol.
type Manager struct {
	sync.Mutex

	conf   *Config
	state  int32
	conn   *conn
	nextId uint64

	connecting bool
	closed     bool

	events chan *Event
	done   chan struct{}
}

var _ IConnection = (*Manager)(nil)

func NewManager(conf *Config) *Manager {
	conf = conf.withDefaults()
	return &Manager{
		conf:   conf,
		events: make(chan *Event, conf.EventBuffer),
		done:   make(chan struct{}),
	}
}

func (m *Manager) Events() <-chan *Event {
	return m.events
}

func (m *Manager) State() State {
	return State(atomic.LoadInt32(&m.state))
}

func (m *Manager) setState(s State) {
	if old := State(atomic.SwapInt32(&m.state, int32(s))); old != s {
		glog.V(5).Infof("ws: state %s -> %s", old, s)
	}
}

func (m *Manager) Connect(ctx context.Context, token string) error {
	m.Lock()
	if m.closed {
		m.Unlock()
		return ErrClosed
	}
	if m.connecting {
		m.Unlock()
		glog.V(5).Infof("ws: connect in flight, skip")
		return nil
	}
	m.connecting = true
	old := m.conn
	m.conn = nil
	m.Unlock()

	if old != nil {
		m.setState(Closing)
		glog.Infof("ws: releasing socket %d", old.id)
		old.close(chat.CloseCodeRestart, chat.CloseReasonRestart)
		old.wait()
	}

	m.setState(Connecting)
	glog.Infof("ws: creating a new socket connection to %s", m.conf.URL)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: m.conf.HandshakeTimeout,
		Subprotocols:     []string{token},
	}
	wsConn, resp, err := dialer.DialContext(ctx, m.conf.URL, m.conf.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w: handshake status %d", err, resp.StatusCode)
		}
		glog.Errorf("ws: failed to connect: %v", err)
		m.Lock()
		m.connecting = false
		m.Unlock()
		m.setState(Disconnected)
		wsConnects.WithLabelValues("failed").Inc()
		m.emitError(chat.NewConnectionFailed(err))
		return err
	}

	m.Lock()
	m.nextId++
	id := m.nextId
	m.connecting = false
	if m.closed {
		m.Unlock()
		_ = wsConn.Close()
		m.setState(Disconnected)
		return ErrClosed
	}
	c := newConn(m, wsConn, id)
	m.conn = c
	m.setState(Connected)
	m.Unlock()

	wsConnects.WithLabelValues("ok").Inc()
	glog.Infof("ws: socket %d connected", c.id)
	m.emit(&Event{Kind: EventConnected})
	c.start()
	return nil
}

func (m *Manager) Send(ctx context.Context, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return m.sendFailed(frame, fmt.Errorf("marshal frame: %w", err))
	}

	m.Lock()
	c := m.conn
	m.Unlock()
	if c == nil {
		return m.sendFailed(frame, ErrNotConnected)
	}

	if err := c.write(ctx, data); err != nil {
		return m.sendFailed(frame, err)
	}
	return nil
}

func (m *Manager) sendFailed(frame interface{}, err error) error {
	glog.Errorf("ws: failed to send frame %+v: %v", frame, err)
	ne := chat.NewSendFailed(frame, err)
	m.emitError(ne)
	return ne
}

func (m *Manager) Close() {
	m.Lock()
	if m.closed {
		m.Unlock()
		return
	}
	m.closed = true
	c := m.conn
	m.conn = nil
	close(m.done)
	m.Unlock()

	if c != nil {
		c.close(websocket.CloseNormalClosure, "")
		c.wait()
	}
	m.setState(Disconnected)
	glog.Infof("ws: manager closed")
}

// connClosed is called once the socket of `c` is gone.
func (m *Manager) connClosed(c *conn) {
	m.Lock()
	defer m.Unlock()
	if m.conn == c {
		m.conn = nil
		m.setState(Disconnected)
	}
}

func (m *Manager) emitError(err *chat.NetworkError) {
	wsErrors.WithLabelValues(err.Kind.String()).Inc()
	m.emit(&Event{Kind: EventError, Error: err})
}

// emit blocks until the event is queued, or drops it once closed.
func (m *Manager) emit(ev *Event) {
	select {
	case m.events <- ev:
	case <-m.done:
		glog.V(5).Infof("ws: manager closed, drop %s event", ev.Kind)
	}
}
