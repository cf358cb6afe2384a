package ws

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/bulletchat/chat"
)

// outFrame is the data structure for `dataChan`.
type outFrame struct {
	data []byte
	errC chan error
}

// conn manages one physical socket. A conn is never reused: reconnect
// creates a new one.
type conn struct {
	sync.Mutex

	m  *Manager
	ws *websocket.Conn
	id uint64

	dataChan chan *outFrame
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	// closed by us, remote close errors are not surfaced.
	local bool
}

func newConn(m *Manager, ws *websocket.Conn, id uint64) *conn {
	return &conn{
		m:        m,
		ws:       ws,
		id:       id,
		dataChan: make(chan *outFrame, 16),
		done:     make(chan struct{}),
	}
}

func (c *conn) start() {
	c.wg.Add(2)
	go c.recvLoop()
	go c.sendLoop()
}

// close writes a close frame with given code then releases the socket.
func (c *conn) close(code int, reason string) {
	c.Lock()
	if c.local {
		c.Unlock()
		return
	}
	c.local = true
	c.Unlock()

	glog.V(5).Infof("ws: conn %d: close, code: %d, reason: %s", c.id, code, reason)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.m.conf.WriteWait))
	c.shutdown()
}

func (c *conn) isLocal() bool {
	c.Lock()
	defer c.Unlock()
	return c.local
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// wait blocks until both loops exited.
func (c *conn) wait() {
	c.wg.Wait()
}

// write queues data for the send loop and waits for the write result.
func (c *conn) write(ctx context.Context, data []byte) error {
	out := &outFrame{data: data, errC: make(chan error, 1)}
	select {
	case c.dataChan <- out:
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.errC:
		return err
	case <-c.done:
		select {
		case err := <-out.errC:
			return err
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) recvLoop() {
	defer func() {
		c.shutdown()
		c.m.connClosed(c)
		glog.V(5).Infof("ws: conn %d: recvLoop(): exited", c.id)
		c.wg.Done()
	}()

	conf := c.m.conf
	c.ws.SetReadLimit(conf.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(conf.PongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readError(err)
			return
		}

		glog.V(5).Infof("ws: conn %d: recvLoop(): incoming frame: %s", c.id, data)

		if msgType != websocket.TextMessage {
			glog.Errorf("ws: conn %d: recvLoop(): unexpected message type: %d", c.id, msgType)
			continue
		}

		ev := parseFrame(data, conf.Now())
		if ev == nil {
			wsFrames.WithLabelValues("dropped").Inc()
			continue
		}
		wsFrames.WithLabelValues(ev.Kind.String()).Inc()
		c.m.emit(ev)
	}
}

func (c *conn) readError(err error) {
	if c.isLocal() {
		glog.V(5).Infof("ws: conn %d: closed locally: %v", c.id, err)
		return
	}

	if ce, ok := err.(*websocket.CloseError); ok {
		glog.Infof("ws: conn %d: closed by peer, code: %d, text: %s", c.id, ce.Code, ce.Text)
		if ce.Code == chat.CloseCodeRestart {
			return
		}
		ne := closeError(ce.Code, ce.Text)
		ne.Err = err
		c.m.emitError(ne)
		return
	}

	glog.Errorf("ws: conn %d: read error: %v", c.id, err)
	ne := chat.NewRawError(chat.ErrorCodeNone, err.Error())
	ne.Err = err
	c.m.emitError(ne)
}

func (c *conn) sendLoop() {
	conf := c.m.conf
	pingTicker := time.NewTicker(conf.PingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("ws: conn %d: sendLoop(): exited", c.id)
		c.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			return
		case v := <-c.dataChan:
			glog.V(5).Infof("ws: conn %d: sendLoop(): write frame: %s", c.id, v.data)
			c.ws.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			err := c.ws.WriteMessage(websocket.TextMessage, v.data)
			v.errC <- err
			if err != nil {
				glog.Errorf("ws: conn %d: sendLoop(): write error: %v", c.id, err)
				c.shutdown()
				return
			}
		case <-pingTicker.C:
			c.ws.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("ws: conn %d: sendLoop(): write ping error: %v", c.id, err)
				c.shutdown()
				return
			}
		}
	}
}
