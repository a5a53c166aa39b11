package rtcstats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("not connected")

// wsConn is one established connection to the collector. The FSM owns
// it and is the only one calling Close. Frames queue without limit
// until Close discards them.
type wsConn struct {
	conn   *websocket.Conn
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

func newWsConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// TrySend never blocks and only fails once the connection is closed.
func (c *wsConn) TrySend(f []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// take hands the queued frames to the writer.
func (c *wsConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// writePump is the only writer on the socket. It also sends keep-alive
// pings. A failed write is reported as a transport error and the socket
// is closed, so the read pump reports the close that drives reconnect.
func (t *Transport) writePump(ctx context.Context, c *wsConn, logger zerolog.Logger) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			logger.Debug().Msg("writePump connection closed")
			return
		case <-c.notify:
			for _, data := range c.take() {
				if err := c.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
					t.fail(ctx, c, err)
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					t.fail(ctx, c, err)
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait)); err != nil {
				t.fail(ctx, c, err)
				return
			}
		}
	}
}

// readPump drains the socket so control frames are processed. Its exit
// is the single "closed" event for the connection.
func (t *Transport) readPump(ctx context.Context, c *wsConn, logger zerolog.Logger) {
	pongWait := 2 * t.pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			t.emit(ctx, event{kind: evClosed, conn: c, err: err})
			return
		}
		logger.Debug().Int("bytes", len(data)).Msg("ignoring message from collector")
	}
}

func (t *Transport) fail(ctx context.Context, c *wsConn, err error) {
	t.emit(ctx, event{kind: evError, conn: c, err: err})
	_ = c.conn.Close()
}
