// Package rtcstats streams relay messages to an rtcstats collector over a
// single WebSocket that is re-established whenever it fails or closes.
package rtcstats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/StatsRelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	Subprotocol       = "1.0_JVB"
	DisplayNameHeader = "X-Display-Name"

	ReconnectDelay = 5 * time.Second
	PingInterval   = 20 * time.Second

	writeWait        = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type eventKind int

const (
	evConnected eventKind = iota
	evConnectFailed
	evClosed
	evError
)

type event struct {
	kind eventKind
	conn *wsConn
	err  error
}

// Transport keeps one logical connection to the collector. A single
// goroutine (run) consumes lifecycle events and is the only writer of the
// current connection; Send only reads it.
type Transport struct {
	url    string
	header http.Header
	dialer Dialer

	retryDelay   time.Duration
	pingInterval time.Duration
	writeWait    time.Duration
	after        func(time.Duration) <-chan time.Time

	events  chan event
	state   atomic.Int32
	current atomic.Pointer[wsConn]
	once    sync.Once
}

func NewTransport(url, displayName string) *Transport {
	header := http.Header{}
	header.Set("User-Agent", fmt.Sprintf("StatsRelay (%s)", runtime.Version()))
	header.Set(DisplayNameHeader, displayName)

	return &Transport{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{Subprotocol},
		},
		retryDelay:   ReconnectDelay,
		pingInterval: PingInterval,
		writeWait:    writeWait,
		after:        time.After,
		events:       make(chan event, 8),
	}
}

func (t *Transport) State() State { return State(t.state.Load()) }

// Connect starts the connection loop. Calls after the first are no-ops.
// The loop stops and closes the connection when ctx is done.
func (t *Transport) Connect(ctx context.Context) {
	t.once.Do(func() {
		go t.run(ctx)
	})
}

// Send queues msg as one text frame. It returns false, dropping the
// message, only when there is no live connection.
func (t *Transport) Send(msg core.Message) bool {
	c := t.current.Load()
	if c == nil {
		log.Debug().Str("module", "rtcstats").Str("type", string(msg.Type)).Err(ErrNotConnected).Msg("message dropped")
		return false
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "rtcstats").Msg("marshal message")
		return false
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Str("module", "rtcstats").Str("type", string(msg.Type)).Err(err).Msg("message dropped")
		return false
	}
	return true
}

func (t *Transport) run(ctx context.Context) {
	logger := log.With().Str("module", "rtcstats").Str("url", t.url).Logger()

	var retry <-chan time.Time
	schedule := func() {
		if retry != nil {
			return
		}
		logger.Info().Dur("delay", t.retryDelay).Msg("reconnect scheduled")
		retry = t.after(t.retryDelay)
	}

	t.dial(ctx)
	for {
		select {
		case <-ctx.Done():
			if c := t.current.Swap(nil); c != nil {
				c.Close()
			}
			t.setState(StateDisconnected)
			logger.Info().Msg("transport stopped")
			return

		case <-retry:
			retry = nil
			t.dial(ctx)

		case ev := <-t.events:
			switch ev.kind {
			case evConnected:
				t.current.Store(ev.conn)
				t.setState(StateConnected)
				logger.Info().Msg("connected")
				go t.writePump(ctx, ev.conn, logger)
				go t.readPump(ctx, ev.conn, logger)

			case evConnectFailed:
				t.setState(StateDisconnected)
				logger.Warn().Err(ev.err).Msg("connect failed")
				schedule()

			case evClosed:
				if t.current.Load() != ev.conn {
					continue
				}
				t.current.Store(nil)
				ev.conn.Close()
				t.setState(StateDisconnected)
				logger.Warn().Err(ev.err).Msg("connection closed")
				schedule()

			case evError:
				logger.Error().Err(ev.err).Msg("transport error")
			}
		}
	}
}

// dial starts one connection attempt; its outcome arrives as an event.
func (t *Transport) dial(ctx context.Context) {
	t.setState(StateConnecting)
	go func() {
		conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			t.emit(ctx, event{kind: evConnectFailed, err: err})
			return
		}
		c := newWsConn(conn)
		if !t.emit(ctx, event{kind: evConnected, conn: c}) {
			c.Close()
		}
	}()
}

func (t *Transport) emit(ctx context.Context, ev event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) setState(s State) { t.state.Store(int32(s)) }
