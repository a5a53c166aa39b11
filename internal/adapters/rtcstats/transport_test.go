package rtcstats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/StatsRelay/internal/core"
	"github.com/dkeye/StatsRelay/internal/domain"
	"github.com/gorilla/websocket"
)

// collector is a test rtcstats server handing out the server side of every
// accepted connection.
type collector struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	headers chan http.Header
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{
		conns:   make(chan *websocket.Conn, 8),
		headers: make(chan http.Header, 8),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c.headers <- r.Header.Clone()
		c.conns <- ws
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) url() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http")
}

func (c *collector) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-c.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the relay to connect")
		return nil
	}
}

type scheduledRetry struct {
	delay time.Duration
	fire  chan time.Time
}

// manualRetries replaces time.After so tests decide when a retry fires.
type manualRetries struct {
	scheduled chan scheduledRetry
}

func newManualRetries() *manualRetries {
	return &manualRetries{scheduled: make(chan scheduledRetry, 16)}
}

func (m *manualRetries) after(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.scheduled <- scheduledRetry{delay: d, fire: ch}
	return ch
}

func (m *manualRetries) expect(t *testing.T) scheduledRetry {
	t.Helper()
	select {
	case r := <-m.scheduled:
		if r.delay != ReconnectDelay {
			t.Fatalf("retry delay = %v, want %v", r.delay, ReconnectDelay)
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect scheduled")
		return scheduledRetry{}
	}
}

func (m *manualRetries) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-m.scheduled:
		t.Fatal("unexpected extra reconnect scheduled")
	case <-time.After(wait):
	}
}

type failingDialer struct {
	attempts chan struct{}
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.attempts <- struct{}{}
	return nil, nil, errors.New("connection refused")
}

func waitForState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", tr.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startTransport(t *testing.T, tr *Transport) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tr.Connect(ctx)
	return cancel
}

func TestTransportSendsFramesWithHandshakeHeaders(t *testing.T) {
	col := newCollector(t)
	tr := NewTransport(col.url(), "relay-host")
	tr.after = newManualRetries().after
	startTransport(t, tr)

	sc := col.accept(t)
	h := <-col.headers
	if h.Get(DisplayNameHeader) != "relay-host" {
		t.Fatalf("display name header = %q", h.Get(DisplayNameHeader))
	}
	if !strings.HasPrefix(h.Get("User-Agent"), "StatsRelay") {
		t.Fatalf("user agent = %q", h.Get("User-Agent"))
	}
	if sc.Subprotocol() != Subprotocol {
		t.Fatalf("subprotocol = %q", sc.Subprotocol())
	}
	waitForState(t, tr, StateConnected)

	if !tr.Send(core.NewClose("sid-1")) {
		t.Fatal("send on a live connection dropped")
	}
	entry, err := core.NewStatsEntry("sid-1", core.Record{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Send(entry) {
		t.Fatal("send on a live connection dropped")
	}

	_ = sc.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := sc.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != `{"type":"close","statsSessionId":"sid-1"}` {
		t.Fatalf("unexpected frame %d %s", mt, data)
	}
	_, data, err = sc.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "stats-entry" || frame.Data != `{"a":1}` {
		t.Fatalf("unexpected frame %s", data)
	}
}

func TestTransportSendWhileDisconnectedDrops(t *testing.T) {
	tr := NewTransport("ws://127.0.0.1:1", "relay-host")
	if tr.Send(core.NewClose("sid-1")) {
		t.Fatal("send without a connection must report a drop")
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("state = %s", tr.State())
	}
}

func TestTransportConnectFailureSchedulesOneRetry(t *testing.T) {
	dialer := &failingDialer{attempts: make(chan struct{}, 16)}
	retries := newManualRetries()
	tr := NewTransport("ws://collector.invalid", "relay-host")
	tr.dialer = dialer
	tr.after = retries.after
	startTransport(t, tr)

	for i := 0; i < 3; i++ {
		select {
		case <-dialer.attempts:
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d not made", i+1)
		}
		r := retries.expect(t)
		retries.expectNone(t, 50*time.Millisecond)
		if n := len(dialer.attempts); n != 0 {
			t.Fatalf("dialed again before the retry fired (%d extra)", n)
		}
		if tr.State() != StateDisconnected {
			t.Fatalf("state = %s, want disconnected", tr.State())
		}
		r.fire <- time.Now()
	}
}

func TestTransportReconnectsAfterClose(t *testing.T) {
	col := newCollector(t)
	retries := newManualRetries()
	tr := NewTransport(col.url(), "relay-host")
	tr.after = retries.after
	startTransport(t, tr)

	for i := 0; i < 3; i++ {
		sc := col.accept(t)
		waitForState(t, tr, StateConnected)

		_ = sc.Close()
		r := retries.expect(t)
		retries.expectNone(t, 50*time.Millisecond)
		waitForState(t, tr, StateDisconnected)
		if tr.Send(core.NewClose("sid-1")) {
			t.Fatal("send after close must report a drop")
		}
		select {
		case <-col.conns:
			t.Fatal("reconnected before the retry fired")
		default:
		}
		r.fire <- time.Now()
	}
	col.accept(t)
	waitForState(t, tr, StateConnected)
}

func TestTransportErrorEventDoesNotReconnect(t *testing.T) {
	col := newCollector(t)
	retries := newManualRetries()
	tr := NewTransport(col.url(), "relay-host")
	tr.after = retries.after
	startTransport(t, tr)

	col.accept(t)
	waitForState(t, tr, StateConnected)

	tr.events <- event{kind: evError, err: errors.New("write: broken pipe")}
	retries.expectNone(t, 100*time.Millisecond)
	if tr.State() != StateConnected {
		t.Fatalf("state = %s, want connected", tr.State())
	}
}

func TestTransportQueuesFramesForSlowReader(t *testing.T) {
	col := newCollector(t)
	tr := NewTransport(col.url(), "relay-host")
	tr.after = newManualRetries().after
	startTransport(t, tr)

	sc := col.accept(t)
	waitForState(t, tr, StateConnected)

	const frames = 600
	pad := strings.Repeat("x", 32<<10)
	for i := 0; i < frames; i++ {
		msg, err := core.NewStatsEntry(domain.SessionID(fmt.Sprintf("sid-%d", i)), core.Record{"pad": pad})
		if err != nil {
			t.Fatal(err)
		}
		if !tr.Send(msg) {
			t.Fatalf("frame %d dropped while connected", i)
		}
	}

	// the collector only starts reading once everything is queued
	time.Sleep(200 * time.Millisecond)
	_ = sc.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := 0; i < frames; i++ {
		_, data, err := sc.ReadMessage()
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		var frame struct {
			SID string `json:"statsSessionId"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("sid-%d", i); frame.SID != want {
			t.Fatalf("frame %d has session %q, want %q", i, frame.SID, want)
		}
	}
	if tr.State() != StateConnected {
		t.Fatalf("state = %s, want connected", tr.State())
	}
}

func TestTransportWriteFailureReconnectsOnce(t *testing.T) {
	col := newCollector(t)
	retries := newManualRetries()
	tr := NewTransport(col.url(), "relay-host")
	tr.after = retries.after
	tr.writeWait = time.Nanosecond
	startTransport(t, tr)

	col.accept(t)
	waitForState(t, tr, StateConnected)

	if !tr.Send(core.NewClose("sid-1")) {
		t.Fatal("send on a live connection dropped")
	}
	retries.expect(t)
	retries.expectNone(t, 100*time.Millisecond)
	waitForState(t, tr, StateDisconnected)
}

func TestTransportConnectIsIdempotent(t *testing.T) {
	dialer := &failingDialer{attempts: make(chan struct{}, 16)}
	tr := NewTransport("ws://collector.invalid", "relay-host")
	tr.dialer = dialer
	tr.after = newManualRetries().after

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Connect(ctx)
	tr.Connect(ctx)

	select {
	case <-dialer.attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt")
	}
	select {
	case <-dialer.attempts:
		t.Fatal("second Connect started another loop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportSendsKeepAlivePings(t *testing.T) {
	col := newCollector(t)
	tr := NewTransport(col.url(), "relay-host")
	tr.after = newManualRetries().after
	tr.pingInterval = 25 * time.Millisecond
	startTransport(t, tr)

	sc := col.accept(t)
	pings := make(chan struct{}, 16)
	sc.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return sc.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := sc.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("ping %d not received", i+1)
		}
	}
}

func TestTransportStopsOnCancel(t *testing.T) {
	col := newCollector(t)
	tr := NewTransport(col.url(), "relay-host")
	tr.after = newManualRetries().after
	cancel := startTransport(t, tr)

	sc := col.accept(t)
	waitForState(t, tr, StateConnected)

	cancel()
	waitForState(t, tr, StateDisconnected)
	_ = sc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := sc.ReadMessage(); err == nil {
		t.Fatal("expected the relay to close its connection")
	}
	if tr.Send(core.NewClose("sid-1")) {
		t.Fatal("send after stop must report a drop")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
