package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	in     chan []byte // server -> client
	out    chan []byte // client -> server
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer fails the first `failures` dials, then hands out fresh conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	urls     []string
	conns    chan *fakeConn
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastOptions() Options {
	return Options{
		BaseURL:             "ws://relay.test",
		BaseDelay:           5 * time.Millisecond,
		MaxDelay:            20 * time.Millisecond,
		MaxAttempts:         5,
		HeartbeatInterval:   time.Hour,
		MaxMissedHeartbeats: 3,
		DialTimeout:         time.Second,
		WriteTimeout:        time.Second,
	}
}

func recvConn(t *testing.T, d *fakeDialer, within time.Duration) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(within):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func recvNotice(t *testing.T, tr *Transport, within time.Duration) Notice {
	t.Helper()
	select {
	case n := <-tr.Notices():
		return n
	case <-time.After(within):
		t.Fatalf("timed out waiting for notice")
		return nil
	}
}

// waitNotice skips notices until one of type N arrives.
func waitNotice[N Notice](t *testing.T, tr *Transport, within time.Duration) N {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case n := <-tr.Notices():
			if v, ok := n.(N); ok {
				return v
			}
		case <-deadline:
			var zero N
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func recvWrite(t *testing.T, c *fakeConn, within time.Duration) string {
	t.Helper()
	select {
	case d := <-c.out:
		return string(d)
	case <-time.After(within):
		t.Fatalf("timed out waiting for write")
		return ""
	}
}

func recvNoWrite(t *testing.T, c *fakeConn, within time.Duration) {
	t.Helper()
	select {
	case d := <-c.out:
		t.Fatalf("expected no write, got %s", d)
	case <-time.After(within):
	}
}

func newTransport(t *testing.T, d Dialer, opts Options) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, zaptest.NewLogger(t), d, opts)
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{1000, 2000, 4000, 8000, 10000}
	for i, w := range want {
		got := Backoff(i+1, 1000*time.Millisecond, 10000*time.Millisecond)
		assert.Equal(t, w*time.Millisecond, got, "attempt %d", i+1)
	}
	assert.Equal(t, 10*time.Second, Backoff(40, time.Second, 10*time.Second))
}

func TestRoomURL(t *testing.T) {
	o := Options{BaseURL: "ws://localhost:8000/", ClientID: "abc"}
	assert.Equal(t, "ws://localhost:8000/ws/game/K3X9QZ/?client=abc", o.RoomURL("K3X9QZ"))
}

func TestSend_QueuedWhileDisconnectedFlushesInOrder(t *testing.T) {
	d := newFakeDialer(1)
	tr := newTransport(t, d, fastOptions())

	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	require.NoError(t, tr.Send([]byte(`{"n":1}`)))
	require.NoError(t, tr.Send([]byte(`{"n":2}`)))

	r := waitNotice[Reconnecting](t, tr, time.Second)
	assert.Equal(t, 1, r.Attempt)
	assert.Equal(t, 5*time.Millisecond, r.Delay)

	c := recvConn(t, d, time.Second)
	opened := waitNotice[Opened](t, tr, time.Second)
	assert.False(t, opened.Resumed, "first open never requests a resync")

	require.NoError(t, tr.Send([]byte(`{"n":3}`)))
	assert.Equal(t, `{"n":1}`, recvWrite(t, c, time.Second))
	assert.Equal(t, `{"n":2}`, recvWrite(t, c, time.Second))
	assert.Equal(t, `{"n":3}`, recvWrite(t, c, time.Second))
	assert.Equal(t, StateOpen, tr.Status().State)
}

func TestDrop_ReconnectsThenFlushesQueueBeforeResync(t *testing.T) {
	d := newFakeDialer(0)
	opts := fastOptions()
	opts.BaseDelay = 50 * time.Millisecond
	opts.MaxDelay = 50 * time.Millisecond
	tr := newTransport(t, d, opts)
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	c1 := recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	c1.Close()
	dropped := waitNotice[Dropped](t, tr, time.Second)
	assert.Error(t, dropped.Err)
	require.NoError(t, tr.Send([]byte(`{"type":"place_character"}`)))

	c2 := recvConn(t, d, time.Second)
	opened := waitNotice[Opened](t, tr, time.Second)
	assert.True(t, opened.Resumed)
	assert.Equal(t, `{"type":"place_character"}`, recvWrite(t, c2, time.Second))
	assert.JSONEq(t, `{"type":"request_sync"}`, recvWrite(t, c2, time.Second))
	assert.Equal(t, 0, tr.Status().Attempts)
}

func TestSend_LargeBacklogFlushesWithoutDropping(t *testing.T) {
	d := newFakeDialer(1)
	tr := newTransport(t, d, fastOptions())

	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	for i := range 100 {
		require.NoError(t, tr.Send([]byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	c := recvConn(t, d, time.Second)
	for i := range 100 {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), recvWrite(t, c, time.Second))
	}
	recvNoWrite(t, c, 50*time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, StateOpen, tr.Status().State)
}

func TestDrop_UnsentFramesMoveToNextLink(t *testing.T) {
	d := newFakeDialer(0)
	tr := newTransport(t, d, fastOptions())

	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	c1 := recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	// c1 buffers 16 frames and then stalls the writer
	for i := range 20 {
		require.NoError(t, tr.Send([]byte(fmt.Sprintf(`{"n":%d}`, i))))
	}
	require.Eventually(t, func() bool { return len(c1.out) == cap(c1.out) }, time.Second, 5*time.Millisecond)
	c1.Close()

	c2 := recvConn(t, d, time.Second)
	for i := 16; i < 20; i++ {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), recvWrite(t, c2, time.Second))
	}
	assert.JSONEq(t, `{"type":"request_sync"}`, recvWrite(t, c2, time.Second))
	for i := range 16 {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), recvWrite(t, c1, time.Second))
	}
}

func TestPing_RepliesWithEchoedTimestampAndIsNotForwarded(t *testing.T) {
	d := newFakeDialer(0)
	tr := newTransport(t, d, fastOptions())
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	c := recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	c.in <- []byte(`{"type":"ping","timestamp":1712345678.25}`)
	assert.JSONEq(t, `{"type":"pong","timestamp":1712345678.25}`, recvWrite(t, c, time.Second))

	c.in <- []byte(`{"type":"player_joined","player_role":"guest"}`)
	f, ok := recvNotice(t, tr, time.Second).(Frame)
	require.True(t, ok)
	assert.Contains(t, string(f.Data), "player_joined")
}

func TestHeartbeat_MissedPingsForceReconnect(t *testing.T) {
	d := newFakeDialer(0)
	opts := fastOptions()
	opts.HeartbeatInterval = 10 * time.Millisecond
	tr := newTransport(t, d, opts)
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	dropped := waitNotice[Dropped](t, tr, time.Second)
	assert.ErrorIs(t, dropped.Err, ErrHeartbeatTimeout)
	waitNotice[Reconnecting](t, tr, time.Second)
	c2 := recvConn(t, d, time.Second)
	assert.True(t, waitNotice[Opened](t, tr, time.Second).Resumed)
	assert.JSONEq(t, `{"type":"request_sync"}`, recvWrite(t, c2, time.Second))
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	d := newFakeDialer(100)
	opts := fastOptions()
	opts.MaxAttempts = 2
	tr := newTransport(t, d, opts)
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))

	r1 := waitNotice[Reconnecting](t, tr, time.Second)
	r2 := waitNotice[Reconnecting](t, tr, time.Second)
	assert.Equal(t, []int{1, 2}, []int{r1.Attempt, r2.Attempt})
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, []time.Duration{r1.Delay, r2.Delay})

	failed := waitNotice[Failed](t, tr, time.Second)
	assert.ErrorIs(t, failed.Err, ErrReconnectExhausted)
	assert.Equal(t, StateFailed, tr.Status().State)

	dials := d.dialCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, d.dialCount(), "no dials after terminal failure")
}

func TestClose_CancelsPendingReconnect(t *testing.T) {
	d := newFakeDialer(100)
	opts := fastOptions()
	opts.BaseDelay = 30 * time.Millisecond
	opts.MaxDelay = 30 * time.Millisecond
	tr := newTransport(t, d, opts)
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	waitNotice[Reconnecting](t, tr, time.Second)
	require.NoError(t, tr.Send([]byte("queued")))

	tr.Close()
	dials := d.dialCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, d.dialCount())

	st := tr.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.Queued)

	tr.NetworkOnline()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, d.dialCount(), "recovery triggers ignored after intentional close")
}

func TestConnect_OtherRoomRequiresClose(t *testing.T) {
	d := newFakeDialer(0)
	tr := newTransport(t, d, fastOptions())
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	require.NoError(t, tr.Connect(context.Background(), "ROOM01"), "same room is a no-op")
	assert.ErrorIs(t, tr.Connect(context.Background(), "ROOM02"), ErrAlreadyConnected)

	tr.Close()
	require.NoError(t, tr.Connect(context.Background(), "ROOM02"))
	recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)
	assert.Equal(t, "ROOM02", tr.Status().Room)
	assert.Equal(t, 2, d.dialCount())
}

func TestNetworkOnline_BypassesBackoff(t *testing.T) {
	d := newFakeDialer(1)
	opts := fastOptions()
	opts.BaseDelay = time.Hour
	opts.MaxDelay = time.Hour
	tr := newTransport(t, d, opts)
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	r := waitNotice[Reconnecting](t, tr, time.Second)
	assert.Equal(t, time.Hour, r.Delay)

	tr.NetworkOnline()
	recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)
}

func TestVisible_NoopWhileOpen(t *testing.T) {
	d := newFakeDialer(0)
	tr := newTransport(t, d, fastOptions())
	require.NoError(t, tr.Connect(context.Background(), "ROOM01"))
	c := recvConn(t, d, time.Second)
	waitNotice[Opened](t, tr, time.Second)

	tr.Visible()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	recvNoWrite(t, c, 20*time.Millisecond)
}

func TestWebsocketDialer_AgainstServer(t *testing.T) {
	requests := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.URL.Path + "|" + r.URL.Query().Get("client")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping","timestamp":"t-1"}`))
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var pong map[string]string
		if json.Unmarshal(data, &pong) != nil || pong["timestamp"] != "t-1" {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"player_joined","player_role":"guest"}`))
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	opts.ClientID = "client-1"
	tr := newTransport(t, WebsocketDialer{}, opts)
	require.NoError(t, tr.Connect(context.Background(), "ABC123"))

	waitNotice[Opened](t, tr, 2*time.Second)
	f := waitNotice[Frame](t, tr, 2*time.Second)
	assert.Contains(t, string(f.Data), "player_joined")
	assert.Equal(t, "/ws/game/ABC123/|client-1", <-requests)
	tr.Close()
}
