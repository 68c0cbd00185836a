// Package transport keeps one resilient message channel open to a draft room.
//
// A Transport is an actor: a single goroutine owns the connection, the
// outbound queue, the heartbeat counter and the reconnect timer. Everything
// else talks to it through its inbox and reads results from Notices().
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrAlreadyConnected = errors.New("already connected to another room")
var ErrClosed = errors.New("transport stopped")
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
var ErrHeartbeatTimeout = errors.New("heartbeat timeout")

type Options struct {
	BaseURL             string
	ClientID            string
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	MaxAttempts         int
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	DialTimeout         time.Duration
	WriteTimeout        time.Duration
}

func DefaultOptions() Options {
	return Options{
		BaseURL:             "ws://localhost:8000",
		BaseDelay:           time.Second,
		MaxDelay:            10 * time.Second,
		MaxAttempts:         10,
		HeartbeatInterval:   15 * time.Second,
		MaxMissedHeartbeats: 3,
		DialTimeout:         10 * time.Second,
		WriteTimeout:        5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = max(d.MaxDelay, o.BaseDelay)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.MaxMissedHeartbeats <= 0 {
		o.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	return o
}

// RoomURL builds the websocket endpoint for a room code.
func (o Options) RoomURL(room string) string {
	u := strings.TrimRight(o.BaseURL, "/") + "/ws/game/" + url.PathEscape(room) + "/"
	if o.ClientID != "" {
		u += "?client=" + url.QueryEscape(o.ClientID)
	}
	return u
}

// Notice is everything the transport reports to its owner.
type Notice interface{ isNotice() }

// Opened reports a live channel. Resumed is set when the open followed an
// unexpected drop; a request_sync has already been sent in that case.
type Opened struct{ Resumed bool }

// Frame is one inbound message, pings excluded.
type Frame struct{ Data []byte }

type Dropped struct{ Err error }

type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// Failed is terminal until Connect is called again.
type Failed struct{ Err error }

func (Opened) isNotice()       {}
func (Frame) isNotice()        {}
func (Dropped) isNotice()      {}
func (Reconnecting) isNotice() {}
func (Failed) isNotice()       {}

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type Status struct {
	Room     string
	State    State
	Attempts int
	Queued   int
}

type msg interface{ isMsg() }

type connectMsg struct {
	room  string
	reply chan error
}
type sendMsg struct{ data []byte }
type closeMsg struct{ reply chan struct{} }
type recoverMsg struct {
	resetAttempts bool
	source        string
}
type statusMsg struct{ reply chan Status }
type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}
type frameMsg struct {
	gen  uint64
	data []byte
}
type dropMsg struct {
	gen uint64
	err error
}
type writtenMsg struct{ gen uint64 }
type heartbeatTick struct{ gen uint64 }
type reconnectDue struct{ gen uint64 }

func (connectMsg) isMsg()    {}
func (sendMsg) isMsg()       {}
func (closeMsg) isMsg()      {}
func (recoverMsg) isMsg()    {}
func (statusMsg) isMsg()     {}
func (dialResult) isMsg()    {}
func (frameMsg) isMsg()      {}
func (dropMsg) isMsg()       {}
func (writtenMsg) isMsg()    {}
func (heartbeatTick) isMsg() {}
func (reconnectDue) isMsg()  {}

// link's writer takes one frame at a time from out and acks it; unsent
// frames stay in the transport's queue.
type link struct {
	gen    uint64
	conn   Conn
	out    chan []byte
	cancel context.CancelFunc
}

type Transport struct {
	logger  *zap.Logger
	dialer  Dialer
	opts    Options
	ctx     context.Context
	inbox   chan msg
	notices chan Notice

	// owned by run()
	room        string
	gen         uint64
	link        *link
	dialing     bool
	intentional bool
	failed      bool
	attempts    int
	needsSync   bool
	missed      int
	queue       [][]byte
	inflight    []byte
	pending     []Notice
	timer       *time.Timer
}

// New starts the transport loop. It runs until ctx is cancelled.
func New(ctx context.Context, logger *zap.Logger, dialer Dialer, opts Options) *Transport {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	opts = opts.withDefaults()
	t := &Transport{
		logger:      logger.Named("transport"),
		dialer:      dialer,
		opts:        opts,
		ctx:         ctx,
		inbox:       make(chan msg, 64),
		notices:     make(chan Notice),
		intentional: true,
	}
	go t.run()
	return t
}

func (t *Transport) Notices() <-chan Notice { return t.notices }

// Connect opens the channel to room. It returns once the dial has been
// started; the outcome arrives as a Notice.
func (t *Transport) Connect(ctx context.Context, room string) error {
	reply := make(chan error, 1)
	if err := t.post(ctx, connectMsg{room: room, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrClosed
	}
}

// Send transmits data now if open, otherwise queues it for the next open.
func (t *Transport) Send(data []byte) error {
	return t.post(context.Background(), sendMsg{data: data})
}

// Close tears the channel down on purpose. Timers are stopped and the queue
// cleared before it returns.
func (t *Transport) Close() {
	reply := make(chan struct{})
	if t.post(context.Background(), closeMsg{reply: reply}) != nil {
		return
	}
	select {
	case <-reply:
	case <-t.ctx.Done():
	}
}

// NetworkOnline reconnects immediately with a fresh attempt budget.
func (t *Transport) NetworkOnline() {
	_ = t.post(context.Background(), recoverMsg{resetAttempts: true, source: "network_online"})
}

// Visible reconnects immediately after the client returns to the foreground.
func (t *Transport) Visible() {
	_ = t.post(context.Background(), recoverMsg{source: "visible"})
}

func (t *Transport) Status() Status {
	reply := make(chan Status, 1)
	if t.post(context.Background(), statusMsg{reply: reply}) != nil {
		return Status{State: StateIdle}
	}
	select {
	case s := <-reply:
		return s
	case <-t.ctx.Done():
		return Status{State: StateIdle}
	}
}

func (t *Transport) post(ctx context.Context, m msg) error {
	select {
	case t.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrClosed
	}
}

func (t *Transport) run() {
	for {
		var out chan<- Notice
		var next Notice
		if len(t.pending) > 0 {
			out = t.notices
			next = t.pending[0]
		}
		var wout chan<- []byte
		var head []byte
		if t.link != nil && t.inflight == nil && len(t.queue) > 0 {
			wout = t.link.out
			head = t.queue[0]
		}
		select {
		case <-t.ctx.Done():
			t.teardown()
			return
		case m := <-t.inbox:
			t.handle(m)
		case out <- next:
			t.pending[0] = nil
			t.pending = t.pending[1:]
		case wout <- head:
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.inflight = head
		}
	}
}

func (t *Transport) handle(m msg) {
	switch m := m.(type) {
	case connectMsg:
		m.reply <- t.connect(m.room)
	case sendMsg:
		t.send(m.data)
	case closeMsg:
		t.close()
		close(m.reply)
	case recoverMsg:
		t.recover(m)
	case statusMsg:
		m.reply <- t.status()
	case dialResult:
		t.dialed(m)
	case frameMsg:
		t.frame(m)
	case dropMsg:
		if t.link != nil && t.link.gen == m.gen {
			t.drop(m.err)
		}
	case writtenMsg:
		if t.link != nil && t.link.gen == m.gen {
			t.inflight = nil
		}
	case heartbeatTick:
		t.heartbeat(m.gen)
	case reconnectDue:
		if m.gen == t.gen && !t.intentional && t.link == nil && !t.dialing {
			t.dial()
		}
	}
}

func (t *Transport) connect(room string) error {
	if room == "" {
		return fmt.Errorf("connect: empty room code")
	}
	if !t.intentional {
		if t.room != room {
			return fmt.Errorf("%w: %s", ErrAlreadyConnected, t.room)
		}
		if !t.failed {
			return nil
		}
	}
	t.stopTimer()
	t.room = room
	t.intentional = false
	t.failed = false
	t.attempts = 0
	t.needsSync = false
	t.logger.Info("connecting", zap.String("room", room))
	t.dial()
	return nil
}

func (t *Transport) send(data []byte) {
	if t.intentional {
		t.logger.Warn("send while closed dropped", zap.Int("bytes", len(data)))
		return
	}
	t.queue = append(t.queue, data)
}

func (t *Transport) close() {
	t.intentional = true
	t.failed = false
	t.stopTimer()
	t.gen++
	t.dialing = false
	t.closeLink()
	t.queue = nil
	t.attempts = 0
	t.needsSync = false
	if t.room != "" {
		t.logger.Info("closed", zap.String("room", t.room))
	}
	t.room = ""
}

func (t *Transport) recover(m recoverMsg) {
	if t.intentional || t.link != nil || t.dialing || t.room == "" {
		return
	}
	if m.resetAttempts {
		t.attempts = 0
	}
	t.failed = false
	t.stopTimer()
	t.logger.Info("immediate reconnect", zap.String("trigger", m.source))
	t.dial()
}

func (t *Transport) status() Status {
	s := Status{Room: t.room, Attempts: t.attempts, Queued: len(t.queue)}
	switch {
	case t.intentional:
		s.State = StateIdle
	case t.failed:
		s.State = StateFailed
	case t.link != nil:
		s.State = StateOpen
	case t.attempts > 0:
		s.State = StateReconnecting
	default:
		s.State = StateConnecting
	}
	return s
}

func (t *Transport) dial() {
	t.gen++
	gen := t.gen
	t.dialing = true
	target := t.opts.RoomURL(t.room)
	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, t.opts.DialTimeout)
		defer cancel()
		c, err := t.dialer.Dial(ctx, target)
		_ = t.post(context.Background(), dialResult{gen: gen, conn: c, err: err})
	}()
}

func (t *Transport) dialed(m dialResult) {
	if m.gen != t.gen || t.intentional {
		if m.conn != nil {
			go m.conn.Close()
		}
		return
	}
	t.dialing = false
	if m.err != nil {
		t.logger.Info("dial failed", zap.Int("attempt", t.attempts), zap.Error(m.err))
		t.retry(m.err)
		return
	}
	t.open(m.conn)
}

func (t *Transport) open(c Conn) {
	resumed := t.needsSync
	t.needsSync = false
	t.attempts = 0
	t.missed = 0

	ctx, cancel := context.WithCancel(t.ctx)
	l := &link{gen: t.gen, conn: c, out: make(chan []byte), cancel: cancel}
	t.link = l
	go t.readLoop(ctx, l)
	go t.writeLoop(ctx, l)
	go t.tickLoop(ctx, l.gen)

	queued := len(t.queue)
	if resumed {
		// after the backlog, so the snapshot already reflects it
		t.queue = append(t.queue, syncRequestFrame())
	}
	t.logger.Info("open", zap.String("room", t.room), zap.Bool("resumed", resumed), zap.Int("queued", queued))
	t.notify(Opened{Resumed: resumed})
}

func (t *Transport) frame(m frameMsg) {
	if t.link == nil || t.link.gen != m.gen {
		return
	}
	if ts, ok := parsePing(m.data); ok {
		t.missed = 0
		t.queue = append(t.queue, pongFrame(ts))
		return
	}
	t.notify(Frame{Data: m.data})
}

func (t *Transport) heartbeat(gen uint64) {
	if t.link == nil || t.link.gen != gen {
		return
	}
	t.missed++
	if t.missed >= t.opts.MaxMissedHeartbeats {
		t.logger.Warn("no ping from server", zap.Int("missed", t.missed))
		t.drop(ErrHeartbeatTimeout)
	}
}

// drop handles any unexpected loss of an open channel.
func (t *Transport) drop(err error) {
	t.closeLink()
	t.needsSync = true
	t.logger.Info("connection lost", zap.Error(err))
	t.notify(Dropped{Err: err})
	if !t.intentional {
		t.retry(err)
	}
}

func (t *Transport) retry(cause error) {
	if t.attempts >= t.opts.MaxAttempts {
		t.failed = true
		err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, t.attempts, cause)
		t.logger.Error("giving up", zap.String("room", t.room), zap.Error(err))
		t.notify(Failed{Err: err})
		return
	}
	t.attempts++
	delay := Backoff(t.attempts, t.opts.BaseDelay, t.opts.MaxDelay)
	gen := t.gen
	t.stopTimer()
	t.timer = time.AfterFunc(delay, func() {
		_ = t.post(context.Background(), reconnectDue{gen: gen})
	})
	t.notify(Reconnecting{Attempt: t.attempts, Delay: delay})
}

func (t *Transport) closeLink() {
	if t.link == nil {
		return
	}
	l := t.link
	t.link = nil
	t.missed = 0
	if t.inflight != nil {
		// unacknowledged, so it goes out again on the next link
		t.queue = append([][]byte{t.inflight}, t.queue...)
		t.inflight = nil
	}
	l.cancel()
	go l.conn.Close()
}

func (t *Transport) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) teardown() {
	t.stopTimer()
	t.closeLink()
}

func (t *Transport) notify(n Notice) {
	t.pending = append(t.pending, n)
}

func (t *Transport) readLoop(ctx context.Context, l *link) {
	for {
		data, err := l.conn.Read(ctx)
		if err != nil {
			_ = t.post(context.Background(), dropMsg{gen: l.gen, err: err})
			return
		}
		if t.post(ctx, frameMsg{gen: l.gen, data: data}) != nil {
			return
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, l *link) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-l.out:
			wctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
			err := l.conn.Write(wctx, data)
			cancel()
			if err != nil {
				_ = t.post(context.Background(), dropMsg{gen: l.gen, err: err})
				return
			}
			if t.post(ctx, writtenMsg{gen: l.gen}) != nil {
				return
			}
		}
	}
}

func (t *Transport) tickLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.post(ctx, heartbeatTick{gen: gen}) != nil {
				return
			}
		}
	}
}
