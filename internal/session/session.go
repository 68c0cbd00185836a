// Package session is the top-level controller for one client in one room.
// It owns the transport, protocol coordinator, draft machine and bridge, and
// runs all of them on a single goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/bridge"
	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/protocol"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/internal/transport"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("not connected to a room")
var ErrNotHost = errors.New("only the host can start the game")
var ErrNotYourTurn = errors.New("not your turn")
var ErrNotLoaded = errors.New("draft not loaded yet")
var ErrStopped = errors.New("session stopped")

type Options struct {
	Transport      transport.Options
	Bridge         bridge.Options
	TickInterval   time.Duration
	CatalogTimeout time.Duration
}

// View is a consistent copy of everything a client displays.
type View struct {
	Room         string
	Connection   transport.State
	Session      protocol.Session
	Template     score.Template
	Slots        []draft.SlotKey
	Draft        draft.State
	MyTurn       bool
	Loading      bool
	GraceLeft    int
	OpponentDraw *bridge.OpponentDraw
	Result       *score.Result
}

// Update is pushed to the owner of a Controller.
type Update interface{ isUpdate() }

type Changed struct{ View View }

type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

type Reconnected struct{}

// ConnectionFailed is terminal; Connect must be called again.
type ConnectionFailed struct{ Err error }

type ServerError struct{ Message string }

type CatalogFailed struct{ Err error }

type Ended struct {
	Reason string
	Result *score.Result
}

func (Changed) isUpdate()          {}
func (Reconnecting) isUpdate()     {}
func (Reconnected) isUpdate()      {}
func (ConnectionFailed) isUpdate() {}
func (ServerError) isUpdate()      {}
func (CatalogFailed) isUpdate()    {}
func (Ended) isUpdate()            {}

type msg interface{ isMsg() }

type connectReq struct {
	room  string
	reply chan error
}
type closeReq struct{ reply chan struct{} }
type startReq struct {
	templateID int64
	poolIDs    []int64
	reply      chan error
}
type drawReq struct{ reply chan drawResult }
type placeReq struct {
	slot  draft.SlotKey
	reply chan error
}
type resetReq struct{ reply chan error }
type viewReq struct{ reply chan View }
type loadResult struct {
	gen      uint64
	template score.Template
	pool     []score.Entity
	err      error
}

type drawResult struct {
	drawn draft.Drawn
	err   error
}

func (connectReq) isMsg() {}
func (closeReq) isMsg()   {}
func (startReq) isMsg()   {}
func (drawReq) isMsg()    {}
func (placeReq) isMsg()   {}
func (resetReq) isMsg()   {}
func (viewReq) isMsg()    {}
func (loadResult) isMsg() {}

type Controller struct {
	logger  *zap.Logger
	catalog catalog.Catalog
	tr      *transport.Transport
	opts    Options
	ctx     context.Context
	inbox   chan msg
	updates chan Update

	// owned by run()
	room     string
	coord    *protocol.Coordinator
	machine  *draft.Machine
	bridge   *bridge.Bridge
	conn     transport.State
	loadGen  uint64
	loading  bool
	loadedID int64
	loadedOf []int64
	deferred []protocol.Event
	dirty    bool
	pending  []Update
}

// New starts a controller. Everything stops when ctx is cancelled.
func New(ctx context.Context, logger *zap.Logger, cat catalog.Catalog, dialer transport.Dialer, opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.CatalogTimeout <= 0 {
		opts.CatalogTimeout = 10 * time.Second
	}
	c := &Controller{
		logger:  logger.Named("session"),
		catalog: cat,
		tr:      transport.New(ctx, logger, dialer, opts.Transport),
		opts:    opts,
		ctx:     ctx,
		inbox:   make(chan msg, 16),
		updates: make(chan Update),
		conn:    transport.StateIdle,
	}
	c.reset("")
	go c.run()
	return c
}

func (c *Controller) Updates() <-chan Update { return c.updates }

func (c *Controller) Connect(ctx context.Context, room string) error {
	reply := make(chan error, 1)
	return c.call(ctx, connectReq{room: room, reply: reply}, reply)
}

// Close leaves the room. No reconnect happens until Connect is called again.
func (c *Controller) Close() {
	reply := make(chan struct{})
	if c.send(context.Background(), closeReq{reply: reply}) != nil {
		return
	}
	select {
	case <-reply:
	case <-c.ctx.Done():
	}
}

// StartGame asks the room to begin a draft. Host only.
func (c *Controller) StartGame(ctx context.Context, templateID int64, poolIDs []int64) error {
	reply := make(chan error, 1)
	return c.call(ctx, startReq{templateID: templateID, poolIDs: poolIDs, reply: reply}, reply)
}

// Draw draws for the local player and announces it to the room.
func (c *Controller) Draw(ctx context.Context) (draft.Drawn, error) {
	reply := make(chan drawResult, 1)
	if err := c.send(ctx, drawReq{reply: reply}); err != nil {
		return draft.Drawn{}, err
	}
	select {
	case r := <-reply:
		return r.drawn, r.err
	case <-ctx.Done():
		return draft.Drawn{}, ctx.Err()
	case <-c.ctx.Done():
		return draft.Drawn{}, ErrStopped
	}
}

// Place commits the pending draw to slot locally, then tells the room.
func (c *Controller) Place(ctx context.Context, slot draft.SlotKey) error {
	reply := make(chan error, 1)
	return c.call(ctx, placeReq{slot: slot, reply: reply}, reply)
}

// Reset asks the room to restart the draft with the same template and pool.
func (c *Controller) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.call(ctx, resetReq{reply: reply}, reply)
}

func (c *Controller) NetworkOnline() { c.tr.NetworkOnline() }

func (c *Controller) Visible() { c.tr.Visible() }

func (c *Controller) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.send(ctx, viewReq{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.ctx.Done():
		return View{}, ErrStopped
	}
}

func (c *Controller) send(ctx context.Context, m msg) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

func (c *Controller) call(ctx context.Context, m msg, reply chan error) error {
	if err := c.send(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		if c.dirty {
			c.dirty = false
			c.push(Changed{View: c.view()})
		}
		var out chan<- Update
		var next Update
		if len(c.pending) > 0 {
			out = c.updates
			next = c.pending[0]
		}
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.inbox:
			c.handle(m)
		case n := <-c.tr.Notices():
			c.notice(n)
		case <-ticker.C:
			evs, err := c.bridge.Tick()
			if err != nil {
				c.logger.Warn("tick", zap.Error(err))
			}
			c.draftEvents(evs)
		case out <- next:
			c.pending[0] = nil
			c.pending = c.pending[1:]
		}
	}
}

func (c *Controller) handle(m msg) {
	switch m := m.(type) {
	case connectReq:
		m.reply <- c.connect(m.room)
	case closeReq:
		c.tr.Close()
		c.conn = transport.StateIdle
		c.reset("")
		c.dirty = true
		close(m.reply)
	case startReq:
		m.reply <- c.startGame(m.templateID, m.poolIDs)
	case drawReq:
		d, err := c.draw()
		m.reply <- drawResult{drawn: d, err: err}
	case placeReq:
		m.reply <- c.place(m.slot)
	case resetReq:
		m.reply <- c.requestReset()
	case viewReq:
		m.reply <- c.view()
	case loadResult:
		c.loaded(m)
	}
}

func (c *Controller) reset(room string) {
	c.room = room
	c.coord = protocol.NewCoordinator(c.logger, room)
	c.machine = draft.NewMachine(nil)
	c.bridge = bridge.New(c.logger, c.machine, c.opts.Bridge)
	c.loadGen++
	c.loading = false
	c.loadedID = 0
	c.loadedOf = nil
	c.deferred = nil
}

func (c *Controller) connect(room string) error {
	if err := c.tr.Connect(c.ctx, room); err != nil {
		return err
	}
	if c.room != room {
		c.reset(room)
		c.logger.Info("joining room", zap.String("room", room))
	}
	c.conn = transport.StateConnecting
	c.dirty = true
	return nil
}

func (c *Controller) startGame(templateID int64, poolIDs []int64) error {
	sess := c.coord.Session()
	if c.room == "" {
		return ErrNotConnected
	}
	if sess.Role != types.RoleHost {
		return ErrNotHost
	}
	return c.tr.Send(protocol.StartGame(templateID, poolIDs))
}

func (c *Controller) myTurn() bool {
	role := c.coord.Session().Role
	st := c.machine.State()
	return role != "" && st.Phase == draft.PhaseActive && protocol.PlayerFor(role) == st.Turn
}

func (c *Controller) draw() (draft.Drawn, error) {
	if c.loading || len(c.machine.Slots()) == 0 {
		return draft.Drawn{}, ErrNotLoaded
	}
	if !c.myTurn() {
		return draft.Drawn{}, c.rejected("draw", ErrNotYourTurn)
	}
	evs, err := c.machine.Apply(draft.Command{Type: draft.CmdDraw})
	if err != nil {
		return draft.Drawn{}, c.rejected("draw", err)
	}
	d := *c.machine.State().Pending
	if err := c.tr.Send(protocol.DrawCharacter(d.Entity)); err != nil {
		return draft.Drawn{}, err
	}
	c.draftEvents(evs)
	return d, nil
}

func (c *Controller) place(slot draft.SlotKey) error {
	if c.loading || len(c.machine.Slots()) == 0 {
		return ErrNotLoaded
	}
	if !c.myTurn() {
		return c.rejected("place", ErrNotYourTurn)
	}
	st := c.machine.State()
	if st.Pending == nil {
		return c.rejected("place", draft.ErrNothingPending)
	}
	id := st.Pending.Entity.ID
	evs, err := c.machine.Apply(draft.Command{Type: draft.CmdPlace, Slot: slot, EntityID: id})
	if err != nil {
		return c.rejected("place", err)
	}
	if err := c.tr.Send(protocol.PlaceCharacter(slot, id)); err != nil {
		return err
	}
	c.bridge.Observe(evs)
	c.draftEvents(evs)
	return nil
}

func (c *Controller) requestReset() error {
	if c.room == "" {
		return ErrNotConnected
	}
	return c.tr.Send(protocol.ResetGame())
}

func (c *Controller) rejected(action string, err error) error {
	c.logger.Warn("action rejected", zap.String("action", action), zap.Error(err))
	return err
}

func (c *Controller) notice(n transport.Notice) {
	switch n := n.(type) {
	case transport.Opened:
		c.conn = transport.StateOpen
		if n.Resumed {
			c.push(Reconnected{})
		}
	case transport.Frame:
		c.route(c.coord.Handle(n.Data))
	case transport.Dropped:
		c.conn = transport.StateReconnecting
	case transport.Reconnecting:
		c.conn = transport.StateReconnecting
		c.push(Reconnecting{Attempt: n.Attempt, Delay: n.Delay})
	case transport.Failed:
		c.conn = transport.StateFailed
		c.push(ConnectionFailed{Err: n.Err})
	}
	c.dirty = true
}

// route hands one coordinator event to the bridge, holding draft events
// back while the catalog is loading.
func (c *Controller) route(ev protocol.Event) {
	sess := c.coord.Session()
	switch e := ev.(type) {
	case protocol.ProtocolError:
		if e.Malformed {
			return
		}
		c.push(ServerError{Message: e.Message})
		// a rejected move means the local prediction is stale
		if len(c.machine.Slots()) > 0 && !c.loading {
			_ = c.tr.Send(protocol.RequestSync())
		}
		return
	case protocol.GameStarted:
		c.apply(ev, sess)
		c.load(e.TemplateID, e.PoolIDs)
		return
	case protocol.ConnectionEstablished:
		c.apply(ev, sess)
		if e.Snapshot != nil && !e.Snapshot.Empty() && !c.isLoaded(e.Snapshot.TemplateID, e.Snapshot.AnimePoolIDs) {
			c.load(e.Snapshot.TemplateID, e.Snapshot.AnimePoolIDs)
			c.deferred = append(c.deferred, protocol.StateSync{Snapshot: *e.Snapshot})
		}
		return
	case protocol.CharacterPlaced, protocol.CharacterDrawn, protocol.StateSync, protocol.GameReset, protocol.GameEnded:
		if c.loading {
			c.deferred = append(c.deferred, ev)
			return
		}
	}
	c.apply(ev, sess)
}

func (c *Controller) apply(ev protocol.Event, sess protocol.Session) {
	evs, err := c.bridge.Apply(ev, sess)
	switch {
	case errors.Is(err, bridge.ErrDiverged):
		c.logger.Warn("requesting resync", zap.Error(err))
		_ = c.tr.Send(protocol.RequestSync())
	case errors.Is(err, bridge.ErrNotLoaded):
		if sess.TemplateID != 0 {
			c.load(sess.TemplateID, sess.PoolIDs)
			c.deferred = append(c.deferred, ev)
		}
	case err != nil:
		c.logger.Warn("event not applied", zap.String("event", fmt.Sprintf("%T", ev)), zap.Error(err))
	}
	c.draftEvents(evs)
}

func (c *Controller) isLoaded(templateID int64, poolIDs []int64) bool {
	return c.loadedID == templateID && slices.Equal(c.loadedOf, poolIDs) && len(c.machine.Slots()) > 0
}

func (c *Controller) load(templateID int64, poolIDs []int64) {
	if c.loading && c.loadedID == templateID && slices.Equal(c.loadedOf, poolIDs) {
		return
	}
	c.loadGen++
	gen := c.loadGen
	c.loading = true
	c.loadedID = templateID
	c.loadedOf = slices.Clone(poolIDs)
	c.deferred = nil
	c.dirty = true
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.CatalogTimeout)
		defer cancel()
		res := loadResult{gen: gen}
		res.template, res.err = c.catalog.Template(ctx, templateID)
		if res.err == nil {
			res.pool, res.err = c.catalog.Pool(ctx, poolIDs)
		}
		_ = c.send(context.Background(), res)
	}()
}

func (c *Controller) loaded(m loadResult) {
	if m.gen != c.loadGen {
		return
	}
	c.loading = false
	c.dirty = true
	deferred := c.deferred
	c.deferred = nil
	if m.err != nil {
		c.logger.Error("catalog load failed", zap.Int64("template_id", c.loadedID), zap.Error(m.err))
		c.push(CatalogFailed{Err: m.err})
		return
	}
	evs, err := c.machine.Start(m.template, m.pool)
	if err != nil {
		c.logger.Error("draft start failed", zap.Error(err))
		c.push(CatalogFailed{Err: err})
		return
	}
	c.logger.Info("draft loaded", zap.String("template", m.template.Name), zap.Int("pool", len(m.pool)))
	c.draftEvents(evs)
	sess := c.coord.Session()
	for _, ev := range deferred {
		c.apply(ev, sess)
	}
}

func (c *Controller) draftEvents(evs []draft.Event) {
	if len(evs) == 0 {
		return
	}
	c.dirty = true
	for _, e := range evs {
		if e.Type == draft.EvtDraftEnded {
			c.push(Ended{Reason: e.Reason, Result: c.bridge.Result()})
		}
	}
}

func (c *Controller) push(u Update) {
	c.pending = append(c.pending, u)
}

func (c *Controller) view() View {
	return View{
		Room:         c.room,
		Connection:   c.conn,
		Session:      c.coord.Session(),
		Template:     c.machine.Template(),
		Slots:        c.machine.Slots(),
		Draft:        c.machine.State(),
		MyTurn:       c.myTurn(),
		Loading:      c.loading,
		GraceLeft:    c.bridge.GraceRemaining(),
		OpponentDraw: c.bridge.OpponentDraw(),
		Result:       c.bridge.Result(),
	}
}
