// Package lobby runs one relay room: two seats, the authoritative draft and
// the fan-out of every accepted action to both players.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/protocol"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"go.uber.org/zap"
)

var ErrRoomFull = errors.New("room is full")

type Msg interface{ isLobbyMsg() }

// Join seats a connection. Token identifies the same player across sockets.
type Join struct {
	Token  string
	Outbox chan []byte
	Reply  chan JoinResult
}

type JoinResult struct {
	Role types.Role
	Err  error
}

// Leave is ignored unless Outbox is still the seat's current connection.
type Leave struct {
	Role   types.Role
	Outbox chan []byte
}

type FromClient struct {
	Role types.Role
	Msg  wire.ClientMessage
}

type Shutdown struct{}

type GetState struct {
	Reply chan View
}

type loaded struct {
	gen      uint64
	template score.Template
	pool     []score.Entity
	err      error
}

type tick struct{}

func (Join) isLobbyMsg()       {}
func (Leave) isLobbyMsg()      {}
func (FromClient) isLobbyMsg() {}
func (Shutdown) isLobbyMsg()   {}
func (GetState) isLobbyMsg()   {}
func (loaded) isLobbyMsg()     {}
func (tick) isLobbyMsg()       {}

type View struct {
	Code      string
	Connected map[types.Role]bool
	State     types.GameState
}

type Config struct {
	Logger       *zap.Logger
	Catalog      catalog.Catalog
	PingInterval time.Duration
	TickInterval time.Duration
	GraceTicks   int
	IdleTimeout  time.Duration
	// OnClose runs once when the room stops.
	OnClose func(code string)
}

type seat struct {
	token     string
	outbox    chan []byte
	seen      bool
	graceLeft int
	// drawn is the character announced by draw_character, 0 when none.
	drawn score.EntityID
}

type Lobby struct {
	code   string
	cfg    Config
	logger *zap.Logger
	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc

	seats      map[types.Role]*seat
	machine    *draft.Machine
	templateID int64
	poolIDs    []int64
	loadGen    uint64
	loading    bool
	seq        int64
	idleSince  time.Time
}

func NewLobby(parent context.Context, code string, cfg Config) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.GraceTicks <= 0 {
		cfg.GraceTicks = 10
	}
	l := &Lobby{
		code:   code,
		cfg:    cfg,
		logger: cfg.Logger.Named("lobby").With(zap.String("room", code)),
		inbox:  make(chan Msg, 64),
		ctx:    ctx,
		cancel: cancel,
		seats: map[types.Role]*seat{
			types.RoleHost:  {},
			types.RoleGuest: {},
		},
		machine:   draft.NewMachine(nil),
		idleSince: time.Now(),
	}
	go l.loop()
	return l
}

// Inbox is how the ws layer and tests talk to the room.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) loop() {
	ping := time.NewTicker(l.cfg.PingInterval)
	defer ping.Stop()
	ticks := time.NewTicker(l.cfg.TickInterval)
	defer ticks.Stop()

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case <-ping.C:
			ts, _ := json.Marshal(time.Now().UTC().Format(time.RFC3339Nano))
			l.broadcast(wire.ServerMessage{Type: types.MsgPing, Timestamp: ts}, "")

		case <-ticks.C:
			l.handle(tick{})
			if l.idle() {
				l.logger.Info("closing idle room")
				l.shutdown()
				return
			}

		case m := <-l.inbox:
			if _, stop := m.(Shutdown); stop {
				l.shutdown()
				return
			}
			l.handle(m)
		}
	}
}

func (l *Lobby) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		msg.Reply <- l.join(msg)

	case Leave:
		s := l.seats[msg.Role]
		if s == nil || s.outbox != msg.Outbox || s.outbox == nil {
			break
		}
		l.disconnect(msg.Role)

	case FromClient:
		l.fromClient(msg.Role, msg.Msg)

	case loaded:
		l.loaded(msg)

	case tick:
		l.tick()

	case GetState:
		msg.Reply <- View{
			Code: l.code,
			Connected: map[types.Role]bool{
				types.RoleHost:  l.seats[types.RoleHost].outbox != nil,
				types.RoleGuest: l.seats[types.RoleGuest].outbox != nil,
			},
			State: l.state(),
		}
	}
}

func (l *Lobby) join(msg Join) JoinResult {
	role, ok := l.seatFor(msg.Token)
	if !ok {
		return JoinResult{Err: ErrRoomFull}
	}
	s := l.seats[role]
	if s.outbox != nil && s.outbox != msg.Outbox {
		// the player opened a new socket before the old one was noticed dead
		close(s.outbox)
	}
	s.token = msg.Token
	s.outbox = msg.Outbox
	s.graceLeft = 0
	returning := s.seen
	s.seen = true

	st := l.state()
	l.send(role, wire.ServerMessage{
		Type:              types.MsgConnectionEstablished,
		PlayerRole:        role,
		RoomCode:          l.code,
		OpponentConnected: l.seats[role.Opponent()].outbox != nil,
		CurrentState:      &st,
	})
	kind := types.MsgPlayerJoined
	if returning {
		kind = types.MsgPlayerReconnected
	}
	l.broadcast(wire.ServerMessage{Type: kind, PlayerRole: role}, role)
	l.logger.Info("player connected", zap.String("role", string(role)), zap.Bool("returning", returning))
	return JoinResult{Role: role}
}

func (l *Lobby) seatFor(token string) (types.Role, bool) {
	for _, r := range []types.Role{types.RoleHost, types.RoleGuest} {
		if token != "" && l.seats[r].token == token {
			return r, true
		}
	}
	for _, r := range []types.Role{types.RoleHost, types.RoleGuest} {
		if !l.seats[r].seen {
			return r, true
		}
	}
	return "", false
}

func (l *Lobby) disconnect(role types.Role) {
	s := l.seats[role]
	close(s.outbox)
	s.outbox = nil
	if l.inPlay() {
		s.graceLeft = l.cfg.GraceTicks
	}
	if l.empty() {
		l.idleSince = time.Now()
	}
	l.broadcast(wire.ServerMessage{Type: types.MsgPlayerDisconnected, PlayerRole: role}, role)
	l.logger.Info("player disconnected", zap.String("role", string(role)))
}

func (l *Lobby) fromClient(role types.Role, m wire.ClientMessage) {
	switch m.Type {
	case types.MsgPong:
	case types.MsgStartGame:
		l.startGame(role, m)
	case types.MsgDrawCharacter:
		l.drawCharacter(role, m)
	case types.MsgPlaceCharacter:
		l.placeCharacter(role, m)
	case types.MsgResetGame:
		l.resetGame(role)
	case types.MsgRequestSync:
		st := l.state()
		l.send(role, wire.ServerMessage{Type: types.MsgStateSync, State: &st})
	default:
		l.logger.Warn("unknown message type", zap.String("type", m.Type))
		l.sendError(role, "Unknown message type")
	}
}

func (l *Lobby) startGame(role types.Role, m wire.ClientMessage) {
	if role != types.RoleHost {
		l.sendError(role, "Only host can start the game")
		return
	}
	if m.TemplateID == 0 || len(m.AnimePoolIDs) == 0 {
		l.sendError(role, "template_id and anime_pool_ids are required")
		return
	}
	l.loadGen++
	gen := l.loadGen
	l.loading = true
	templateID, poolIDs := m.TemplateID, append([]int64(nil), m.AnimePoolIDs...)
	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
		defer cancel()
		res := loaded{gen: gen}
		res.template, res.err = l.cfg.Catalog.Template(ctx, templateID)
		if res.err == nil {
			res.pool, res.err = l.cfg.Catalog.Pool(ctx, poolIDs)
		}
		select {
		case l.inbox <- res:
		case <-l.ctx.Done():
		}
	}()
	l.templateID = templateID
	l.poolIDs = poolIDs
}

func (l *Lobby) loaded(m loaded) {
	if m.gen != l.loadGen {
		return
	}
	l.loading = false
	if m.err != nil {
		l.logger.Warn("start failed", zap.Error(m.err))
		l.sendError(types.RoleHost, "Could not load template or pool")
		return
	}
	if _, err := l.machine.Start(m.template, m.pool); err != nil {
		l.sendError(types.RoleHost, err.Error())
		return
	}
	l.clearDraws()
	l.seq++
	l.broadcast(wire.ServerMessage{Type: types.MsgGameStarted, TemplateID: l.templateID, AnimePoolIDs: l.poolIDs}, "")
}

func (l *Lobby) drawCharacter(role types.Role, m wire.ClientMessage) {
	st := l.machine.State()
	if st.Phase != draft.PhaseActive {
		l.sendError(role, "Game is not in progress")
		return
	}
	if protocol.PlayerFor(role) != st.Turn {
		l.sendError(role, "Not your turn")
		return
	}
	if m.Character == nil {
		l.sendError(role, "character is required")
		return
	}
	if _, ok := st.Remaining[m.Character.ID]; !ok {
		l.sendError(role, "Character not available")
		return
	}
	// clients pick from the shared pool; the room only announces
	e, _ := l.machine.Entity(m.Character.ID)
	l.seats[role].drawn = e.ID
	l.seq++
	l.broadcast(wire.ServerMessage{Type: types.MsgCharacterDrawn, Character: &e, PlayerRole: role}, "")
}

func (l *Lobby) placeCharacter(role types.Role, m wire.ClientMessage) {
	slot, err := draft.ParseSlotKey(m.RoleName)
	if err != nil {
		l.sendError(role, "Invalid role_name")
		return
	}
	player := protocol.PlayerFor(role)
	id := score.EntityID(m.CharacterID)
	if e, ok := l.machine.State().Assignments[player][slot]; ok && e.ID == id {
		// resent after a reconnect
		return
	}
	if s := l.seats[role]; s.drawn == 0 || s.drawn != id {
		l.sendError(role, "Place the character you drew")
		return
	}
	evs, err := l.machine.Apply(draft.Command{
		Type:     draft.CmdCommit,
		Player:   player,
		Slot:     slot,
		EntityID: id,
	})
	switch {
	case errors.Is(err, draft.ErrAlreadyApplied):
		return
	case errors.Is(err, draft.ErrWrongTurn):
		l.sendError(role, "Not your turn")
		return
	case err != nil:
		l.sendError(role, err.Error())
		return
	}
	l.seats[role].drawn = 0
	l.seq++
	complete := draft.ContainsEvent(evs, draft.EvtDraftCompleted)
	l.broadcast(wire.ServerMessage{
		Type:        types.MsgCharacterPlaced,
		PlayerRole:  role,
		RoleName:    slot.String(),
		CharacterID: m.CharacterID,
		IsComplete:  complete,
	}, "")
	if complete {
		l.finish()
	}
}

func (l *Lobby) finish() {
	res, err := l.machine.Finalize()
	if err != nil {
		l.logger.Error("scoring failed", zap.Error(err))
		return
	}
	if _, err := l.machine.Apply(draft.Command{Type: draft.CmdResolve}); err != nil {
		l.logger.Error("resolve failed", zap.Error(err))
		return
	}
	raw, _ := json.Marshal(res)
	l.seq++
	l.broadcast(wire.ServerMessage{Type: types.MsgGameEnded, Reason: draft.EndCompleted, Results: raw}, "")
	l.logger.Info("game completed", zap.String("winner", string(res.Winner)))
}

func (l *Lobby) resetGame(role types.Role) {
	if _, err := l.machine.Apply(draft.Command{Type: draft.CmdRestart}); err != nil {
		l.sendError(role, "No game to reset")
		return
	}
	for _, s := range l.seats {
		s.graceLeft = 0
	}
	l.clearDraws()
	l.seq++
	l.broadcast(wire.ServerMessage{Type: types.MsgGameReset}, "")
}

func (l *Lobby) tick() {
	for role, s := range l.seats {
		if s.graceLeft == 0 {
			continue
		}
		s.graceLeft--
		if s.graceLeft > 0 || !l.inPlay() {
			continue
		}
		if _, err := l.machine.Apply(draft.Command{Type: draft.CmdEndEarly, Reason: draft.EndOpponentDisconnected}); err != nil {
			continue
		}
		l.seq++
		l.broadcast(wire.ServerMessage{Type: types.MsgGameEnded, Reason: draft.EndOpponentDisconnected}, "")
		l.logger.Info("game ended, player did not return", zap.String("role", string(role)))
	}
}

func (l *Lobby) clearDraws() {
	for _, s := range l.seats {
		s.drawn = 0
	}
}

func (l *Lobby) inPlay() bool {
	p := l.machine.State().Phase
	return p == draft.PhaseActive || p == draft.PhaseComplete
}

func (l *Lobby) empty() bool {
	return l.seats[types.RoleHost].outbox == nil && l.seats[types.RoleGuest].outbox == nil
}

func (l *Lobby) idle() bool {
	return l.cfg.IdleTimeout > 0 && l.empty() && time.Since(l.idleSince) > l.cfg.IdleTimeout
}

func (l *Lobby) state() types.GameState {
	return protocol.FromDraft(l.machine.State(), l.templateID, l.poolIDs, l.seq)
}

func (l *Lobby) sendError(role types.Role, message string) {
	l.send(role, wire.ServerMessage{Type: types.MsgError, Message: message})
}

func (l *Lobby) send(role types.Role, m wire.ServerMessage) {
	s := l.seats[role]
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		l.logger.Error("encode", zap.Error(err))
		return
	}
	select {
	case s.outbox <- payload:
	default:
		// slow client; its socket goes and it will reconnect
		l.logger.Warn("dropping slow client", zap.String("role", string(role)))
		l.disconnect(role)
	}
}

// broadcast sends m to every connected seat except skip.
func (l *Lobby) broadcast(m wire.ServerMessage, skip types.Role) {
	for _, r := range []types.Role{types.RoleHost, types.RoleGuest} {
		if r != skip {
			l.send(r, m)
		}
	}
}

func (l *Lobby) shutdown() {
	for _, s := range l.seats {
		if s.outbox != nil {
			close(s.outbox)
			s.outbox = nil
		}
	}
	l.cancel()
	if l.cfg.OnClose != nil {
		l.cfg.OnClose(l.code)
		l.cfg.OnClose = nil
	}
}
