package protocol

import (
	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"go.uber.org/zap"
)

// Session is the state both clients share about a room.
type Session struct {
	RoomCode        string
	Role            types.Role
	OpponentPresent bool
	// OpponentSeen is set once the opponent has been connected at least once.
	OpponentSeen bool
	Status       types.Status
	TemplateID   int64
	PoolIDs      []int64
	Snapshot     *types.GameState
}

// Coordinator folds inbound frames into Session. It is not safe for
// concurrent use; the session controller owns it.
type Coordinator struct {
	logger   *zap.Logger
	session  Session
	opponent map[draft.SlotKey]score.EntityID
}

func NewCoordinator(logger *zap.Logger, roomCode string) *Coordinator {
	return &Coordinator{
		logger:   logger.Named("protocol").With(zap.String("room", roomCode)),
		session:  Session{RoomCode: roomCode, Status: types.StatusWaiting},
		opponent: make(map[draft.SlotKey]score.EntityID),
	}
}

func (c *Coordinator) Session() Session {
	s := c.session
	s.PoolIDs = append([]int64(nil), s.PoolIDs...)
	return s
}

// Handle decodes one frame, applies it to the session and returns its event.
func (c *Coordinator) Handle(data []byte) Event {
	ev := Decode(data)
	return c.Apply(ev)
}

// Apply updates the session for ev. CharacterPlaced may come back marked
// as a duplicate; every other event is returned unchanged.
func (c *Coordinator) Apply(ev Event) Event {
	switch e := ev.(type) {
	case ConnectionEstablished:
		c.established(e)
	case PlayerJoined:
		c.opponentPresent(e.Role, true)
	case PlayerReconnected:
		c.opponentPresent(e.Role, true)
	case PlayerLeft:
		c.opponentPresent(e.Role, false)
	case GameStarted:
		c.session.Status = types.StatusInProgress
		c.session.TemplateID = e.TemplateID
		c.session.PoolIDs = append([]int64(nil), e.PoolIDs...)
		clear(c.opponent)
	case CharacterPlaced:
		if e.Role != c.session.Role {
			if prev, ok := c.opponent[e.Slot]; ok && prev == e.CharacterID {
				e.Duplicate = true
			}
			c.opponent[e.Slot] = e.CharacterID
		}
		return e
	case GameReset:
		c.session.Status = types.StatusInProgress
		clear(c.opponent)
	case GameEnded:
		c.session.Status = types.StatusCompleted
	case StateSync:
		snap := e.Snapshot
		c.adopt(&snap)
	case ProtocolError:
		if e.Malformed {
			c.logger.Warn("dropped malformed message", zap.String("error", e.Message))
		} else {
			c.logger.Warn("server error", zap.String("message", e.Message))
		}
	}
	return ev
}

func (c *Coordinator) established(e ConnectionEstablished) {
	switch {
	case c.session.Role == "":
		c.session.Role = e.Role
	case c.session.Role != e.Role:
		c.logger.Warn("server reassigned role, keeping original",
			zap.String("role", string(c.session.Role)), zap.String("offered", string(e.Role)))
	}
	if e.OpponentConnected {
		c.session.OpponentPresent = true
		c.session.OpponentSeen = true
	}
	c.adopt(e.Snapshot)
	c.logger.Info("connected", zap.String("role", string(c.session.Role)), zap.String("status", string(c.session.Status)))
}

func (c *Coordinator) opponentPresent(r types.Role, present bool) {
	if r != "" && r == c.session.Role {
		return
	}
	c.session.OpponentPresent = present
	if present {
		c.session.OpponentSeen = true
	}
}

func (c *Coordinator) adopt(snap *types.GameState) {
	c.session.Snapshot = snap
	if snap.Empty() {
		return
	}
	if snap.Status != "" {
		c.session.Status = snap.Status
	}
	c.session.TemplateID = snap.TemplateID
	c.session.PoolIDs = append([]int64(nil), snap.AnimePoolIDs...)
	clear(c.opponent)
	if c.session.Role == "" {
		return
	}
	for raw, id := range snap.Placements(c.session.Role.Opponent()) {
		slot, err := draft.ParseSlotKey(raw)
		if err != nil {
			continue
		}
		c.opponent[slot] = score.EntityID(id)
	}
}
