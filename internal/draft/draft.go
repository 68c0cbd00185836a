// Package draft is the turn-based draft state machine. It owns turn order,
// both players' slot assignments, the remaining pool and the pending draw.
// It knows nothing about which player is local; callers check turn ownership.
package draft

import (
	"errors"

	"github.com/DoyleJ11/anifight-draft/internal/score"
)

var ErrWrongPhase = errors.New("action not allowed in current phase")
var ErrWrongTurn = errors.New("invalid turn")
var ErrDrawPending = errors.New("drawn character not placed yet")
var ErrPoolExhausted = errors.New("no characters remaining")
var ErrNothingPending = errors.New("nothing drawn")
var ErrPendingMismatch = errors.New("character does not match pending draw")
var ErrSlotOccupied = errors.New("slot already filled")
var ErrUnknownSlot = errors.New("unknown slot")
var ErrUnknownEntity = errors.New("character not in remaining pool")
var ErrAlreadyApplied = errors.New("placement already applied")
var ErrInvalidSnapshot = errors.New("invalid snapshot")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Player int

const (
	Player1 Player = 1
	Player2 Player = 2
)

func (p Player) Other() Player {
	if p == Player1 {
		return Player2
	}
	return Player1
}

func (p Player) Valid() bool { return p == Player1 || p == Player2 }

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseComplete Phase = "complete"
	PhaseResolved Phase = "resolved"
	PhaseEnded    Phase = "ended"
)

// Terminal reports whether no further moves can happen.
func (p Phase) Terminal() bool { return p == PhaseResolved || p == PhaseEnded }

// Terminal end reasons.
const (
	EndCompleted            = "completed"
	EndOpponentDisconnected = "opponent_disconnected"
)

// Drawn is a character that has been drawn but not yet placed.
type Drawn struct {
	Entity score.Entity
	Rating score.Rating
}

type State struct {
	Phase       Phase
	Turn        Player
	Pending     *Drawn
	Assignments map[Player]map[SlotKey]score.Entity
	Remaining   map[score.EntityID]struct{}
	EndReason   string
}

type CommandType string

const (
	CmdDraw     CommandType = "Draw"
	CmdPlace    CommandType = "Place"
	CmdCommit   CommandType = "Commit"
	CmdReset    CommandType = "Reset"
	CmdRestart  CommandType = "Restart"
	CmdSync     CommandType = "Sync"
	CmdResolve  CommandType = "Resolve"
	CmdEndEarly CommandType = "EndEarly"
)

// Command is one requested transition.
//
//	CmdDraw     -> EvtCharacterDrawn
//	CmdPlace    -> EvtCharacterPlaced -> EvtTurnAdvanced (-> EvtDraftCompleted)
//	CmdCommit   -> same as CmdPlace, for a placement made elsewhere
//	CmdReset    -> EvtDraftReset
//	CmdRestart  -> EvtDraftReset -> EvtDraftStarted
//	CmdSync     -> EvtSynced (-> EvtDraftCompleted)
//	CmdResolve  -> EvtDraftEnded
//	CmdEndEarly -> EvtDraftEnded
type Command struct {
	Type     CommandType
	Player   Player
	Slot     SlotKey
	EntityID score.EntityID
	Snapshot *Snapshot
	Reason   string
}

type EventType string

const (
	EvtDraftStarted    EventType = "DraftStarted"
	EvtCharacterDrawn  EventType = "CharacterDrawn"
	EvtCharacterPlaced EventType = "CharacterPlaced"
	EvtTurnAdvanced    EventType = "TurnAdvanced"
	EvtDraftCompleted  EventType = "DraftCompleted"
	EvtDraftReset      EventType = "DraftReset"
	EvtSynced          EventType = "Synced"
	EvtDraftEnded      EventType = "DraftEnded"
)

type Event struct {
	Type   EventType
	Player Player
	Slot   SlotKey
	Entity score.Entity
	Rating score.Rating
	Reason string
}

// Snapshot is an authoritative whole-draft replacement. A nil Remaining is
// derived as the pool minus every assigned character.
type Snapshot struct {
	Turn        Player
	Assignments map[Player]map[SlotKey]score.EntityID
	Remaining   []score.EntityID
	// EndReason is set when the room has already finished the draft. A
	// completed full board comes back Resolved, anything else Ended.
	EndReason string
}
