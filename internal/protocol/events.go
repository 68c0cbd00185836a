// Package protocol turns wire frames into typed events and keeps the shared
// session state both players observe.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
)

var ErrNoResults = errors.New("game ended without results")

// Event is one decoded inbound message. Exactly one Event is produced per frame.
type Event interface{ isEvent() }

type ConnectionEstablished struct {
	Role              types.Role
	RoomCode          string
	OpponentConnected bool
	Snapshot          *types.GameState
}

type PlayerJoined struct{ Role types.Role }

type PlayerLeft struct{ Role types.Role }

type PlayerReconnected struct{ Role types.Role }

type GameStarted struct {
	TemplateID int64
	PoolIDs    []int64
}

type CharacterDrawn struct {
	Character score.Entity
	Role      types.Role
}

// CharacterPlaced is the authoritative echo of a placement. Duplicate is set
// when the same opponent placement was already seen.
type CharacterPlaced struct {
	Role        types.Role
	Slot        draft.SlotKey
	CharacterID score.EntityID
	IsComplete  bool
	Duplicate   bool
}

type GameReset struct{}

type GameEnded struct {
	Reason  string
	Results json.RawMessage
}

type StateSync struct{ Snapshot types.GameState }

// ProtocolError is a server error frame, or a frame that could not be
// understood when Malformed is set.
type ProtocolError struct {
	Message   string
	Malformed bool
}

func (ConnectionEstablished) isEvent() {}
func (PlayerJoined) isEvent()          {}
func (PlayerLeft) isEvent()            {}
func (PlayerReconnected) isEvent()     {}
func (GameStarted) isEvent()           {}
func (CharacterDrawn) isEvent()        {}
func (CharacterPlaced) isEvent()       {}
func (GameReset) isEvent()             {}
func (GameEnded) isEvent()             {}
func (StateSync) isEvent()             {}
func (ProtocolError) isEvent()         {}

// Result decodes the scoring payload carried by a completed game.
func (e GameEnded) Result() (score.Result, error) {
	var r score.Result
	if len(e.Results) == 0 || string(e.Results) == "null" {
		return r, ErrNoResults
	}
	err := json.Unmarshal(e.Results, &r)
	return r, err
}
