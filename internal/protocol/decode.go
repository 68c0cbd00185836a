package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
)

// Decode maps one frame to its Event. It never fails: anything it cannot
// read comes back as a malformed ProtocolError.
func Decode(data []byte) Event {
	var m wire.ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return malformed("bad json: %v", err)
	}
	switch m.Type {
	case types.MsgConnectionEstablished:
		if !m.PlayerRole.Valid() {
			return malformed("connection_established: bad player_role %q", m.PlayerRole)
		}
		return ConnectionEstablished{
			Role:              m.PlayerRole,
			RoomCode:          m.RoomCode,
			OpponentConnected: m.OpponentConnected,
			Snapshot:          m.CurrentState,
		}
	case types.MsgPlayerJoined:
		return PlayerJoined{Role: m.PlayerRole}
	case types.MsgPlayerDisconnected:
		return PlayerLeft{Role: m.PlayerRole}
	case types.MsgPlayerReconnected:
		return PlayerReconnected{Role: m.PlayerRole}
	case types.MsgGameStarted:
		if m.TemplateID == 0 {
			return malformed("game_started: missing template_id")
		}
		return GameStarted{TemplateID: m.TemplateID, PoolIDs: m.AnimePoolIDs}
	case types.MsgCharacterDrawn:
		if m.Character == nil {
			return malformed("character_drawn: missing character")
		}
		return CharacterDrawn{Character: *m.Character, Role: m.PlayerRole}
	case types.MsgCharacterPlaced:
		if !m.PlayerRole.Valid() {
			return malformed("character_placed: bad player_role %q", m.PlayerRole)
		}
		slot, err := draft.ParseSlotKey(m.RoleName)
		if err != nil {
			return malformed("character_placed: %v", err)
		}
		return CharacterPlaced{
			Role:        m.PlayerRole,
			Slot:        slot,
			CharacterID: score.EntityID(m.CharacterID),
			IsComplete:  m.IsComplete,
		}
	case types.MsgGameReset:
		return GameReset{}
	case types.MsgGameEnded:
		return GameEnded{Reason: m.Reason, Results: m.Results}
	case types.MsgStateSync:
		if m.State == nil {
			return malformed("state_sync: missing state")
		}
		return StateSync{Snapshot: *m.State}
	case types.MsgError:
		return ProtocolError{Message: m.Message}
	default:
		return malformed("unknown message type %q", m.Type)
	}
}

func malformed(format string, args ...any) ProtocolError {
	return ProtocolError{Message: fmt.Sprintf(format, args...), Malformed: true}
}
