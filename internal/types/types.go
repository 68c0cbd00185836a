package types

import (
	"encoding/json"

	"github.com/DoyleJ11/anifight-draft/internal/score"
	wire "github.com/DoyleJ11/anifight-draft/pkg/types"
)

// ClientMessage is every client -> server frame; Type selects which fields apply.
type ClientMessage struct {
	Type         string          `json:"type"`
	TemplateID   int64           `json:"template_id,omitempty"`
	AnimePoolIDs []int64         `json:"anime_pool_ids,omitempty"`
	Character    *score.Entity   `json:"character,omitempty"`
	RoleName     string          `json:"role_name,omitempty"`
	CharacterID  int64           `json:"character_id,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
}

// ServerMessage is every server -> client frame.
type ServerMessage struct {
	Type              string          `json:"type"`
	PlayerRole        wire.Role       `json:"player_role,omitempty"`
	RoomCode          string          `json:"room_code,omitempty"`
	OpponentConnected bool            `json:"opponent_connected,omitempty"`
	CurrentState      *wire.GameState `json:"current_state,omitempty"`
	TemplateID        int64           `json:"template_id,omitempty"`
	AnimePoolIDs      []int64         `json:"anime_pool_ids,omitempty"`
	Character         *score.Entity   `json:"character,omitempty"`
	RoleName          string          `json:"role_name,omitempty"`
	CharacterID       int64           `json:"character_id,omitempty"`
	IsComplete        bool            `json:"is_complete,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	Results           json.RawMessage `json:"results,omitempty"`
	State             *wire.GameState `json:"state,omitempty"`
	Message           string          `json:"message,omitempty"`
	Timestamp         json.RawMessage `json:"timestamp,omitempty"`
}
