package types

// GameState is the room's authoritative draft snapshot as sent in
// connection_established.current_state and state_sync.state. Placement maps
// are keyed by slot key ("CAPTAIN-0") and hold character ids.
type GameState struct {
	Status                Status           `json:"status,omitempty"`
	TemplateID            int64            `json:"template_id,omitempty"`
	AnimePoolIDs          []int64          `json:"anime_pool_ids,omitempty"`
	CurrentTurn           Role             `json:"current_turn,omitempty"`
	HostPlacements        map[string]int64 `json:"host_placements,omitempty"`
	GuestPlacements       map[string]int64 `json:"guest_placements,omitempty"`
	RemainingCharacterIDs []int64          `json:"remaining_character_ids,omitempty"`
	SequenceNumber        int64            `json:"sequence_number,omitempty"`
	IsComplete            bool             `json:"is_complete,omitempty"`
	// EndReason is the game_ended reason once Status is completed.
	EndReason string `json:"end_reason,omitempty"`
}

// Placements returns the placement map for role.
func (s *GameState) Placements(r Role) map[string]int64 {
	if r == RoleHost {
		return s.HostPlacements
	}
	return s.GuestPlacements
}

// Empty reports whether no game has been started in the room.
func (s *GameState) Empty() bool {
	return s == nil || s.TemplateID == 0
}
