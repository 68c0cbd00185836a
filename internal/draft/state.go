package draft

import (
	"slices"

	"github.com/DoyleJ11/anifight-draft/internal/score"
)

func NewEmptyState() State {
	return State{
		Phase: PhaseIdle,
		Turn:  Player1,
		Assignments: map[Player]map[SlotKey]score.Entity{
			Player1: {},
			Player2: {},
		},
		Remaining: map[score.EntityID]struct{}{},
	}
}

// Clone deep-copies the maps so a failed transition never leaks into s.
func (s State) Clone() State {
	c := s
	c.Assignments = map[Player]map[SlotKey]score.Entity{
		Player1: {},
		Player2: {},
	}
	for p, slots := range s.Assignments {
		for k, e := range slots {
			c.Assignments[p][k] = e
		}
	}
	c.Remaining = make(map[score.EntityID]struct{}, len(s.Remaining))
	for id := range s.Remaining {
		c.Remaining[id] = struct{}{}
	}
	if s.Pending != nil {
		d := *s.Pending
		c.Pending = &d
	}
	return c
}

// RemainingIDs returns the remaining pool in ascending id order.
func (s State) RemainingIDs() []score.EntityID {
	ids := make([]score.EntityID, 0, len(s.Remaining))
	for id := range s.Remaining {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Filled counts a player's committed slots.
func (s State) Filled(p Player) int {
	return len(s.Assignments[p])
}

func (s State) owner(id score.EntityID) (Player, SlotKey, bool) {
	for _, p := range []Player{Player1, Player2} {
		for k, e := range s.Assignments[p] {
			if e.ID == id {
				return p, k, true
			}
		}
	}
	return 0, SlotKey{}, false
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
