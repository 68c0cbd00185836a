package protocol

import (
	"fmt"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
)

// PlayerFor maps a room role to its draft seat: the host always drafts first.
func PlayerFor(r types.Role) draft.Player {
	if r == types.RoleGuest {
		return draft.Player2
	}
	return draft.Player1
}

func RoleFor(p draft.Player) types.Role {
	if p == draft.Player2 {
		return types.RoleGuest
	}
	return types.RoleHost
}

// ToDraft converts a wire snapshot for draft.CmdSync. Missing remaining ids
// are left nil so the machine derives them from the pool.
func ToDraft(gs types.GameState) (draft.Snapshot, error) {
	snap := draft.Snapshot{
		Turn:        draft.Player1,
		Assignments: make(map[draft.Player]map[draft.SlotKey]score.EntityID, 2),
	}
	if gs.CurrentTurn != "" {
		if !gs.CurrentTurn.Valid() {
			return draft.Snapshot{}, fmt.Errorf("%w: turn %q", draft.ErrInvalidSnapshot, gs.CurrentTurn)
		}
		snap.Turn = PlayerFor(gs.CurrentTurn)
	}
	for _, r := range []types.Role{types.RoleHost, types.RoleGuest} {
		m := make(map[draft.SlotKey]score.EntityID)
		for raw, id := range gs.Placements(r) {
			k, err := draft.ParseSlotKey(raw)
			if err != nil {
				return draft.Snapshot{}, fmt.Errorf("%w: %v", draft.ErrInvalidSnapshot, err)
			}
			m[k] = score.EntityID(id)
		}
		snap.Assignments[PlayerFor(r)] = m
	}
	if gs.Status == types.StatusCompleted {
		snap.EndReason = gs.EndReason
		if snap.EndReason == "" {
			snap.EndReason = "ended"
			if gs.IsComplete {
				snap.EndReason = draft.EndCompleted
			}
		}
	}
	if gs.RemainingCharacterIDs != nil {
		snap.Remaining = make([]score.EntityID, 0, len(gs.RemainingCharacterIDs))
		for _, id := range gs.RemainingCharacterIDs {
			snap.Remaining = append(snap.Remaining, score.EntityID(id))
		}
	}
	return snap, nil
}

// FromDraft renders draft state as a wire snapshot.
func FromDraft(s draft.State, templateID int64, poolIDs []int64, seq int64) types.GameState {
	gs := types.GameState{
		Status:          types.StatusWaiting,
		TemplateID:      templateID,
		AnimePoolIDs:    append([]int64(nil), poolIDs...),
		HostPlacements:  placements(s.Assignments[draft.Player1]),
		GuestPlacements: placements(s.Assignments[draft.Player2]),
		SequenceNumber:  seq,
	}
	switch s.Phase {
	case draft.PhaseActive:
		gs.Status = types.StatusInProgress
	case draft.PhaseComplete, draft.PhaseResolved, draft.PhaseEnded:
		gs.Status = types.StatusCompleted
		gs.IsComplete = s.Phase != draft.PhaseEnded
		gs.EndReason = s.EndReason
	}
	if s.Phase != draft.PhaseIdle {
		gs.CurrentTurn = RoleFor(s.Turn)
		ids := s.RemainingIDs()
		gs.RemainingCharacterIDs = make([]int64, 0, len(ids))
		for _, id := range ids {
			gs.RemainingCharacterIDs = append(gs.RemainingCharacterIDs, int64(id))
		}
	}
	return gs
}

func placements(m map[draft.SlotKey]score.Entity) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, e := range m {
		out[k.String()] = int64(e.ID)
	}
	return out
}
