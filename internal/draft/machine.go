package draft

import (
	"fmt"
	"math/rand/v2"

	"github.com/DoyleJ11/anifight-draft/internal/score"
)

// Machine owns one draft. It is not safe for concurrent use; the session loop
// is its only caller.
type Machine struct {
	template score.Template
	slots    []SlotKey
	pool     []score.Entity
	byID     map[score.EntityID]score.Entity
	rng      *rand.Rand
	state    State
}

// NewMachine returns an Idle machine. A nil rng draws from the global source.
func NewMachine(rng *rand.Rand) *Machine {
	return &Machine{
		rng:   rng,
		byID:  map[score.EntityID]score.Entity{},
		state: NewEmptyState(),
	}
}

// Start loads a template and pool and begins a fresh draft at turn 1.
func (m *Machine) Start(t score.Template, pool []score.Entity) ([]Event, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	byID := make(map[score.EntityID]score.Entity, len(pool))
	for _, e := range pool {
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate character %d in pool", ErrInvalidSnapshot, e.ID)
		}
		byID[e.ID] = e
	}
	m.template = t
	m.slots = SlotsFor(t)
	m.pool = append([]score.Entity(nil), pool...)
	m.byID = byID
	m.state = m.freshState(PhaseActive)
	return []Event{{Type: EvtDraftStarted}}, nil
}

func (m *Machine) freshState(phase Phase) State {
	s := NewEmptyState()
	s.Phase = phase
	for id := range m.byID {
		s.Remaining[id] = struct{}{}
	}
	return s
}

// State returns a copy of the current draft state.
func (m *Machine) State() State { return m.state.Clone() }

func (m *Machine) Template() score.Template { return m.template }

func (m *Machine) Slots() []SlotKey { return append([]SlotKey(nil), m.slots...) }

func (m *Machine) Pool() []score.Entity { return append([]score.Entity(nil), m.pool...) }

// Entity looks up a pool member by id.
func (m *Machine) Entity(id score.EntityID) (score.Entity, bool) {
	e, ok := m.byID[id]
	return e, ok
}

// Team lists a player's assignments in template slot order.
func (m *Machine) Team(p Player) []score.Assignment {
	out := make([]score.Assignment, 0, len(m.slots))
	for _, k := range m.slots {
		if e, ok := m.state.Assignments[p][k]; ok {
			out = append(out, score.Assignment{Role: k.Role, Entity: e})
		}
	}
	return out
}

// Finalize scores the committed teams, player 1 on the left.
func (m *Machine) Finalize() (score.Result, error) {
	return score.Finalize(m.Team(Player1), m.Team(Player2), m.template, nil)
}

// Apply runs cmd against the current state. On error the state is unchanged.
func (m *Machine) Apply(cmd Command) ([]Event, error) {
	events, next, err := m.apply(m.state.Clone(), cmd)
	if err != nil {
		return nil, err
	}
	m.state = next
	return events, nil
}

func (m *Machine) apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdDraw:
		if s.Phase != PhaseActive {
			return nil, s, ErrWrongPhase
		}
		if s.Pending != nil {
			return nil, s, ErrDrawPending
		}
		ids := s.RemainingIDs()
		if len(ids) == 0 {
			return nil, s, ErrPoolExhausted
		}
		e := m.byID[ids[m.intN(len(ids))]]
		rating := score.Classify(e, m.pool)
		s.Pending = &Drawn{Entity: e, Rating: rating}
		return []Event{{Type: EvtCharacterDrawn, Player: s.Turn, Entity: e, Rating: rating}}, s, nil

	case CmdPlace:
		if s.Phase != PhaseActive {
			return nil, s, ErrWrongPhase
		}
		if s.Pending == nil {
			return nil, s, ErrNothingPending
		}
		if s.Pending.Entity.ID != cmd.EntityID {
			return nil, s, ErrPendingMismatch
		}
		return m.commit(s, s.Turn, cmd.Slot, cmd.EntityID)

	case CmdCommit:
		if s.Phase != PhaseActive && s.Phase != PhaseComplete {
			return nil, s, ErrWrongPhase
		}
		if !cmd.Player.Valid() {
			return nil, s, ErrWrongTurn
		}
		// an echo of something already committed is not a second placement
		if e, ok := s.Assignments[cmd.Player][cmd.Slot]; ok {
			if e.ID == cmd.EntityID {
				return nil, s, ErrAlreadyApplied
			}
			return nil, s, ErrSlotOccupied
		}
		if s.Phase != PhaseActive {
			return nil, s, ErrWrongPhase
		}
		if cmd.Player != s.Turn {
			return nil, s, ErrWrongTurn
		}
		return m.commit(s, cmd.Player, cmd.Slot, cmd.EntityID)

	case CmdReset:
		return []Event{{Type: EvtDraftReset}}, m.freshState(PhaseIdle), nil

	case CmdRestart:
		if len(m.slots) == 0 {
			return nil, s, ErrWrongPhase
		}
		return []Event{{Type: EvtDraftReset}, {Type: EvtDraftStarted}}, m.freshState(PhaseActive), nil

	case CmdSync:
		if len(m.slots) == 0 {
			return nil, s, ErrWrongPhase
		}
		if cmd.Snapshot == nil {
			return nil, s, ErrInvalidSnapshot
		}
		next, err := m.fromSnapshot(*cmd.Snapshot)
		if err != nil {
			return nil, s, err
		}
		events := []Event{{Type: EvtSynced}}
		switch next.Phase {
		case PhaseComplete:
			events = append(events, Event{Type: EvtDraftCompleted})
		case PhaseResolved, PhaseEnded:
			if !s.Phase.Terminal() {
				events = append(events, Event{Type: EvtDraftEnded, Reason: next.EndReason})
			}
		}
		return events, next, nil

	case CmdResolve:
		if s.Phase != PhaseComplete {
			return nil, s, ErrWrongPhase
		}
		s.Phase = PhaseResolved
		s.EndReason = EndCompleted
		return []Event{{Type: EvtDraftEnded, Reason: EndCompleted}}, s, nil

	case CmdEndEarly:
		if s.Phase != PhaseActive && s.Phase != PhaseComplete {
			return nil, s, ErrWrongPhase
		}
		s.Phase = PhaseEnded
		s.Pending = nil
		s.EndReason = cmd.Reason
		return []Event{{Type: EvtDraftEnded, Reason: cmd.Reason}}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (m *Machine) commit(s State, p Player, slot SlotKey, id score.EntityID) ([]Event, State, error) {
	if !m.hasSlot(slot) {
		return nil, s, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	if _, ok := s.Assignments[p][slot]; ok {
		return nil, s, ErrSlotOccupied
	}
	if _, ok := s.Remaining[id]; !ok {
		return nil, s, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e := m.byID[id]

	s.Assignments[p][slot] = e
	delete(s.Remaining, id)
	s.Pending = nil
	s.Turn = p.Other()

	events := []Event{
		{Type: EvtCharacterPlaced, Player: p, Slot: slot, Entity: e},
		{Type: EvtTurnAdvanced, Player: s.Turn},
	}
	if m.complete(s) {
		s.Phase = PhaseComplete
		events = append(events, Event{Type: EvtDraftCompleted})
	}
	return events, s, nil
}

func (m *Machine) complete(s State) bool {
	return s.Filled(Player1) == len(m.slots) && s.Filled(Player2) == len(m.slots)
}

func (m *Machine) hasSlot(k SlotKey) bool {
	for _, s := range m.slots {
		if s == k {
			return true
		}
	}
	return false
}

func (m *Machine) fromSnapshot(snap Snapshot) (State, error) {
	if !snap.Turn.Valid() {
		return State{}, fmt.Errorf("%w: turn %d", ErrInvalidSnapshot, snap.Turn)
	}
	s := NewEmptyState()
	s.Phase = PhaseActive
	s.Turn = snap.Turn

	used := map[score.EntityID]bool{}
	for p, slots := range snap.Assignments {
		if !p.Valid() {
			return State{}, fmt.Errorf("%w: player %d", ErrInvalidSnapshot, p)
		}
		for k, id := range slots {
			if !m.hasSlot(k) {
				return State{}, fmt.Errorf("%w: slot %s", ErrInvalidSnapshot, k)
			}
			e, ok := m.byID[id]
			if !ok {
				return State{}, fmt.Errorf("%w: character %d not in pool", ErrInvalidSnapshot, id)
			}
			if used[id] {
				return State{}, fmt.Errorf("%w: character %d assigned twice", ErrInvalidSnapshot, id)
			}
			used[id] = true
			s.Assignments[p][k] = e
		}
	}

	if snap.Remaining == nil {
		for id := range m.byID {
			if !used[id] {
				s.Remaining[id] = struct{}{}
			}
		}
	} else {
		for _, id := range snap.Remaining {
			if _, ok := m.byID[id]; !ok || used[id] {
				return State{}, fmt.Errorf("%w: remaining character %d", ErrInvalidSnapshot, id)
			}
			s.Remaining[id] = struct{}{}
		}
	}

	switch {
	case snap.EndReason == EndCompleted && m.complete(s):
		s.Phase = PhaseResolved
		s.EndReason = EndCompleted
	case snap.EndReason != "":
		s.Phase = PhaseEnded
		s.EndReason = snap.EndReason
	case m.complete(s):
		s.Phase = PhaseComplete
	}
	return s, nil
}

func (m *Machine) intN(n int) int {
	if m.rng != nil {
		return m.rng.IntN(n)
	}
	return rand.IntN(n)
}
