// Package bridge reconciles authoritative room events with the local draft.
//
// Local actions are predicted on the machine first; their echoes come back as
// protocol events and must land as no-ops. Opponent actions are committed on
// arrival. The bridge also runs the opponent-loss grace countdown and the
// short pause between completion and the final result.
package bridge

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/protocol"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"go.uber.org/zap"
)

// ErrDiverged means a remote event contradicts local state; a resync is due.
var ErrDiverged = errors.New("local draft diverged from room")

var ErrNotLoaded = errors.New("draft template not loaded")

const (
	DefaultGraceTicks      = 10
	DefaultCompletionTicks = 1
)

type Options struct {
	// GraceTicks is how long a departed opponent has to come back.
	GraceTicks int
	// CompletionTicks is the pause between a full board and the final result.
	CompletionTicks int
	Match           score.Matcher
}

// OpponentDraw is what the other player currently has in hand.
type OpponentDraw struct {
	Entity score.Entity
	Rating score.Rating
}

type Bridge struct {
	logger  *zap.Logger
	machine *draft.Machine
	opts    Options

	role         types.Role
	graceLeft    int
	completeIn   int
	opponentDraw *OpponentDraw
	result       *score.Result
}

func New(logger *zap.Logger, m *draft.Machine, opts Options) *Bridge {
	if opts.GraceTicks <= 0 {
		opts.GraceTicks = DefaultGraceTicks
	}
	if opts.CompletionTicks <= 0 {
		opts.CompletionTicks = DefaultCompletionTicks
	}
	return &Bridge{logger: logger.Named("bridge"), machine: m, opts: opts}
}

// Apply folds one coordinator event into the draft. Events that do not touch
// draft state return no draft events.
func (b *Bridge) Apply(ev protocol.Event, sess protocol.Session) ([]draft.Event, error) {
	b.role = sess.Role
	switch e := ev.(type) {
	case protocol.CharacterPlaced:
		return b.placed(e)
	case protocol.CharacterDrawn:
		b.drawn(e)
	case protocol.StateSync:
		return b.sync(e.Snapshot)
	case protocol.ConnectionEstablished:
		if e.Snapshot != nil && !e.Snapshot.Empty() && b.loaded() {
			return b.sync(*e.Snapshot)
		}
		if e.OpponentConnected {
			b.cancelGrace()
		}
	case protocol.GameStarted:
		b.clearRound()
	case protocol.GameReset:
		return b.restart()
	case protocol.GameEnded:
		return b.ended(e)
	case protocol.PlayerLeft:
		if e.Role != b.role {
			b.startGrace(sess)
		}
	case protocol.PlayerJoined, protocol.PlayerReconnected:
		b.cancelGrace()
	}
	return nil, nil
}

// Tick advances the grace and completion countdowns by one unit.
func (b *Bridge) Tick() ([]draft.Event, error) {
	var out []draft.Event
	if b.graceLeft > 0 {
		b.graceLeft--
		if b.graceLeft == 0 {
			b.logger.Info("opponent did not return, ending draft")
			evs, err := b.machine.Apply(draft.Command{Type: draft.CmdEndEarly, Reason: draft.EndOpponentDisconnected})
			if err != nil {
				return nil, err
			}
			b.completeIn = 0
			out = append(out, evs...)
		}
	}
	if b.completeIn > 0 {
		b.completeIn--
		if b.completeIn == 0 {
			evs, err := b.resolve()
			if err != nil {
				return out, err
			}
			out = append(out, evs...)
		}
	}
	return out, nil
}

// Observe lets the bridge react to events from local actions, so a local
// move that fills the board starts the completion pause too.
func (b *Bridge) Observe(events []draft.Event) {
	if draft.ContainsEvent(events, draft.EvtDraftCompleted) {
		b.armCompletion()
	}
}

func (b *Bridge) GraceRemaining() int { return b.graceLeft }

func (b *Bridge) OpponentDraw() *OpponentDraw {
	if b.opponentDraw == nil {
		return nil
	}
	d := *b.opponentDraw
	return &d
}

// Result is the final score once the draft has resolved.
func (b *Bridge) Result() *score.Result {
	if b.result == nil {
		return nil
	}
	r := *b.result
	return &r
}

func (b *Bridge) loaded() bool { return len(b.machine.Slots()) > 0 }

func (b *Bridge) placed(e protocol.CharacterPlaced) ([]draft.Event, error) {
	if e.Duplicate {
		return nil, nil
	}
	if !b.loaded() {
		return nil, ErrNotLoaded
	}
	player := protocol.PlayerFor(e.Role)
	evs, err := b.machine.Apply(draft.Command{Type: draft.CmdCommit, Player: player, Slot: e.Slot, EntityID: e.CharacterID})
	switch {
	case errors.Is(err, draft.ErrAlreadyApplied):
		return nil, nil
	case err != nil:
		b.logger.Warn("placement rejected",
			zap.String("player_role", string(e.Role)),
			zap.Stringer("slot", e.Slot),
			zap.Int64("character_id", int64(e.CharacterID)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDiverged, err)
	}
	if e.Role != b.role {
		b.opponentDraw = nil
	}
	b.Observe(evs)
	return evs, nil
}

func (b *Bridge) drawn(e protocol.CharacterDrawn) {
	if e.Role == b.role {
		return
	}
	b.opponentDraw = &OpponentDraw{Entity: e.Character, Rating: score.Classify(e.Character, b.machine.Pool())}
}

func (b *Bridge) sync(gs types.GameState) ([]draft.Event, error) {
	if !b.loaded() {
		return nil, ErrNotLoaded
	}
	snap, err := protocol.ToDraft(gs)
	if err != nil {
		return nil, err
	}
	evs, err := b.machine.Apply(draft.Command{Type: draft.CmdSync, Snapshot: &snap})
	if err != nil {
		b.logger.Warn("snapshot rejected", zap.Int64("sequence", gs.SequenceNumber), zap.Error(err))
		return nil, err
	}
	b.opponentDraw = nil
	b.completeIn = 0
	switch b.machine.State().Phase {
	case draft.PhaseResolved:
		b.cancelGrace()
		if b.result == nil {
			r, err := b.finalize()
			if err != nil {
				return evs, err
			}
			b.result = &r
		}
	case draft.PhaseEnded:
		b.cancelGrace()
	}
	b.Observe(evs)
	return evs, nil
}

func (b *Bridge) restart() ([]draft.Event, error) {
	if !b.loaded() {
		return nil, ErrNotLoaded
	}
	b.clearRound()
	return b.machine.Apply(draft.Command{Type: draft.CmdRestart})
}

func (b *Bridge) ended(e protocol.GameEnded) ([]draft.Event, error) {
	b.cancelGrace()
	b.completeIn = 0
	phase := b.machine.State().Phase
	if phase == draft.PhaseResolved || phase == draft.PhaseEnded {
		return nil, nil
	}
	if e.Reason == draft.EndCompleted && phase == draft.PhaseComplete {
		if r, err := e.Result(); err == nil {
			b.compareResult(r)
		}
		return b.resolve()
	}
	reason := e.Reason
	if reason == "" {
		reason = "ended"
	}
	return b.machine.Apply(draft.Command{Type: draft.CmdEndEarly, Reason: reason})
}

func (b *Bridge) resolve() ([]draft.Event, error) {
	if b.result == nil {
		r, err := b.finalize()
		if err != nil {
			return nil, err
		}
		b.result = &r
	}
	return b.machine.Apply(draft.Command{Type: draft.CmdResolve})
}

// compareResult keeps the local computation and logs a remote disagreement.
func (b *Bridge) compareResult(remote score.Result) {
	local, err := b.finalize()
	if err != nil {
		return
	}
	if local.Winner != remote.Winner || local.Left.Total != remote.Left.Total || local.Right.Total != remote.Right.Total {
		b.logger.Warn("room result differs from local score",
			zap.Stringer("local_left", local.Left.Total), zap.Stringer("remote_left", remote.Left.Total),
			zap.Stringer("local_right", local.Right.Total), zap.Stringer("remote_right", remote.Right.Total))
	}
	b.result = &local
}

func (b *Bridge) finalize() (score.Result, error) {
	return score.Finalize(b.machine.Team(draft.Player1), b.machine.Team(draft.Player2), b.machine.Template(), b.opts.Match)
}

func (b *Bridge) startGrace(sess protocol.Session) {
	if !sess.OpponentSeen {
		return
	}
	switch b.machine.State().Phase {
	case draft.PhaseActive, draft.PhaseComplete:
	default:
		return
	}
	if b.graceLeft > 0 {
		return
	}
	b.logger.Info("opponent left, grace period started", zap.Int("ticks", b.opts.GraceTicks))
	b.graceLeft = b.opts.GraceTicks
}

func (b *Bridge) cancelGrace() {
	if b.graceLeft > 0 {
		b.logger.Info("opponent back", zap.Int("ticks_left", b.graceLeft))
	}
	b.graceLeft = 0
}

func (b *Bridge) armCompletion() {
	if b.completeIn > 0 || b.result != nil {
		return
	}
	b.completeIn = b.opts.CompletionTicks
}

func (b *Bridge) clearRound() {
	b.opponentDraw = nil
	b.result = nil
	b.completeIn = 0
}
