// Package phase enforces the safety ordering of signal transitions. The
// guard is the only component allowed to mutate the cycle state; everything
// else reads copies.
package phase

import (
	"fmt"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

// Guard is the GREEN -> YELLOW -> ALL_RED state machine for the intersection.
// It starts in ALL_RED with no active approach and holds it for a full
// all-red interval before the first grant, so the process comes up fail-safe.
type Guard struct {
	cfg   config.Config
	state model.CycleState
}

func NewGuard(cfg config.Config, now time.Time) *Guard {
	return &Guard{
		cfg: cfg,
		state: model.CycleState{
			ActiveApproach: model.NoApproach,
			Phase:          model.PhaseAllRed,
			PhaseStartedAt: now,
		},
	}
}

// State returns a copy of the current cycle state.
func (g *Guard) State() model.CycleState {
	return g.state
}

// NextFunc supplies the next approach at the ALL_RED -> GREEN transition.
type NextFunc func() int

// Tick advances the machine by one tick. The decision argument is consulted
// only in GREEN; yellow and all-red durations are fixed and never
// data-dependent. Reports whether a phase transition occurred.
func (g *Guard) Tick(now time.Time, dec model.Decision, next NextFunc) bool {
	switch g.state.Phase {
	case model.PhaseGreen:
		switch dec {
		case model.DecisionExtend:
			g.state.CommittedGreen += g.cfg.ExtensionStep
			if g.state.CommittedGreen > g.cfg.MaxGreen {
				g.state.CommittedGreen = g.cfg.MaxGreen
			}
			g.state.Extensions++
			return false
		case model.DecisionEnd:
			g.state.Phase = model.PhaseYellow
			g.state.PhaseStartedAt = now
			return true
		}
		return false
	case model.PhaseYellow:
		if now.Sub(g.state.PhaseStartedAt) >= g.cfg.Yellow {
			g.state.Phase = model.PhaseAllRed
			g.state.PhaseStartedAt = now
			return true
		}
		return false
	case model.PhaseAllRed:
		if now.Sub(g.state.PhaseStartedAt) >= g.cfg.AllRed {
			g.state.ActiveApproach = next()
			g.state.Phase = model.PhaseGreen
			g.state.PhaseStartedAt = now
			g.state.CommittedGreen = g.cfg.BaseGreen
			g.state.Extensions = 0
			g.state.CycleSeq++
			return true
		}
		return false
	}
	return false
}

// Commands derives the per-approach signal set from a cycle state: the active
// approach carries the cycle phase, every other approach is red.
func Commands(state model.CycleState, ids []int) []model.SignalCommand {
	cmds := make([]model.SignalCommand, 0, len(ids))
	for _, id := range ids {
		p := model.PhaseRed
		if id == state.ActiveApproach {
			p = state.Phase
		}
		cmds = append(cmds, model.SignalCommand{ApproachID: id, Phase: p})
	}
	return cmds
}

// Verify checks the mutual-exclusion invariant on an emitted command set.
// A violation is not recoverable; callers must force all-red and halt.
func Verify(cmds []model.SignalCommand) error {
	active := 0
	for _, c := range cmds {
		if c.Phase == model.PhaseGreen || c.Phase == model.PhaseYellow {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("%w: %d approaches active in one tick", model.ErrSafetyViolation, active)
	}
	return nil
}
