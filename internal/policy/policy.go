// Package policy holds the pure green-extension decision. It never mutates
// state; the transition guard applies whatever it decides.
package policy

import (
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

// Input is the per-tick view of the active green approach.
type Input struct {
	Elapsed   time.Duration
	Committed time.Duration
	Count     int
}

// Decide evaluates one green tick.
//
// Order matters: the minimum-green floor is absolute, the max-green ceiling
// beats demand, and an empty approach past the floor ends immediately
// regardless of the committed duration. An extension step is granted only
// when the committed green would expire within the next tick, so the
// extension count reflects real prolongations rather than ticks observed.
func Decide(cfg config.Config, in Input) model.Decision {
	if in.Elapsed < cfg.MinGreen {
		return model.DecisionContinue
	}
	if in.Elapsed >= cfg.MaxGreen {
		return model.DecisionEnd
	}
	if in.Count == 0 {
		return model.DecisionEnd
	}
	if in.Elapsed+cfg.Tick > in.Committed {
		if in.Count >= cfg.ExtensionThreshold && in.Elapsed+cfg.ExtensionStep <= cfg.MaxGreen {
			return model.DecisionExtend
		}
		return model.DecisionEnd
	}
	return model.DecisionContinue
}
