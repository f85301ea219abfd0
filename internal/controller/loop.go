// Package controller runs the fixed-tick control loop tying the registry,
// extension policy, transition guard and rotation scheduler together.
package controller

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
	"github.com/GlitchedBaby/TrafficXia/internal/phase"
	"github.com/GlitchedBaby/TrafficXia/internal/policy"
	"github.com/GlitchedBaby/TrafficXia/internal/registry"
	"github.com/GlitchedBaby/TrafficXia/internal/schedule"
)

// Sink consumes the per-tick signal command emission. The hardware or
// display driver sits behind this boundary.
type Sink interface {
	Emit(out model.TickOutput)
}

// Recorder journals phase transitions and sampler degradations. Writes must
// stay short; they run on the loop goroutine.
type Recorder interface {
	RecordPhase(ctx context.Context, ev model.PhaseEvent) error
	RecordSampler(ctx context.Context, ev model.SamplerEvent) error
}

// Loop is the single-threaded driver. All phase mutation happens through the
// guard at tick boundaries, so observers see strictly monotonic,
// non-overlapping phase intervals.
type Loop struct {
	cfg      config.Config
	registry *registry.Registry
	guard    *phase.Guard
	sched    *schedule.Scheduler
	sink     Sink
	recorder Recorder
	runID    string
	now      func() time.Time

	tickSeq  int64
	eventSeq int64
	stale    map[int]bool
}

func New(cfg config.Config, reg *registry.Registry, sink Sink, rec Recorder, runID string) *Loop {
	return NewWithClock(cfg, reg, sink, rec, runID, nil)
}

// NewWithClock injects the time source; tests drive Tick with a synthetic
// clock instead of sleeping.
func NewWithClock(cfg config.Config, reg *registry.Registry, sink Sink, rec Recorder, runID string, now func() time.Time) *Loop {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Loop{
		cfg:      cfg,
		registry: reg,
		guard:    phase.NewGuard(cfg, now()),
		sched:    schedule.New(reg.IDs(), cfg.StarvationLimit),
		sink:     sink,
		recorder: rec,
		runID:    runID,
		now:      now,
		stale:    map[int]bool{},
	}
}

// State returns a copy of the current cycle state.
func (l *Loop) State() model.CycleState {
	return l.guard.State()
}

// Run drives ticks until ctx is cancelled or a safety violation is detected.
// Shutdown completes the current tick, forces all-red for a full all-red
// interval, and only then returns — the intersection is never abandoned in
// green or yellow.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Tick(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick runs one control step. Exposed so tests can step the loop with a
// synthetic clock.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()

	// One synchronized read per approach per tick; the effective counts feed
	// both the green decision and the rotation pick.
	counts := make(map[int]int, l.registry.Len())
	for _, id := range l.registry.IDs() {
		count, stale, err := l.registry.Observe(id, now)
		if err != nil {
			// unreachable after startup validation
			logErr(fmt.Sprintf("observe approach %d", id), err)
			continue
		}
		counts[id] = count
		l.noteStaleness(ctx, id, stale, now)
	}

	st := l.guard.State()
	dec := model.DecisionContinue
	if st.Phase == model.PhaseGreen {
		dec = policy.Decide(l.cfg, policy.Input{
			Elapsed:   now.Sub(st.PhaseStartedAt),
			Committed: st.CommittedGreen,
			Count:     counts[st.ActiveApproach],
		})
	}

	changed := l.guard.Tick(now, dec, func() int {
		return l.sched.Next(func(id int) bool { return counts[id] > 0 })
	})

	st = l.guard.State()
	cmds := phase.Commands(st, l.registry.IDs())
	if err := phase.Verify(cmds); err != nil {
		l.emitAllRed(now, st.CycleSeq)
		return err
	}
	if changed {
		l.recordPhase(ctx, st)
	}
	l.tickSeq++
	l.sink.Emit(model.TickOutput{Seq: l.tickSeq, At: now, State: st, Commands: cmds})
	return nil
}

func (l *Loop) shutdown() {
	now := l.now()
	l.emitAllRed(now, l.guard.State().CycleSeq)
	timer := time.NewTimer(l.cfg.AllRed)
	defer timer.Stop()
	<-timer.C
}

func (l *Loop) emitAllRed(now time.Time, cycleSeq int64) {
	cmds := make([]model.SignalCommand, 0, l.registry.Len())
	for _, id := range l.registry.IDs() {
		cmds = append(cmds, model.SignalCommand{ApproachID: id, Phase: model.PhaseRed})
	}
	l.tickSeq++
	l.sink.Emit(model.TickOutput{
		Seq: l.tickSeq,
		At:  now,
		State: model.CycleState{
			ActiveApproach: model.NoApproach,
			Phase:          model.PhaseAllRed,
			PhaseStartedAt: now,
			CycleSeq:       cycleSeq,
		},
		Commands: cmds,
	})
}

func (l *Loop) noteStaleness(ctx context.Context, id int, stale bool, now time.Time) {
	if stale == l.stale[id] {
		return
	}
	l.stale[id] = stale
	kind := model.SamplerRecovered
	if stale {
		kind = model.SamplerStale
		logErr(fmt.Sprintf("approach %d sampler stale, assuming zero demand", id), nil)
	}
	if l.recorder == nil {
		return
	}
	ev := model.SamplerEvent{
		EventID:    uuid.NewString(),
		RunID:      l.runID,
		ApproachID: id,
		Kind:       kind,
		ObservedAt: now,
	}
	if err := l.recorder.RecordSampler(ctx, ev); err != nil {
		logErr("record sampler event", err)
	}
}

func (l *Loop) recordPhase(ctx context.Context, st model.CycleState) {
	if l.recorder == nil {
		return
	}
	l.eventSeq++
	ev := model.PhaseEvent{
		EventID:        uuid.NewString(),
		RunID:          l.runID,
		Seq:            l.eventSeq,
		ApproachID:     st.ActiveApproach,
		Phase:          st.Phase,
		EnteredAt:      st.PhaseStartedAt,
		CommittedGreen: st.CommittedGreen,
		Extensions:     st.Extensions,
	}
	if err := l.recorder.RecordPhase(ctx, ev); err != nil {
		logErr("record phase event", err)
	}
}

func logErr(scope string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "trafficxiad: %s: %v\n", scope, err)
		return
	}
	_, _ = fmt.Fprintf(os.Stderr, "trafficxiad: %s\n", scope)
}
