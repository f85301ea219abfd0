package controller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/controller"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
	"github.com/GlitchedBaby/TrafficXia/internal/registry"
)

type fakeSink struct {
	mu   sync.Mutex
	outs []model.TickOutput
}

func (s *fakeSink) Emit(out model.TickOutput) {
	s.mu.Lock()
	s.outs = append(s.outs, out)
	s.mu.Unlock()
}

func (s *fakeSink) all() []model.TickOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TickOutput(nil), s.outs...)
}

type memRecorder struct {
	phases   []model.PhaseEvent
	samplers []model.SamplerEvent
}

func (r *memRecorder) RecordPhase(_ context.Context, ev model.PhaseEvent) error {
	r.phases = append(r.phases, ev)
	return nil
}

func (r *memRecorder) RecordSampler(_ context.Context, ev model.SamplerEvent) error {
	r.samplers = append(r.samplers, ev)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseGreen = 10 * time.Second
	cfg.ExtensionStep = 5 * time.Second
	cfg.MaxGreen = 60 * time.Second
	cfg.MinGreen = 5 * time.Second
	cfg.Yellow = 2 * time.Second
	cfg.AllRed = 1 * time.Second
	cfg.ExtensionThreshold = 3
	cfg.StarvationLimit = 3
	cfg.Tick = time.Second
	cfg.StaleAfter = time.Hour
	cfg.Approaches = []config.Approach{
		{Name: "north", SensorRef: "cam:0"},
		{Name: "east", SensorRef: "cam:1"},
		{Name: "south", SensorRef: "cam:2"},
	}
	return cfg
}

func newLoop(t *testing.T, cfg config.Config, clk *fakeClock) (*controller.Loop, *registry.Registry, *fakeSink, *memRecorder) {
	t.Helper()
	reg, err := registry.New(cfg.Approaches, cfg.StaleAfter)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	sink := &fakeSink{}
	rec := &memRecorder{}
	loop := controller.NewWithClock(cfg, reg, sink, rec, "run-test", clk.now)
	return loop, reg, sink, rec
}

// step advances the synthetic clock by one tick and runs one control step.
func step(t *testing.T, loop *controller.Loop, clk *fakeClock, tick time.Duration) {
	t.Helper()
	clk.t = clk.t.Add(tick)
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

type span struct {
	phase    model.Phase
	approach int
	start    time.Time
	end      time.Time
}

// spans reconstructs the phase intervals from the emitted tick outputs.
func spans(outs []model.TickOutput) []span {
	var out []span
	for _, o := range outs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.phase == o.State.Phase && last.approach == o.State.ActiveApproach {
				last.end = o.At
				continue
			}
			last.end = o.State.PhaseStartedAt
		}
		out = append(out, span{
			phase:    o.State.Phase,
			approach: o.State.ActiveApproach,
			start:    o.State.PhaseStartedAt,
			end:      o.At,
		})
	}
	return out
}

func greens(sp []span) []span {
	var out []span
	for _, s := range sp {
		if s.phase == model.PhaseGreen {
			out = append(out, s)
		}
	}
	return out
}

func assertMutualExclusion(t *testing.T, outs []model.TickOutput) {
	t.Helper()
	for _, o := range outs {
		active := 0
		for _, cmd := range o.Commands {
			if cmd.Phase == model.PhaseGreen || cmd.Phase == model.PhaseYellow {
				active++
			}
		}
		if active > 1 {
			t.Fatalf("tick %d: %d approaches active at once: %+v", o.Seq, active, o.Commands)
		}
	}
}

// With no demand anywhere, every approach gets exactly the minimum green in
// ascending rotation order.
func TestAllQuietRotatesAtMinGreen(t *testing.T) {
	cfg := testConfig()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop, _, sink, _ := newLoop(t, cfg, clk)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for i := 0; i < 40; i++ {
		step(t, loop, clk, cfg.Tick)
	}

	outs := sink.all()
	assertMutualExclusion(t, outs)

	gs := greens(spans(outs))
	if len(gs) < 4 {
		t.Fatalf("expected at least 4 greens, got %d", len(gs))
	}
	wantOrder := []int{0, 1, 2, 0}
	for i, want := range wantOrder {
		if gs[i].approach != want {
			t.Fatalf("green %d went to approach %d, want %d", i, gs[i].approach, want)
		}
		if d := gs[i].end.Sub(gs[i].start); d != cfg.MinGreen {
			t.Fatalf("green %d held %s, want exactly min green %s", i, d, cfg.MinGreen)
		}
	}
}

// Sustained heavy demand extends green in steps but never past the ceiling:
// the phase ends at exactly max green.
func TestSustainedDemandConvergesToMaxGreen(t *testing.T) {
	cfg := testConfig()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop, reg, sink, _ := newLoop(t, cfg, clk)

	if err := reg.Update(0, 6, clk.t); err != nil {
		t.Fatalf("seed demand: %v", err)
	}
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for i := 0; i < 70; i++ {
		step(t, loop, clk, cfg.Tick)
	}

	outs := sink.all()
	assertMutualExclusion(t, outs)

	gs := greens(spans(outs))
	if len(gs) == 0 {
		t.Fatalf("no green observed")
	}
	first := gs[0]
	if first.approach != 0 {
		t.Fatalf("first green went to approach %d, want 0", first.approach)
	}
	if d := first.end.Sub(first.start); d != cfg.MaxGreen {
		t.Fatalf("green held %s, want exactly max green %s", d, cfg.MaxGreen)
	}

	var lastGreen model.TickOutput
	for _, o := range outs {
		if o.State.Phase == model.PhaseGreen && o.State.ActiveApproach == 0 {
			lastGreen = o
		}
	}
	if lastGreen.State.CommittedGreen != cfg.MaxGreen {
		t.Fatalf("committed green = %s, want capped at %s", lastGreen.State.CommittedGreen, cfg.MaxGreen)
	}
	wantExt := int((cfg.MaxGreen - cfg.BaseGreen) / cfg.ExtensionStep)
	if lastGreen.State.Extensions != wantExt {
		t.Fatalf("extensions = %d, want %d", lastGreen.State.Extensions, wantExt)
	}
}

// A sampler that stops reporting degrades to zero demand: its green collapses
// to the minimum and the degradation is journaled.
func TestStaleSamplerDegradesToZeroDemand(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 3 * time.Second
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop, reg, sink, rec := newLoop(t, cfg, clk)

	if err := reg.Update(0, 6, clk.t); err != nil {
		t.Fatalf("seed demand: %v", err)
	}
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for i := 0; i < 10; i++ {
		step(t, loop, clk, cfg.Tick)
	}

	gs := greens(spans(sink.all()))
	if len(gs) == 0 {
		t.Fatalf("no green observed")
	}
	if gs[0].approach != 0 {
		t.Fatalf("first green went to approach %d, want 0", gs[0].approach)
	}
	if d := gs[0].end.Sub(gs[0].start); d != cfg.MinGreen {
		t.Fatalf("green held %s, want min green %s after staleness", d, cfg.MinGreen)
	}

	if len(rec.samplers) != 1 {
		t.Fatalf("sampler events = %+v, want exactly one", rec.samplers)
	}
	ev := rec.samplers[0]
	if ev.Kind != model.SamplerStale || ev.ApproachID != 0 {
		t.Fatalf("sampler event = %+v", ev)
	}

	// a fresh sample recovers the approach
	if err := reg.Update(0, 4, clk.t); err != nil {
		t.Fatalf("update: %v", err)
	}
	step(t, loop, clk, cfg.Tick)
	if len(rec.samplers) != 2 || rec.samplers[1].Kind != model.SamplerRecovered {
		t.Fatalf("sampler events = %+v, want stale then recovered", rec.samplers)
	}
}

func TestPhaseEventsJournaled(t *testing.T) {
	cfg := testConfig()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop, _, _, rec := newLoop(t, cfg, clk)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for i := 0; i < 20; i++ {
		step(t, loop, clk, cfg.Tick)
	}

	if len(rec.phases) < 3 {
		t.Fatalf("phase events = %d, want several", len(rec.phases))
	}
	for i, ev := range rec.phases {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, ev.Seq, i+1)
		}
		if ev.RunID != "run-test" {
			t.Fatalf("event run id = %q", ev.RunID)
		}
		if ev.EventID == "" {
			t.Fatalf("event %d has no id", i)
		}
	}
	// first transition out of the startup hold is a green grant
	if rec.phases[0].Phase != model.PhaseGreen {
		t.Fatalf("first journaled phase = %s, want green", rec.phases[0].Phase)
	}
}

func TestTickSeqMonotonic(t *testing.T) {
	cfg := testConfig()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	loop, _, sink, _ := newLoop(t, cfg, clk)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for i := 0; i < 10; i++ {
		step(t, loop, clk, cfg.Tick)
	}
	outs := sink.all()
	for i, o := range outs {
		if o.Seq != int64(i+1) {
			t.Fatalf("output %d has seq %d", i, o.Seq)
		}
	}
}

// Cancellation forces all-red and holds it for the configured interval before
// Run returns.
func TestShutdownEmitsAllRed(t *testing.T) {
	cfg := testConfig()
	cfg.BaseGreen = 40 * time.Millisecond
	cfg.ExtensionStep = 20 * time.Millisecond
	cfg.MaxGreen = 120 * time.Millisecond
	cfg.MinGreen = 20 * time.Millisecond
	cfg.Yellow = 20 * time.Millisecond
	cfg.AllRed = 30 * time.Millisecond
	cfg.Tick = 10 * time.Millisecond
	cfg.StaleAfter = time.Second

	reg, err := registry.New(cfg.Approaches, cfg.StaleAfter)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	sink := &fakeSink{}
	loop := controller.New(cfg, reg, sink, nil, "run-shutdown")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if held := time.Since(start); held < cfg.AllRed {
		t.Fatalf("shutdown returned after %s, want at least the all-red hold %s", held, cfg.AllRed)
	}

	outs := sink.all()
	if len(outs) == 0 {
		t.Fatalf("no outputs emitted")
	}
	last := outs[len(outs)-1]
	if last.State.Phase != model.PhaseAllRed || last.State.ActiveApproach != model.NoApproach {
		t.Fatalf("final state = %+v, want all-red with no active approach", last.State)
	}
	if len(last.Commands) != len(cfg.Approaches) {
		t.Fatalf("final commands = %+v", last.Commands)
	}
	for _, cmd := range last.Commands {
		if cmd.Phase != model.PhaseRed {
			t.Fatalf("final command %+v, want red", cmd)
		}
	}
	assertMutualExclusion(t, outs)
}
