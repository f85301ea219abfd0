// Package sampler is the boundary to the external vehicle-detection
// pipeline. Producers here only ever write through the registry; the control
// loop never waits on them.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/registry"
)

// Source yields the latest vehicle count for a sensor. Implementations may
// block; the pump isolates each approach in its own goroutine so a dead
// sensor degrades to staleness instead of stalling the controller.
type Source interface {
	Sample(ctx context.Context, sensorRef string) (int, error)
}

// Pump polls a Source once per interval per approach and records the samples.
type Pump struct {
	source   Source
	registry *registry.Registry
	interval time.Duration
}

func NewPump(source Source, reg *registry.Registry, interval time.Duration) *Pump {
	return &Pump{source: source, registry: reg, interval: interval}
}

// Start launches one producer goroutine per registered approach. The
// goroutines exit when ctx is cancelled.
func (p *Pump) Start(ctx context.Context) {
	for _, snap := range p.registry.SnapshotAll() {
		go p.run(ctx, snap.ID, snap.SensorRef)
	}
}

func (p *Pump) run(ctx context.Context, id int, sensorRef string) {
	poll := func() {
		count, err := p.source.Sample(ctx, sensorRef)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				_, _ = fmt.Fprintf(os.Stderr, "trafficxiad: sample approach %d (%s): %v\n", id, sensorRef, err)
			}
			return
		}
		_ = p.registry.Update(id, count, time.Now().UTC())
	}
	poll()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
