// Package registry owns the live per-approach counters. Sampler goroutines
// are the only writers, the control loop the only reader; both go through the
// synchronized operations here, never through shared memory.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

type Registry struct {
	staleAfter time.Duration
	approaches []*approach
}

type approach struct {
	mu sync.Mutex

	id        int
	name      string
	sensorRef string

	count        int
	lastSampleAt time.Time
	idleStreak   int
}

// New builds the registry from the startup approach list. IDs are assigned by
// list order, 0..N-1.
func New(approaches []config.Approach, staleAfter time.Duration) (*Registry, error) {
	if n := len(approaches); n < config.MinApproaches || n > config.MaxApproaches {
		return nil, fmt.Errorf("%w: %d approaches, need %d to %d", model.ErrInvalidConfig, n, config.MinApproaches, config.MaxApproaches)
	}
	r := &Registry{staleAfter: staleAfter}
	for i, a := range approaches {
		r.approaches = append(r.approaches, &approach{id: i, name: a.Name, sensorRef: a.SensorRef})
	}
	return r, nil
}

func (r *Registry) Len() int {
	return len(r.approaches)
}

// IDs returns the registered approach ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, len(r.approaches))
	for i := range r.approaches {
		ids[i] = i
	}
	return ids
}

// Update records a new sample. Negative counts clamp to zero; samples older
// than the latest recorded one are dropped so a slow sampler cannot roll the
// state backwards.
func (r *Registry) Update(id, count int, at time.Time) error {
	a, err := r.lookup(id)
	if err != nil {
		return err
	}
	if count < 0 {
		count = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if at.Before(a.lastSampleAt) {
		return nil
	}
	a.count = count
	a.lastSampleAt = at
	if count > 0 {
		a.idleStreak = 0
	} else {
		a.idleStreak++
	}
	return nil
}

// Snapshot returns a read-only copy of one approach's state.
func (r *Registry) Snapshot(id int) (model.ApproachSnapshot, error) {
	a, err := r.lookup(id)
	if err != nil {
		return model.ApproachSnapshot{}, err
	}
	return a.snapshot(), nil
}

func (r *Registry) SnapshotAll() []model.ApproachSnapshot {
	out := make([]model.ApproachSnapshot, 0, len(r.approaches))
	for _, a := range r.approaches {
		out = append(out, a.snapshot())
	}
	return out
}

// Observe resolves the effective vehicle count for control decisions. A
// sample older than the staleness ceiling degrades to zero demand — the
// fail-safe is assuming an empty approach, never a phantom queue.
func (r *Registry) Observe(id int, now time.Time) (count int, stale bool, err error) {
	a, err := r.lookup(id)
	if err != nil {
		return 0, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.lastSampleAt.IsZero() && now.Sub(a.lastSampleAt) > r.staleAfter {
		return 0, true, nil
	}
	return a.count, false, nil
}

func (r *Registry) lookup(id int) (*approach, error) {
	if id < 0 || id >= len(r.approaches) {
		return nil, fmt.Errorf("%w: id %d", model.ErrUnknownApproach, id)
	}
	return r.approaches[id], nil
}

func (a *approach) snapshot() model.ApproachSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.ApproachSnapshot{
		ID:           a.id,
		Name:         a.name,
		SensorRef:    a.sensorRef,
		Count:        a.count,
		LastSampleAt: a.lastSampleAt,
		IdleStreak:   a.idleStreak,
	}
}
