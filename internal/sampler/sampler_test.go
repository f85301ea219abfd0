package sampler_test

import (
	"context"
	"testing"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/registry"
	"github.com/GlitchedBaby/TrafficXia/internal/sampler"
)

func TestSimSourceProfiles(t *testing.T) {
	ctx := context.Background()
	src := sampler.NewSimSource()

	for i := 0; i < 5; i++ {
		count, err := src.Sample(ctx, "sim:heavy")
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if count != 6 {
			t.Fatalf("heavy sample %d = %d, want 6", i, count)
		}
	}

	// pulse alternates ten on, ten off
	var got []int
	for i := 0; i < 25; i++ {
		count, err := src.Sample(ctx, "sim:pulse")
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		got = append(got, count)
	}
	for i, count := range got {
		want := 0
		if i%20 < 10 {
			want = 4
		}
		if count != want {
			t.Fatalf("pulse sample %d = %d, want %d", i, count, want)
		}
	}

	count, err := src.Sample(ctx, "sim:idle")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if count != 0 {
		t.Fatalf("idle sample = %d, want 0", count)
	}
}

func TestSimSourceIndependentRefs(t *testing.T) {
	ctx := context.Background()
	src := sampler.NewSimSource()
	// burn half a pulse window on one ref
	for i := 0; i < 10; i++ {
		_, _ = src.Sample(ctx, "sim:pulse:a")
	}
	count, err := src.Sample(ctx, "sim:pulse:b")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if count != 4 {
		t.Fatalf("fresh ref must start its own window, got %d", count)
	}
}

func TestPumpFeedsRegistry(t *testing.T) {
	reg, err := registry.New(sampler.DemoApproaches(), time.Minute)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	pump := sampler.NewPump(sampler.NewSimSource(), reg, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pump.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := reg.Snapshot(0)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Count == 6 && !snap.LastSampleAt.IsZero() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pump never delivered the heavy profile to approach 0")
}

func TestDemoApproachesAreValid(t *testing.T) {
	approaches := sampler.DemoApproaches()
	if len(approaches) != 3 {
		t.Fatalf("demo approaches = %+v", approaches)
	}
	seen := map[string]bool{}
	for _, a := range approaches {
		if a.Name == "" || a.SensorRef == "" {
			t.Fatalf("incomplete approach %+v", a)
		}
		if seen[a.Name] {
			t.Fatalf("duplicate name %q", a.Name)
		}
		seen[a.Name] = true
	}
}
