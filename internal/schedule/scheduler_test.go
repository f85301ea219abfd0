package schedule_test

import (
	"testing"

	"github.com/GlitchedBaby/TrafficXia/internal/schedule"
)

func demand(ids ...int) schedule.Demand {
	set := map[int]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(id int) bool { return set[id] }
}

func TestRoundRobinWithoutDemand(t *testing.T) {
	s := schedule.New([]int{0, 1, 2}, 3)
	want := []int{0, 1, 2, 0, 1, 2}
	for i, w := range want {
		if got := s.Next(demand()); got != w {
			t.Fatalf("pick %d = %d, want %d", i, got, w)
		}
	}
}

func TestDemandSkipsEmptyApproaches(t *testing.T) {
	s := schedule.New([]int{0, 1, 2}, 10)
	if got := s.Next(demand(1)); got != 1 {
		t.Fatalf("pick = %d, want 1", got)
	}
	// 2 is next in rotation but idle; 0 has demand
	if got := s.Next(demand(0)); got != 0 {
		t.Fatalf("pick = %d, want 0", got)
	}
	if got := s.Next(demand(0)); got != 0 {
		t.Fatalf("repeat demand pick = %d, want 0", got)
	}
}

func TestStarvationForcesService(t *testing.T) {
	limit := 3
	s := schedule.New([]int{0, 1, 2}, limit)
	// only approach 0 ever has demand
	picks := []int{}
	for i := 0; i < limit+1; i++ {
		picks = append(picks, s.Next(demand(0)))
	}
	for i := 0; i < limit; i++ {
		if picks[i] != 0 {
			t.Fatalf("pick %d = %d, want 0 while others are within the limit", i, picks[i])
		}
	}
	// after limit cycles skipped, approach 1 is forced despite no demand
	if picks[limit] != 1 {
		t.Fatalf("pick %d = %d, want starved approach 1", limit, picks[limit])
	}
}

func TestStarvationTieBreaksToLowestID(t *testing.T) {
	limit := 2
	s := schedule.New([]int{0, 1, 2}, limit)
	s.Next(demand(0))
	s.Next(demand(0))
	// both 1 and 2 now sit at the limit
	if got := s.CyclesSkipped(1); got != limit {
		t.Fatalf("skipped(1) = %d, want %d", got, limit)
	}
	if got := s.CyclesSkipped(2); got != limit {
		t.Fatalf("skipped(2) = %d, want %d", got, limit)
	}
	if got := s.Next(demand(0)); got != 1 {
		t.Fatalf("pick = %d, want lowest starved id 1", got)
	}
	if got := s.Next(demand(0)); got != 2 {
		t.Fatalf("pick = %d, want remaining starved id 2", got)
	}
}

func TestCountersResetOnService(t *testing.T) {
	s := schedule.New([]int{0, 1}, 5)
	s.Next(demand(0))
	if got := s.CyclesSkipped(0); got != 0 {
		t.Fatalf("skipped(0) = %d, want 0 after service", got)
	}
	if got := s.CyclesSkipped(1); got != 1 {
		t.Fatalf("skipped(1) = %d, want 1", got)
	}
	s.Next(demand(1))
	if got := s.CyclesSkipped(1); got != 0 {
		t.Fatalf("skipped(1) = %d, want 0 after service", got)
	}
	if got := s.CyclesSkipped(0); got != 1 {
		t.Fatalf("skipped(0) = %d, want 1", got)
	}
}

func TestNilDemandFallsBackToRotation(t *testing.T) {
	s := schedule.New([]int{0, 1, 2}, 3)
	if got := s.Next(nil); got != 0 {
		t.Fatalf("pick = %d, want 0", got)
	}
	if got := s.Next(nil); got != 1 {
		t.Fatalf("pick = %d, want 1", got)
	}
}
