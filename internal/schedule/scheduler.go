// Package schedule picks which approach receives green next.
package schedule

// Demand reports whether an approach currently has observed demand.
type Demand func(id int) bool

// Scheduler rotates green over the approaches in ascending-id order, skipping
// approaches with no demand, and forces any approach that has waited
// starvationLimit cycles to the front regardless of demand. Ties between
// starved approaches break to the lowest id.
type Scheduler struct {
	ids        []int
	limit      int
	skipped    map[int]int
	lastServed int
}

func New(ids []int, starvationLimit int) *Scheduler {
	s := &Scheduler{
		ids:        append([]int(nil), ids...),
		limit:      starvationLimit,
		skipped:    make(map[int]int, len(ids)),
		lastServed: -1,
	}
	return s
}

// Next chooses the approach for the upcoming green and updates the fairness
// counters: the chosen approach's skip count resets, all others increment.
// Called exactly once per cycle, at the ALL_RED -> GREEN transition.
func (s *Scheduler) Next(hasDemand Demand) int {
	chosen := -1
	for _, id := range s.ids {
		if s.skipped[id] >= s.limit {
			chosen = id
			break
		}
	}
	if chosen < 0 && hasDemand != nil {
		for _, id := range s.rotation() {
			if hasDemand(id) {
				chosen = id
				break
			}
		}
	}
	if chosen < 0 {
		chosen = s.rotation()[0]
	}
	for _, id := range s.ids {
		if id == chosen {
			s.skipped[id] = 0
		} else {
			s.skipped[id]++
		}
	}
	s.lastServed = chosen
	return chosen
}

// CyclesSkipped reports how many cycles an approach has waited since it last
// held green.
func (s *Scheduler) CyclesSkipped(id int) int {
	return s.skipped[id]
}

// rotation lists ids in round-robin order starting after the last served.
func (s *Scheduler) rotation() []int {
	n := len(s.ids)
	start := 0
	if s.lastServed >= 0 {
		for i, id := range s.ids {
			if id == s.lastServed {
				start = (i + 1) % n
				break
			}
		}
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.ids[(start+i)%n])
	}
	return out
}
