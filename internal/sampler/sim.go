package sampler

import (
	"context"
	"strings"
	"sync"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
)

// SimSource generates deterministic synthetic counts so the daemon can run
// without a detection pipeline. The sensor ref selects a profile:
//
//	sim:heavy  sustained demand
//	sim:pulse  alternating bursts and gaps
//	sim:idle   always empty
//
// Anything else idles at zero.
type SimSource struct {
	mu    sync.Mutex
	calls map[string]int
}

func NewSimSource() *SimSource {
	return &SimSource{calls: map[string]int{}}
}

func (s *SimSource) Sample(_ context.Context, sensorRef string) (int, error) {
	s.mu.Lock()
	n := s.calls[sensorRef]
	s.calls[sensorRef] = n + 1
	s.mu.Unlock()

	switch {
	case strings.HasPrefix(sensorRef, "sim:heavy"):
		return 6, nil
	case strings.HasPrefix(sensorRef, "sim:pulse"):
		if n%20 < 10 {
			return 4, nil
		}
		return 0, nil
	}
	return 0, nil
}

// DemoApproaches is the approach set used by trafficxiad -sim when no config
// file supplies one.
func DemoApproaches() []config.Approach {
	return []config.Approach{
		{Name: "north", SensorRef: "sim:heavy"},
		{Name: "east", SensorRef: "sim:pulse"},
		{Name: "south", SensorRef: "sim:idle"},
	}
}
