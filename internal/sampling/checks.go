package sampling

import (
	"math"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/future"
)

// Check post-processes a propagation result. A check observes the new
// state and its tag and returns either the state or nil, discarding the
// attempt without failing anything.
type Check interface {
	Apply(state *future.Future[*dataset.Configuration], tag *future.Future[Tag]) *future.Future[*dataset.Configuration]
}

// SafetyCheck discards states whose propagation was not tagged safe.
type SafetyCheck struct{}

func (SafetyCheck) Apply(state *future.Future[*dataset.Configuration], tag *future.Future[Tag]) *future.Future[*dataset.Configuration] {
	return future.Join(state, tag, func(c *dataset.Configuration, t Tag) (*dataset.Configuration, error) {
		if t != TagSafe {
			return nil, nil
		}
		return c, nil
	})
}

// DistanceCheck discards states in which any two atoms sit closer than
// Threshold, a geometric sanity guard against collapsed structures.
type DistanceCheck struct {
	Threshold float64
}

func (d DistanceCheck) Apply(state *future.Future[*dataset.Configuration], tag *future.Future[Tag]) *future.Future[*dataset.Configuration] {
	return future.Map(state, func(c *dataset.Configuration) (*dataset.Configuration, error) {
		if c == nil {
			return nil, nil
		}
		for i := 0; i < c.Len(); i++ {
			for j := i + 1; j < c.Len(); j++ {
				dist := 0.0
				for x := 0; x < 3; x++ {
					diff := c.Positions[i][x] - c.Positions[j][x]
					dist += diff * diff
				}
				if math.Sqrt(dist) < d.Threshold {
					return nil, nil
				}
			}
		}
		return c, nil
	})
}
