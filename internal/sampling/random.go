package sampling

import (
	"context"
	"math/rand"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// RandomKind displaces every atom by a seeded uniform Cartesian offset.
// It needs no model and is always safe; campaigns use it to decorrelate
// starting points cheaply.
type RandomKind struct{}

func (RandomKind) Kind() string { return "random" }

func (RandomKind) CreateApps(ec *execution.Context) error {
	var propagate propagateApp = func(state *future.Future[*dataset.Configuration], pars Parameters, opts PropagateOptions, trajectory execution.File) *future.Future[Propagation] {
		return execution.Submit(ec, "default", []future.Waiter{state}, func(ctx context.Context) (Propagation, error) {
			current, _ := state.Result(ctx)
			next := current.Copy()
			rng := rand.New(rand.NewSource(pars.Seed))
			for i := range next.Positions {
				for x := 0; x < 3; x++ {
					next.Positions[i][x] += pars.Amplitude * (2*rng.Float64() - 1)
				}
			}
			next.ClearProperties()
			if !trajectory.IsZero() {
				if err := dataset.WriteFile(trajectory.Path(), []*dataset.Configuration{current, next}); err != nil {
					return Propagation{}, err
				}
			}
			return Propagation{State: next, Tag: TagSafe, Trajectory: trajectory}, nil
		})
	}
	return ec.RegisterApp("random", "propagate", propagate)
}
