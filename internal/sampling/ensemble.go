package sampling

import (
	"fmt"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
	"github.com/vk/atomflow/internal/potential"
)

// Ensemble drives a fixed set of walkers jointly toward a sample-count
// target. Size never changes after construction; one optional bias per
// walker.
type Ensemble struct {
	ec      *execution.Context
	walkers []*Walker
	biases  []*Bias
}

// NewEnsemble builds an ensemble. The bias list must be empty or match
// the walker count; nil entries mean "no bias".
func NewEnsemble(ec *execution.Context, walkers []*Walker, biases []*Bias) (*Ensemble, error) {
	if len(walkers) == 0 {
		return nil, fmt.Errorf("ensemble needs at least one walker")
	}
	if len(biases) == 0 {
		biases = make([]*Bias, len(walkers))
	} else if len(biases) != len(walkers) {
		return nil, fmt.Errorf("ensemble has %d walkers but %d biases", len(walkers), len(biases))
	}
	return &Ensemble{ec: ec, walkers: walkers, biases: biases}, nil
}

// FromWalker replicates a template walker n times with seeds 0..n-1,
// sharing the template's execution context.
func FromWalker(template *Walker, n int) (*Ensemble, error) {
	if n < 1 {
		return nil, fmt.Errorf("ensemble needs at least one walker")
	}
	walkers := make([]*Walker, n)
	for i := 0; i < n; i++ {
		replica := template.Copy()
		replica.Parameters.Seed = int64(i)
		walkers[i] = replica
	}
	return NewEnsemble(template.ec, walkers, nil)
}

// Walkers returns the walker list (fixed size, mutable entries).
func (e *Ensemble) Walkers() []*Walker { return e.walkers }

// Biases returns the per-walker bias list.
func (e *Ensemble) Biases() []*Bias { return e.biases }

// Size returns the number of walkers.
func (e *Ensemble) Size() int { return len(e.walkers) }

// Propagate accumulates target valid samples into a new dataset. Attempts
// are issued round-robin; walker seeds advance by the walker count at
// issue time so repeated passes over one walker never reuse a seed. The
// continuation predicate is re-evaluated only after each attempt resolves,
// so the total attempt count is unknown until completion: a safety- or
// check-rejected attempt contributes an absent entry and triggers another
// attempt. Results keep issue order, which makes the output
// seed-deterministic even though walkers complete out of order.
func (e *Ensemble) Propagate(target int, model potential.Model, checks ...Check) (*dataset.Dataset, error) {
	if target < len(e.walkers) {
		return nil, fmt.Errorf("target of %d states below walker count %d", target, len(e.walkers))
	}

	states, resolve := future.New[[]*dataset.Configuration]()
	go func() {
		logger := ctxlog.FromContext(e.ec.BaseContext())
		var attempts []*future.Future[*dataset.Configuration]
		issue := func() error {
			index := len(attempts) % len(e.walkers)
			walker := e.walkers[index]
			state, _, err := walker.Propagate(PropagateOptions{
				Model: model,
				Bias:  e.biases[index],
			}, checks...)
			if err != nil {
				return err
			}
			walker.ResetIfUnsafe()
			walker.Parameters.Seed += int64(len(e.walkers))
			attempts = append(attempts, state)
			return nil
		}

		// The first target attempts go out immediately so independent
		// walkers run in parallel; attempts on one walker chain on its
		// state future anyway.
		for i := 0; i < target; i++ {
			if err := issue(); err != nil {
				resolve(nil, err)
				return
			}
		}

		var valid []*dataset.Configuration
		for next := 0; len(valid) < target; next++ {
			if next >= len(attempts) {
				if err := issue(); err != nil {
					resolve(nil, err)
					return
				}
			}
			c, err := attempts[next].Result(e.ec.BaseContext())
			if err != nil {
				// Unsafe runs and check rejections arrive as nil states; an
				// errored attempt is an infrastructure or capability fault
				// that retrying cannot repair, so it fails the whole
				// propagation.
				logger.Error("Propagation attempt failed.", "walker", next%len(e.walkers), "error", err)
				resolve(nil, fmt.Errorf("propagation attempt %d: %w", next, err))
				return
			}
			if c != nil {
				valid = append(valid, c)
			}
		}
		logger.Debug("Ensemble propagation finished.", "attempts", len(attempts), "valid", len(valid))
		resolve(valid, nil)
	}()
	return dataset.FromFuture(e.ec, states)
}
