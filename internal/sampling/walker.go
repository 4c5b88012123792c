// Package sampling implements walkers (stateful lineage units propagating
// one configuration), the checks applied to their output, bias artifact
// threading, and the ensemble scheduler that drives many walkers to a
// sample-count target.
package sampling

import (
	"fmt"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
	"github.com/vk/atomflow/internal/potential"
)

// Tag classifies the outcome of a walker's last propagation.
type Tag string

const (
	// TagUnpropagated marks a walker that has not propagated yet.
	TagUnpropagated Tag = "unpropagated"
	// TagSafe marks a propagation that stayed within all safety limits.
	TagSafe Tag = "safe"
	// TagUnsafe marks a propagation that violated a safety constraint.
	TagUnsafe Tag = "unsafe"
	// TagReset marks a state forcibly reverted to the start configuration.
	TagReset Tag = "reset"
)

// Parameters is the flat, persistable record of strategy parameters. Each
// strategy reads the fields it cares about.
type Parameters struct {
	Timestep           float64  `yaml:"timestep"`
	Steps              int      `yaml:"steps"`
	Stride             int      `yaml:"stride"`
	Start              int      `yaml:"start"`
	Temperature        float64  `yaml:"temperature"`
	Pressure           *float64 `yaml:"pressure,omitempty"`
	ForceThreshold     float64  `yaml:"force_threshold"`
	InitialTemperature float64  `yaml:"initial_temperature"`
	Seed               int64    `yaml:"seed"`
	Amplitude          float64  `yaml:"amplitude"`
	OptimizeCell       bool     `yaml:"optimize_cell"`
	Fmax               float64  `yaml:"fmax"`
}

// DefaultParameters mirrors the defaults of the original campaigns: short
// NVT runs with an effectively disabled force threshold.
func DefaultParameters() Parameters {
	return Parameters{
		Timestep:           0.5,
		Steps:              100,
		Stride:             10,
		Temperature:        300,
		ForceThreshold:     1e6,
		InitialTemperature: 600,
		Amplitude:          0.05,
		Fmax:               1e-2,
	}
}

// Digest is the memoization identity of a parameter record.
func (p Parameters) Digest() string {
	pressure := "none"
	if p.Pressure != nil {
		pressure = fmt.Sprintf("%.4f", *p.Pressure)
	}
	return execution.Digest(
		p.Timestep, float64(p.Steps), float64(p.Stride), float64(p.Start),
		p.Temperature, pressure, p.ForceThreshold, p.InitialTemperature,
		p.Seed, p.Amplitude, p.OptimizeCell, p.Fmax,
	)
}

// Propagation is the atomic result of one propagation attempt: the new
// state and its safety tag, plus the recorded trajectory when requested.
type Propagation struct {
	State      *dataset.Configuration
	Tag        Tag
	Trajectory execution.File
}

// PropagateOptions carries the per-call collaborators of a propagation.
type PropagateOptions struct {
	Model          potential.Model
	Bias           *Bias
	KeepTrajectory bool
}

// propagateApp is the operation every strategy registers under "propagate".
type propagateApp func(state *future.Future[*dataset.Configuration], pars Parameters, opts PropagateOptions, trajectory execution.File) *future.Future[Propagation]

// Kind is one member of the closed set of propagation strategies. A Kind
// is also the app container registering its operations on first use.
type Kind interface {
	execution.AppFactory
}

// Walker binds a start configuration, a mutable-by-replacement state
// future, a safety tag and parameters to a propagation strategy.
type Walker struct {
	ec   *execution.Context
	kind Kind

	start *future.Future[*dataset.Configuration]
	state *future.Future[*dataset.Configuration]
	tag   *future.Future[Tag]

	// Parameters are mutated freely between propagations; each Propagate
	// call snapshots them.
	Parameters Parameters
}

// New creates a walker from a materialized start configuration.
func New(ec *execution.Context, kind Kind, start *dataset.Configuration, pars Parameters) *Walker {
	return NewFromFuture(ec, kind, future.Completed(start.Copy()), pars)
}

// NewFromFuture creates a walker whose start is still being computed. The
// state future is always a distinct instance holding a distinct copy.
func NewFromFuture(ec *execution.Context, kind Kind, start *future.Future[*dataset.Configuration], pars Parameters) *Walker {
	return &Walker{
		ec:         ec,
		kind:       kind,
		start:      start,
		state:      copyState(start),
		tag:        future.Completed(TagUnpropagated),
		Parameters: pars,
	}
}

func copyState(state *future.Future[*dataset.Configuration]) *future.Future[*dataset.Configuration] {
	return future.Map(state, func(c *dataset.Configuration) (*dataset.Configuration, error) {
		if c == nil {
			return nil, fmt.Errorf("walker state resolved to nothing")
		}
		return c.Copy(), nil
	})
}

// Copy replicates the walker: same strategy and start, independent state
// and parameters.
func (w *Walker) Copy() *Walker {
	replica := NewFromFuture(w.ec, w.kind, w.start, w.Parameters)
	return replica
}

// Kind returns the walker's strategy.
func (w *Walker) Kind() Kind { return w.kind }

// Start returns the immutable start future.
func (w *Walker) Start() *future.Future[*dataset.Configuration] { return w.start }

// State returns the current state future.
func (w *Walker) State() *future.Future[*dataset.Configuration] { return w.state }

// TagFuture returns the current tag future.
func (w *Walker) TagFuture() *future.Future[Tag] { return w.tag }

// Propagate delegates to the strategy's registered propagation operation,
// replacing state and tag atomically from its single deferred result. The
// check chain runs after the raw propagation; a rejecting check turns the
// returned state into nil without touching the walker's own state. The
// returned dataset is the recorded trajectory, nil unless requested.
func (w *Walker) Propagate(opts PropagateOptions, checks ...Check) (*future.Future[*dataset.Configuration], *dataset.Dataset, error) {
	raw, err := w.ec.Apps(w.kind, "propagate")
	if err != nil {
		return nil, nil, err
	}
	propagate, ok := raw.(propagateApp)
	if !ok {
		return nil, nil, fmt.Errorf("strategy %q registered a propagate app of type %T", w.kind.Kind(), raw)
	}

	var trajectory execution.File
	if opts.KeepTrajectory {
		if trajectory, err = w.ec.NewFile("traj_", ".xyz"); err != nil {
			return nil, nil, err
		}
	}
	result := propagate(w.state, w.Parameters, opts, trajectory)
	w.state = future.Map(result, func(p Propagation) (*dataset.Configuration, error) {
		return p.State, nil
	})
	w.tag = future.Map(result, func(p Propagation) (Tag, error) {
		return p.Tag, nil
	})

	state := w.state
	for _, check := range checks {
		state = check.Apply(state, w.tag)
	}

	var trajData *dataset.Dataset
	if opts.KeepTrajectory {
		// The trajectory file is written by the propagation itself, so
		// the dataset handle depends on the propagation future.
		trajData = dataset.FromFile(w.ec, future.Map(result, func(p Propagation) (execution.File, error) {
			return p.Trajectory, nil
		}))
	}
	return state, trajData, nil
}

// ResetIfUnsafe reverts state to a copy of start when the last tag is
// unsafe, setting the tag to reset; otherwise it is a no-op. The reversal
// is explicit so unsafe trajectories can be inspected before resetting.
func (w *Walker) ResetIfUnsafe() {
	type outcome struct {
		state *dataset.Configuration
		tag   Tag
	}
	pair := future.Join(w.start, w.state, func(start, state *dataset.Configuration) ([2]*dataset.Configuration, error) {
		return [2]*dataset.Configuration{start, state}, nil
	})
	resolved := future.Join(w.tag, pair, func(tag Tag, pair [2]*dataset.Configuration) (outcome, error) {
		if tag == TagUnsafe {
			return outcome{state: pair[0].Copy(), tag: TagReset}, nil
		}
		return outcome{state: pair[1], tag: tag}, nil
	})
	w.state = future.Map(resolved, func(o outcome) (*dataset.Configuration, error) { return o.state, nil })
	w.tag = future.Map(resolved, func(o outcome) (Tag, error) { return o.tag, nil })
}

// IsReset reports (deferred) whether the tag is currently reset.
func (w *Walker) IsReset() *future.Future[bool] {
	return future.Map(w.tag, func(tag Tag) (bool, error) {
		return tag == TagReset, nil
	})
}
