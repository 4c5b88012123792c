package sampling

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
	"github.com/vk/atomflow/internal/potential"
)

// ErrNotConverged is the sentinel an optimizer wraps when its convergence
// loop gives up. Like force violations, it is recovered at the propagation
// boundary and becomes an unsafe tag.
var ErrNotConverged = errors.New("optimization did not converge")

// OptimizeRequest is the invocation contract of an external geometry
// optimizer.
type OptimizeRequest struct {
	State      *dataset.Configuration
	Calculator potential.Calculator
	// Fmax is the residual force norm below which the optimizer stops.
	Fmax float64
	// OptimizeCell includes the cell degrees of freedom.
	OptimizeCell bool
}

// OptimizeResult carries the visited geometries in order; the last one is
// the best geometry reached, converged or not.
type OptimizeResult struct {
	Frames []*dataset.Configuration
}

// Optimizer relaxes a configuration. Internals are outside this module.
type Optimizer interface {
	Run(ctx context.Context, req OptimizeRequest) (OptimizeResult, error)
}

// OptimizationKind relaxes geometries through an injected optimizer.
// Optimization always loads the model in double precision.
type OptimizationKind struct {
	Optimizer Optimizer
}

func (OptimizationKind) Kind() string { return "optimization" }

func (k OptimizationKind) CreateApps(ec *execution.Context) error {
	def, err := ec.Definition("model")
	if err != nil {
		return err
	}
	model := def.(*execution.ModelExecution)
	optimizer := k.Optimizer
	if optimizer == nil {
		return fmt.Errorf("optimization walker requires an optimizer")
	}

	var propagate propagateApp = func(state *future.Future[*dataset.Configuration], pars Parameters, opts PropagateOptions, trajectory execution.File) *future.Future[Propagation] {
		if opts.Model == nil {
			return future.Failed[Propagation](fmt.Errorf("geometry optimization requires a model"))
		}
		artifact, err := opts.Model.Artifact("float64")
		if err != nil {
			return future.Failed[Propagation](err)
		}
		return execution.Submit(ec, model.Lane, []future.Waiter{state, artifact}, func(ctx context.Context) (Propagation, error) {
			logger := ctxlog.FromContext(ctx)
			artifactFile, _ := artifact.Result(ctx)
			calc, err := opts.Model.Load()(artifactFile.Path(), model.Device, "float64")
			if err != nil {
				return Propagation{}, fmt.Errorf("loading calculator: %w", err)
			}
			current, _ := state.Result(ctx)
			if pars.OptimizeCell {
				// Cell optimization moves lattice vectors against the
				// stress tensor; a stress-less model is a setup error.
				if _, err := calc.ComputeStress(current); err != nil {
					return Propagation{}, fmt.Errorf("cell optimization: %w", err)
				}
			}

			tag := TagSafe
			out, err := optimizer.Run(ctx, OptimizeRequest{
				State:        current.Copy(),
				Calculator:   calc,
				Fmax:         pars.Fmax,
				OptimizeCell: pars.OptimizeCell,
			})
			if err != nil {
				if errors.Is(err, potential.ErrStressUnsupported) {
					return Propagation{}, err
				}
				logger.Warn("Optimizer gave up; tagging state unsafe.", "error", err)
				tag = TagUnsafe
			}

			next := current.Copy()
			next.ClearProperties()
			if len(out.Frames) > 0 {
				last := out.Frames[len(out.Frames)-1]
				next.Positions = append([][3]float64(nil), last.Positions...)
				if last.Cell != nil {
					cell := *last.Cell
					next.Cell = &cell
				}
			}
			if !trajectory.IsZero() {
				if err := dataset.WriteFile(trajectory.Path(), out.Frames); err != nil {
					return Propagation{}, err
				}
			}
			return Propagation{State: next, Tag: tag, Trajectory: trajectory}, nil
		})
	}
	return ec.RegisterApp("optimization", "propagate", propagate)
}
