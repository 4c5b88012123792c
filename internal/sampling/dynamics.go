package sampling

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
	"github.com/vk/atomflow/internal/potential"
)

// ErrForceExceeded is the sentinel a dynamics engine wraps when the
// force-magnitude safety threshold is violated mid-run. The violation is
// recovered at the propagation boundary, never surfaced to callers.
var ErrForceExceeded = errors.New("force threshold exceeded")

// EngineRequest is the invocation contract of an external dynamics engine.
type EngineRequest struct {
	State      *dataset.Configuration
	Parameters Parameters
	Calculator potential.Calculator
	// BiasInput is the prepared bias specification, empty without bias.
	BiasInput string
	// BiasArtifacts maps artifact names to local paths the engine reads
	// and appends to (time-accumulated bias state).
	BiasArtifacts map[string]string
}

// EngineResult carries the frames recorded at the requested stride, in
// order. On a force-threshold violation the engine returns the frames up
// to the violation together with an ErrForceExceeded-wrapped error.
type EngineResult struct {
	Frames []*dataset.Configuration
}

// Engine propagates a configuration through molecular dynamics. The
// integrator internals are outside this module; only this contract is.
type Engine interface {
	Run(ctx context.Context, req EngineRequest) (EngineResult, error)
}

// DynamicKind runs molecular dynamics through an injected engine, bound
// to the model execution definition's lane and device.
type DynamicKind struct {
	Engine Engine
}

func (DynamicKind) Kind() string { return "dynamic" }

func (k DynamicKind) CreateApps(ec *execution.Context) error {
	def, err := ec.Definition("model")
	if err != nil {
		return err
	}
	model := def.(*execution.ModelExecution)
	engine := k.Engine
	if engine == nil {
		return fmt.Errorf("dynamic walker requires a dynamics engine")
	}

	var propagate propagateApp = func(state *future.Future[*dataset.Configuration], pars Parameters, opts PropagateOptions, trajectory execution.File) *future.Future[Propagation] {
		if opts.Model == nil {
			return future.Failed[Propagation](fmt.Errorf("dynamic propagation requires a model"))
		}
		artifact, err := opts.Model.Artifact(model.Dtype)
		if err != nil {
			return future.Failed[Propagation](err)
		}
		deps := []future.Waiter{state, artifact}
		var biasState *future.Future[bias]
		if opts.Bias != nil {
			biasState = opts.Bias.snapshot()
			deps = append(deps, biasState)
		}
		// Pre-allocate the file the updated bias artifact will land in,
		// and thread it into the bias handle as the new version.
		var nextArtifacts map[string]execution.File
		result, resolve := future.New[Propagation]()
		if opts.Bias != nil {
			if nextArtifacts, err = opts.Bias.advance(result); err != nil {
				return future.Failed[Propagation](err)
			}
		}

		task := execution.Submit(ec, model.Lane, deps, func(ctx context.Context) (Propagation, error) {
			logger := ctxlog.FromContext(ctx)
			artifactFile, _ := artifact.Result(ctx)
			calc, err := opts.Model.Load()(artifactFile.Path(), model.Device, model.Dtype)
			if err != nil {
				return Propagation{}, fmt.Errorf("loading calculator: %w", err)
			}
			current, _ := state.Result(ctx)
			if pars.Pressure != nil {
				// Pressure-controlled sampling needs stress from the
				// model; surface the capability gap before integrating.
				if _, err := calc.ComputeStress(current); err != nil {
					return Propagation{}, fmt.Errorf("pressure-controlled dynamics: %w", err)
				}
			}

			req := EngineRequest{
				State:      current.Copy(),
				Parameters: pars,
				Calculator: calc,
			}
			var backups map[string][]byte
			if opts.Bias != nil {
				snap, _ := biasState.Result(ctx)
				req.BiasInput = snap.input
				req.BiasArtifacts = make(map[string]string, len(snap.artifacts))
				backups = make(map[string][]byte, len(snap.artifacts))
				for name, file := range snap.artifacts {
					// The engine appends in place to a fresh copy; the
					// prior version stays untouched for sibling readers.
					next := nextArtifacts[name]
					if err := execution.CopyFile(file, next); err != nil {
						return Propagation{}, err
					}
					content, err := os.ReadFile(next.Path())
					if err != nil {
						return Propagation{}, err
					}
					backups[name] = content
					req.BiasArtifacts[name] = next.Path()
				}
			}

			tag := TagSafe
			out, err := engine.Run(ctx, req)
			if err != nil {
				if !errors.Is(err, ErrForceExceeded) {
					if errors.Is(err, potential.ErrStressUnsupported) {
						return Propagation{}, err
					}
					logger.Warn("Dynamics engine failed; tagging state unsafe.", "error", err)
				} else {
					logger.Info("Tagging state unsafe.", "reason", err.Error())
				}
				tag = TagUnsafe
				// Unsafe runs must not contaminate accumulated bias
				// state; restore the pre-run artifact contents.
				for name, content := range backups {
					if err := os.WriteFile(nextArtifacts[name].Path(), content, 0o644); err != nil {
						return Propagation{}, err
					}
				}
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
		go func() {
			<-task.Done()
			val, _ := task.Result(context.Background())
			resolve(val, task.Err())
		}()
		return result
	}
	return ec.RegisterApp("dynamic", "propagate", propagate)
}
