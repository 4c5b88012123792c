package dataset

import (
	"context"
	"fmt"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// laneName is the lane every dataset operation runs on.
const laneName = "default"

// Dataset is an ownership handle over a deferred sequence of
// configurations materialized as a single extended-XYZ file. The file is
// the single source of truth; operations produce fresh files and fresh
// handles, so concurrent readers of an existing handle are always safe.
type Dataset struct {
	ec   *execution.Context
	data *future.Future[execution.File]
}

func newWithFile(ec *execution.Context, data *future.Future[execution.File]) *Dataset {
	return &Dataset{ec: ec, data: data}
}

// File exposes the backing-file future, the input contract for downstream
// containers.
func (d *Dataset) File() *future.Future[execution.File] { return d.data }

// Context returns the execution context the dataset is bound to.
func (d *Dataset) Context() *execution.Context { return d.ec }

// New builds a dataset from fully materialized configurations.
func New(ec *execution.Context, configs []*Configuration) (*Dataset, error) {
	copies := make([]*Configuration, len(configs))
	for i, c := range configs {
		copies[i] = c.Copy()
	}
	return FromFuture(ec, future.Completed(copies))
}

// FromFutures builds a dataset from pending per-configuration futures.
// Entries that resolve to nil or to an error are dropped before writing;
// this is how failed propagations are excluded without raising.
func FromFutures(ec *execution.Context, states []*future.Future[*Configuration]) (*Dataset, error) {
	write, err := app[writeApp](ec, "write")
	if err != nil {
		return nil, err
	}
	out, err := ec.NewFile("data_", ".xyz")
	if err != nil {
		return nil, err
	}
	return newWithFile(ec, write(states, nil, out)), nil
}

// FromFuture builds a dataset from a single future of a whole sequence.
func FromFuture(ec *execution.Context, states *future.Future[[]*Configuration]) (*Dataset, error) {
	write, err := app[writeApp](ec, "write")
	if err != nil {
		return nil, err
	}
	out, err := ec.NewFile("data_", ".xyz")
	if err != nil {
		return nil, err
	}
	return newWithFile(ec, write(nil, states, out)), nil
}

// FromFile wraps a deferred backing file produced elsewhere (a recorded
// trajectory, a joined file) into a dataset handle without copying.
func FromFile(ec *execution.Context, data *future.Future[execution.File]) *Dataset {
	return newWithFile(ec, data)
}

// Load opens an existing extended-XYZ file, copying it into the run's
// working directory so later appends never touch the original.
func Load(ec *execution.Context, path string) (*Dataset, error) {
	cp, err := app[copyApp](ec, "copy")
	if err != nil {
		return nil, err
	}
	out, err := ec.NewFile("data_", ".xyz")
	if err != nil {
		return nil, err
	}
	src := future.Completed(execution.ExternalFile(path))
	return newWithFile(ec, cp(src, out)), nil
}

// Length returns the deferred number of configurations.
func (d *Dataset) Length() *future.Future[int] {
	length, err := app[lengthApp](d.ec, "length")
	if err != nil {
		return future.Failed[int](err)
	}
	return length(d.data)
}

// Get returns the deferred configuration at a scalar index.
func (d *Dataset) Get(index int) *future.Future[*Configuration] {
	return d.GetFuture(future.Completed(index))
}

// GetFuture is Get with a not-yet-resolved index.
func (d *Dataset) GetFuture(index *future.Future[int]) *future.Future[*Configuration] {
	readOne, err := app[readOneApp](d.ec, "read_one")
	if err != nil {
		return future.Failed[*Configuration](err)
	}
	return readOne(index, d.data)
}

// Slice returns a new dataset restricted to the given indices.
func (d *Dataset) Slice(indices ...int) *Dataset {
	return d.SliceFuture(future.Completed(append([]int(nil), indices...)))
}

// SliceFuture is Slice with a deferred index list, enabling chains where
// the filter criterion is itself the result of a prior computation.
func (d *Dataset) SliceFuture(indices *future.Future[[]int]) *Dataset {
	readMany, err := app[readManyApp](d.ec, "read_many")
	if err != nil {
		return newWithFile(d.ec, future.Failed[execution.File](err))
	}
	out, err := d.ec.NewFile("data_", ".xyz")
	if err != nil {
		return newWithFile(d.ec, future.Failed[execution.File](err))
	}
	return newWithFile(d.ec, readMany(indices, d.data, out))
}

// AsList materializes the whole dataset. This is an explicit resolve
// point: it blocks until the backing file exists.
func (d *Dataset) AsList(ctx context.Context) ([]*Configuration, error) {
	file, err := d.data.Result(ctx)
	if err != nil {
		return nil, err
	}
	return ReadFile(file.Path())
}

// Append concatenates other onto d into a fresh backing file and repoints
// this handle at it. Previously issued sibling handles keep referring to
// the old file; versioning is by handle, not by file.
func (d *Dataset) Append(other *Dataset) error {
	join, err := app[joinApp](d.ec, "join")
	if err != nil {
		return err
	}
	out, err := d.ec.NewFile("data_", ".xyz")
	if err != nil {
		return err
	}
	d.data = join(d.data, other.data, out)
	return nil
}

// Save copies the current backing file to a stable external path. With
// wait set, it blocks until the copy is on disk.
func (d *Dataset) Save(ctx context.Context, path string, wait bool) (*future.Future[execution.File], error) {
	cp, err := app[copyApp](d.ec, "copy")
	if err != nil {
		return nil, err
	}
	out := cp(d.data, execution.ExternalFile(path))
	if wait {
		if _, err := out.Result(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Success returns the deferred indices with ReferenceStatus set.
func (d *Dataset) Success() *future.Future[[]int] {
	return d.indicesByStatus(true)
}

// Failed returns the deferred indices with ReferenceStatus unset.
func (d *Dataset) Failed() *future.Future[[]int] {
	return d.indicesByStatus(false)
}

func (d *Dataset) indicesByStatus(status bool) *future.Future[[]int] {
	indices, err := app[indicesApp](d.ec, "indices_by_status")
	if err != nil {
		return future.Failed[[]int](err)
	}
	return indices(status, d.data)
}

// Errors computes the per-configuration error array between two datasets,
// or the intrinsic property magnitudes of a when b is nil. See metrics.go
// for the supported metrics, properties and units.
func Errors(a, b *Dataset, opts ErrorOptions) *future.Future[[][]float64] {
	metrics, err := app[metricsApp](a.ec, "compute_metrics")
	if err != nil {
		return future.Failed[[][]float64](err)
	}
	var bFile *future.Future[execution.File]
	if b != nil {
		bFile = b.data
	}
	return metrics(opts, a.data, bFile)
}

// app fetches a registered dataset operation with its concrete type.
func app[T any](ec *execution.Context, name string) (T, error) {
	var zero T
	raw, err := ec.Apps(factory{}, name)
	if err != nil {
		return zero, err
	}
	fn, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("dataset app %q has unexpected type %T", name, raw)
	}
	return fn, nil
}

// Operation function types, registered by the factory below.
type (
	writeApp    func(perState []*future.Future[*Configuration], whole *future.Future[[]*Configuration], out execution.File) *future.Future[execution.File]
	copyApp     func(in *future.Future[execution.File], out execution.File) *future.Future[execution.File]
	readOneApp  func(index *future.Future[int], in *future.Future[execution.File]) *future.Future[*Configuration]
	readManyApp func(indices *future.Future[[]int], in *future.Future[execution.File], out execution.File) *future.Future[execution.File]
	joinApp     func(a, b *future.Future[execution.File], out execution.File) *future.Future[execution.File]
	lengthApp   func(in *future.Future[execution.File]) *future.Future[int]
	indicesApp  func(status bool, in *future.Future[execution.File]) *future.Future[[]int]
	metricsApp  func(opts ErrorOptions, a *future.Future[execution.File], b *future.Future[execution.File]) *future.Future[[][]float64]
)

// factory registers the dataset operations against an execution context,
// all bound to the default lane.
type factory struct{}

func (factory) Kind() string { return "dataset" }

func (factory) CreateApps(ec *execution.Context) error {
	register := func(name string, fn any) error {
		return ec.RegisterApp("dataset", name, fn)
	}

	var write writeApp = func(perState []*future.Future[*Configuration], whole *future.Future[[]*Configuration], out execution.File) *future.Future[execution.File] {
		// Dependencies resolve inside the task body: a failed entry must
		// be dropped, not fail the whole write.
		return execution.Submit(ec, laneName, nil, func(ctx context.Context) (execution.File, error) {
			var configs []*Configuration
			if whole != nil {
				resolved, err := whole.Result(ctx)
				if err != nil {
					return execution.File{}, err
				}
				configs = resolved
			} else {
				logger := ctxlog.FromContext(ctx)
				for _, f := range perState {
					c, err := f.Result(ctx)
					if err != nil {
						// A failed upstream computation is an absent
						// entry, not a dataset failure.
						logger.Debug("Dropping failed state from dataset.", "error", err)
						continue
					}
					configs = append(configs, c)
				}
			}
			kept := configs[:0:0]
			for _, c := range configs {
				if c != nil {
					kept = append(kept, c)
				}
			}
			if err := WriteFile(out.Path(), kept); err != nil {
				return execution.File{}, err
			}
			return out, nil
		})
	}
	if err := register("write", write); err != nil {
		return err
	}

	var cp copyApp = func(in *future.Future[execution.File], out execution.File) *future.Future[execution.File] {
		return execution.Submit(ec, laneName, []future.Waiter{in}, func(ctx context.Context) (execution.File, error) {
			src, _ := in.Result(ctx)
			if err := execution.CopyFile(src, out); err != nil {
				return execution.File{}, err
			}
			return out, nil
		})
	}
	if err := register("copy", cp); err != nil {
		return err
	}

	var readOne readOneApp = func(index *future.Future[int], in *future.Future[execution.File]) *future.Future[*Configuration] {
		return execution.Submit(ec, laneName, []future.Waiter{index, in}, func(ctx context.Context) (*Configuration, error) {
			i, _ := index.Result(ctx)
			file, _ := in.Result(ctx)
			configs, err := ReadFile(file.Path())
			if err != nil {
				return nil, err
			}
			if i < 0 || i >= len(configs) {
				return nil, fmt.Errorf("index %d out of range for dataset of length %d", i, len(configs))
			}
			return configs[i], nil
		})
	}
	if err := register("read_one", readOne); err != nil {
		return err
	}

	var readMany readManyApp = func(indices *future.Future[[]int], in *future.Future[execution.File], out execution.File) *future.Future[execution.File] {
		return execution.Submit(ec, laneName, []future.Waiter{indices, in}, func(ctx context.Context) (execution.File, error) {
			idx, _ := indices.Result(ctx)
			file, _ := in.Result(ctx)
			configs, err := ReadFile(file.Path())
			if err != nil {
				return execution.File{}, err
			}
			selected := make([]*Configuration, 0, len(idx))
			for _, i := range idx {
				if i < 0 || i >= len(configs) {
					return execution.File{}, fmt.Errorf("index %d out of range for dataset of length %d", i, len(configs))
				}
				selected = append(selected, configs[i])
			}
			if err := WriteFile(out.Path(), selected); err != nil {
				return execution.File{}, err
			}
			return out, nil
		})
	}
	if err := register("read_many", readMany); err != nil {
		return err
	}

	var join joinApp = func(a, b *future.Future[execution.File], out execution.File) *future.Future[execution.File] {
		return execution.Submit(ec, laneName, []future.Waiter{a, b}, func(ctx context.Context) (execution.File, error) {
			fileA, _ := a.Result(ctx)
			fileB, _ := b.Result(ctx)
			first, err := ReadFile(fileA.Path())
			if err != nil {
				return execution.File{}, err
			}
			second, err := ReadFile(fileB.Path())
			if err != nil {
				return execution.File{}, err
			}
			if err := WriteFile(out.Path(), append(first, second...)); err != nil {
				return execution.File{}, err
			}
			return out, nil
		})
	}
	if err := register("join", join); err != nil {
		return err
	}

	var length lengthApp = func(in *future.Future[execution.File]) *future.Future[int] {
		return execution.Submit(ec, laneName, []future.Waiter{in}, func(ctx context.Context) (int, error) {
			file, _ := in.Result(ctx)
			configs, err := ReadFile(file.Path())
			if err != nil {
				return 0, err
			}
			return len(configs), nil
		})
	}
	if err := register("length", length); err != nil {
		return err
	}

	var indices indicesApp = func(status bool, in *future.Future[execution.File]) *future.Future[[]int] {
		return execution.Submit(ec, laneName, []future.Waiter{in}, func(ctx context.Context) ([]int, error) {
			file, _ := in.Result(ctx)
			configs, err := ReadFile(file.Path())
			if err != nil {
				return nil, err
			}
			var out []int
			for i, c := range configs {
				if c.ReferenceStatus == status {
					out = append(out, i)
				}
			}
			return out, nil
		})
	}
	if err := register("indices_by_status", indices); err != nil {
		return err
	}

	var metrics metricsApp = func(opts ErrorOptions, a *future.Future[execution.File], b *future.Future[execution.File]) *future.Future[[][]float64] {
		deps := []future.Waiter{a}
		if b != nil {
			deps = append(deps, b)
		}
		return execution.Submit(ec, laneName, deps, func(ctx context.Context) ([][]float64, error) {
			fileA, _ := a.Result(ctx)
			first, err := ReadFile(fileA.Path())
			if err != nil {
				return nil, err
			}
			var second []*Configuration
			if b != nil {
				fileB, _ := b.Result(ctx)
				if second, err = ReadFile(fileB.Path()); err != nil {
					return nil, err
				}
			}
			return computeMetrics(first, second, opts)
		})
	}
	return register("compute_metrics", metrics)
}
