package execution

import (
	"fmt"
	"time"
)

// Definition describes how one class of operations maps onto compute
// resources: which lane runs it, on which device, with how many cores.
// The set of definitions is closed; each kind may be registered at most
// once per Context.
type Definition interface {
	// Kind is the registry key, unique per definition type.
	Kind() string
	// LaneName is the executor lane the definition binds to.
	LaneName() string
	// DeviceName is "cpu" or "cuda".
	DeviceName() string
	// CoreCount is the resolved per-worker core count. Zero means
	// "inherit from the lane", resolved at registration time.
	CoreCount() int

	resolveCores(laneCores int) error
}

// coreResolution implements the shared cpu core-count resolution rule:
// an unset count inherits the lane's cores_per_worker (falling back to one),
// a set count must agree with a lane that declares one.
func coreResolution(cores *int, laneCores int, kind string) error {
	if *cores == 0 {
		if laneCores > 0 {
			*cores = laneCores
		} else {
			*cores = 1
		}
		return nil
	}
	if laneCores > 0 && laneCores != *cores {
		return fmt.Errorf("definition %q declares %d cores but its lane provides %d per worker", kind, *cores, laneCores)
	}
	return nil
}

// ModelExecution configures evaluation of a learned potential during
// sampling (dynamics, optimization).
type ModelExecution struct {
	Lane   string
	Device string
	Dtype  string
	Cores  int
}

func (d *ModelExecution) Kind() string       { return "model" }
func (d *ModelExecution) LaneName() string   { return d.Lane }
func (d *ModelExecution) DeviceName() string { return d.Device }
func (d *ModelExecution) CoreCount() int     { return d.Cores }

func (d *ModelExecution) resolveCores(laneCores int) error {
	if d.Device != "cpu" {
		return nil
	}
	return coreResolution(&d.Cores, laneCores, d.Kind())
}

// TrainingExecution configures model training runs.
type TrainingExecution struct {
	Lane     string
	Device   string
	Dtype    string
	Cores    int
	Walltime time.Duration
}

func (d *TrainingExecution) Kind() string       { return "training" }
func (d *TrainingExecution) LaneName() string   { return d.Lane }
func (d *TrainingExecution) DeviceName() string { return d.Device }
func (d *TrainingExecution) CoreCount() int     { return d.Cores }

func (d *TrainingExecution) resolveCores(laneCores int) error {
	if d.Device != "cpu" {
		return nil
	}
	return coreResolution(&d.Cores, laneCores, d.Kind())
}

// ReferenceExecution configures external ab-initio singlepoint evaluations.
type ReferenceExecution struct {
	Lane       string
	Device     string
	Cores      int
	MPICommand string // format string applied to the core count, e.g. "mpirun -np %d"
	Executable string
	Walltime   time.Duration
}

func (d *ReferenceExecution) Kind() string       { return "reference" }
func (d *ReferenceExecution) LaneName() string   { return d.Lane }
func (d *ReferenceExecution) DeviceName() string { return d.Device }
func (d *ReferenceExecution) CoreCount() int     { return d.Cores }

func (d *ReferenceExecution) resolveCores(laneCores int) error {
	if d.Device != "cpu" {
		return nil
	}
	return coreResolution(&d.Cores, laneCores, d.Kind())
}

// Command composes the full external command line: the mpi launcher
// rendered with the resolved core count, followed by the executable.
func (d *ReferenceExecution) Command() string {
	if d.MPICommand == "" {
		return d.Executable
	}
	return fmt.Sprintf(d.MPICommand, d.Cores) + " " + d.Executable
}
