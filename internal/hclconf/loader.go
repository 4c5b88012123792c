// Package hclconf loads the execution configuration from HCL. The file
// declares the named lanes (worker pools) and the resource definitions
// binding operation classes to those lanes.
package hclconf

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/execution"
)

type laneBlock struct {
	Name           string `hcl:"name,label"`
	Workers        int    `hcl:"workers"`
	CoresPerWorker *int   `hcl:"cores_per_worker,optional"`
}

type modelBlock struct {
	Lane   string `hcl:"lane,optional"`
	Device string `hcl:"device,optional"`
	Dtype  string `hcl:"dtype,optional"`
	Cores  *int   `hcl:"cores,optional"`
}

type trainingBlock struct {
	Lane     string   `hcl:"lane,optional"`
	Device   string   `hcl:"device,optional"`
	Dtype    string   `hcl:"dtype,optional"`
	Cores    *int     `hcl:"cores,optional"`
	Walltime *float64 `hcl:"walltime,optional"` // seconds
}

type referenceBlock struct {
	Lane       string   `hcl:"lane,optional"`
	Cores      *int     `hcl:"cores,optional"`
	MPI        string   `hcl:"mpi,optional"`
	Executable string   `hcl:"executable,optional"`
	Walltime   *float64 `hcl:"walltime,optional"` // seconds
}

type rootBlock struct {
	Lanes     []laneBlock     `hcl:"lane,block"`
	Model     *modelBlock     `hcl:"model_execution,block"`
	Training  *trainingBlock  `hcl:"training_execution,block"`
	Reference *referenceBlock `hcl:"reference_execution,block"`
}

// Loader translates an HCL execution file into the format-agnostic
// execution.Config consumed by execution.NewContext.
type Loader struct{}

// NewLoader creates a new HCL loader.
func NewLoader() *Loader { return &Loader{} }

// Load parses the file at path and returns the execution model.
func (l *Loader) Load(ctx context.Context, path string) (*execution.Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading execution config.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	var root rootBlock
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	cfg := &execution.Config{}
	for _, lb := range root.Lanes {
		lc := execution.LaneConfig{Name: lb.Name, Workers: lb.Workers}
		if lb.CoresPerWorker != nil {
			lc.CoresPerWorker = *lb.CoresPerWorker
		}
		cfg.Lanes = append(cfg.Lanes, lc)
	}
	if mb := root.Model; mb != nil {
		def := &execution.ModelExecution{
			Lane:   orDefault(mb.Lane, "model"),
			Device: orDefault(mb.Device, "cpu"),
			Dtype:  orDefault(mb.Dtype, "float32"),
		}
		if mb.Cores != nil {
			def.Cores = *mb.Cores
		}
		cfg.Definitions = append(cfg.Definitions, def)
	}
	if tb := root.Training; tb != nil {
		def := &execution.TrainingExecution{
			Lane:     orDefault(tb.Lane, "training"),
			Device:   orDefault(tb.Device, "cuda"),
			Dtype:    orDefault(tb.Dtype, "float32"),
			Walltime: seconds(tb.Walltime, 3600*time.Second),
		}
		if tb.Cores != nil {
			def.Cores = *tb.Cores
		}
		cfg.Definitions = append(cfg.Definitions, def)
	}
	if rb := root.Reference; rb != nil {
		def := &execution.ReferenceExecution{
			Lane:       orDefault(rb.Lane, "reference"),
			Device:     "cpu",
			MPICommand: rb.MPI,
			Executable: rb.Executable,
			Walltime:   seconds(rb.Walltime, 20*time.Second),
		}
		if rb.Cores != nil {
			def.Cores = *rb.Cores
		}
		cfg.Definitions = append(cfg.Definitions, def)
	}

	logger.Debug("Execution config loaded.", "lanes", len(cfg.Lanes), "definitions", len(cfg.Definitions))
	return cfg, nil
}

// evalContext exposes the process environment to config expressions, so
// site-specific paths stay out of checked-in files:
//
//	executable = env.CP2K_EXECUTABLE
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		if key, val, ok := strings.Cut(entry, "="); ok && key != "" {
			env[key] = cty.StringVal(val)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func seconds(val *float64, fallback time.Duration) time.Duration {
	if val == nil {
		return fallback
	}
	return time.Duration(*val * float64(time.Second))
}
