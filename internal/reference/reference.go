// Package reference implements the ab-initio evaluation pipeline: it
// invokes an external quantum-chemistry process per configuration under a
// walltime budget, parses its output into physical properties, and
// classifies every configuration as evaluated or failed. Failures are
// data (a cleared status flag plus a diagnostic log), never errors.
package reference

import (
	"context"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// Parameters is the method-specific input: a templated base input text
// plus auxiliary data files (basis sets, pseudopotentials) keyed by the
// name the input refers to them by.
type Parameters struct {
	Input string
	Data  map[string]string
}

// Digest is the memoization identity of a parameter record.
func (p Parameters) Digest() string {
	parts := []any{p.Input}
	for _, key := range sortedKeys(p.Data) {
		parts = append(parts, key, p.Data[key])
	}
	return execution.Digest(parts...)
}

// Properties is the parsed result of a successful evaluation.
type Properties struct {
	Energy float64
	Forces [][3]float64
	Stress *[3][3]float64
}

// InputTemplater assembles the per-call input file from the base input,
// the structure under evaluation and the on-disk paths of the auxiliary
// data files. The concrete text format belongs to the external program.
type InputTemplater interface {
	Render(base string, c *dataset.Configuration, dataPaths map[string]string) (string, error)
}

// OutputParser extracts physical properties from the process transcript.
// A parse error marks the configuration failed; it is never surfaced.
type OutputParser interface {
	Parse(stdout string, c *dataset.Configuration) (Properties, error)
}

// Method evaluates configurations with one external reference program,
// bound to the reference execution definition's lane, command and
// walltime.
type Method struct {
	ec        *execution.Context
	pars      Parameters
	templater InputTemplater
	parser    OutputParser
}

// NewMethod builds a reference method from its parameters and the two
// format collaborators.
func NewMethod(ec *execution.Context, pars Parameters, templater InputTemplater, parser OutputParser) *Method {
	return &Method{ec: ec, pars: pars, templater: templater, parser: parser}
}

// evaluateApp is the registered singlepoint operation.
type evaluateApp func(state *future.Future[*dataset.Configuration], pars Parameters) *future.Future[*dataset.Configuration]

// Kind implements execution.AppFactory.
func (m *Method) Kind() string { return "reference" }

// CreateApps implements execution.AppFactory. The singlepoint app is
// memoized on the structure, parameters and launch command, so
// re-evaluating an identical configuration reuses the earlier result.
func (m *Method) CreateApps(ec *execution.Context) error {
	def, err := ec.Definition("reference")
	if err != nil {
		return err
	}
	refDef := def.(*execution.ReferenceExecution)
	command := refDef.Command()
	walltime := refDef.Walltime
	templater := m.templater
	parser := m.parser

	var evaluate evaluateApp = func(state *future.Future[*dataset.Configuration], pars Parameters) *future.Future[*dataset.Configuration] {
		out, resolve := future.New[*dataset.Configuration]()
		// The memoization key needs the resolved structure, so the
		// cached task is submitted only once the input completes.
		go func() {
			c, err := state.Result(ec.BaseContext())
			if err != nil {
				resolve(nil, err)
				return
			}
			key := execution.Digest(c.Digest(), pars.Digest(), command)
			cached := execution.SubmitCached(ec, refDef.Lane, key, nil, func(ctx context.Context) (*dataset.Configuration, error) {
				return singlepoint(ctx, c, pars, command, walltime, templater, parser), nil
			})
			resolve(cached.Result(ec.BaseContext()))
		}()
		return out
	}
	return ec.RegisterApp("reference", "evaluate", evaluate)
}

// Evaluate runs one singlepoint calculation. The returned configuration
// carries the parsed properties and a set status on success, or the
// process transcript and a cleared status on any failure.
func (m *Method) Evaluate(state *future.Future[*dataset.Configuration]) (*future.Future[*dataset.Configuration], error) {
	evaluate, err := appFor(m.ec, m)
	if err != nil {
		return nil, err
	}
	return evaluate(state, m.pars), nil
}

// EvaluateDataset evaluates every configuration of a dataset and returns
// a new dataset holding the results, in order. Failed evaluations stay
// in the output with their status cleared.
func (m *Method) EvaluateDataset(d *dataset.Dataset) (*dataset.Dataset, error) {
	evaluate, err := appFor(m.ec, m)
	if err != nil {
		return nil, err
	}
	pars := m.pars
	ec := m.ec
	states, resolve := future.New[[]*dataset.Configuration]()
	go func() {
		configs, err := d.AsList(ec.BaseContext())
		if err != nil {
			resolve(nil, err)
			return
		}
		evaluated := make([]*future.Future[*dataset.Configuration], len(configs))
		for i, c := range configs {
			evaluated[i] = evaluate(future.Completed(c), pars)
		}
		out := make([]*dataset.Configuration, len(configs))
		for i, f := range evaluated {
			out[i], err = f.Result(ec.BaseContext())
			if err != nil {
				resolve(nil, err)
				return
			}
		}
		resolve(out, nil)
	}()
	return dataset.FromFuture(ec, states)
}

func appFor(ec *execution.Context, m *Method) (evaluateApp, error) {
	raw, err := ec.Apps(m, "evaluate")
	if err != nil {
		return nil, err
	}
	return raw.(evaluateApp), nil
}
