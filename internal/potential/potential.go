// Package potential defines the contract between the sampling layer and
// machine-learned interatomic potentials: how a deployed model artifact is
// loaded into a calculator and what a calculator must provide. The
// numerical internals of real potentials live behind this boundary.
package potential

import (
	"errors"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// ErrStressUnsupported signals that a calculator cannot provide the stress
// tensor. Pressure-controlled or cell-optimizing runs must surface this at
// the point of first use instead of failing numerically downstream.
var ErrStressUnsupported = errors.New("calculator does not support stress")

// Result holds one evaluation of a configuration.
type Result struct {
	Energy float64
	Forces [][3]float64
	// Stress is nil when the calculator does not support it.
	Stress *[3][3]float64
}

// Calculator computes energy, forces and optionally stress.
type Calculator interface {
	// Compute evaluates the configuration. Requesting stress from a
	// calculator without stress support returns ErrStressUnsupported
	// through ComputeStress, not through Compute.
	Compute(c *dataset.Configuration) (Result, error)
	// ComputeStress evaluates including the stress tensor, or returns
	// ErrStressUnsupported.
	ComputeStress(c *dataset.Configuration) (Result, error)
}

// LoadFunc turns a deployed model artifact into a calculator on the given
// device with the given numeric precision.
type LoadFunc func(artifactPath, device, dtype string) (Calculator, error)

// Model is a trained (or trainable) potential as seen by the sampling and
// evaluation layers: a deployed artifact per precision plus the loading
// contract.
type Model interface {
	// Artifact returns the deployed artifact future for a precision.
	Artifact(dtype string) (*future.Future[execution.File], error)
	// Load returns the calculator-loading function for this model family.
	Load() LoadFunc
}
