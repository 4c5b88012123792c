// Package dataset implements atomic configurations and the versioned,
// file-backed, deferred dataset abstraction built on top of them. A
// Dataset is a handle to a future of a single extended-XYZ file; every
// operation returns a new deferred handle, never mutating a backing file
// in place.
package dataset

import (
	"fmt"

	"github.com/vk/atomflow/internal/execution"
)

// Configuration is one atomic structure snapshot: numbers, positions, an
// optional periodic cell, and the metadata attached by sampling and
// reference evaluation.
type Configuration struct {
	Numbers   []int
	Positions [][3]float64
	Cell      *[3][3]float64

	Energy *float64
	Forces [][3]float64
	Stress *[3][3]float64

	ReferenceStatus bool
	ReferenceLog    string

	// Info holds fields not anticipated by the typed record.
	Info map[string]string
}

// Len returns the number of atoms.
func (c *Configuration) Len() int { return len(c.Numbers) }

// Periodic reports whether the configuration carries a cell.
func (c *Configuration) Periodic() bool { return c.Cell != nil }

// Validate checks the structural invariants: positions and forces match
// the atom count, and tensors are well-formed.
func (c *Configuration) Validate() error {
	if len(c.Positions) != len(c.Numbers) {
		return fmt.Errorf("configuration has %d positions for %d atoms", len(c.Positions), len(c.Numbers))
	}
	if c.Forces != nil && len(c.Forces) != len(c.Numbers) {
		return fmt.Errorf("configuration has %d force rows for %d atoms", len(c.Forces), len(c.Numbers))
	}
	return nil
}

// Copy returns a deep copy. Tensors are duplicated so that no two copies
// alias the same backing arrays.
func (c *Configuration) Copy() *Configuration {
	out := &Configuration{
		Numbers:         append([]int(nil), c.Numbers...),
		Positions:       append([][3]float64(nil), c.Positions...),
		ReferenceStatus: c.ReferenceStatus,
		ReferenceLog:    c.ReferenceLog,
	}
	if c.Cell != nil {
		cell := *c.Cell
		out.Cell = &cell
	}
	if c.Energy != nil {
		energy := *c.Energy
		out.Energy = &energy
	}
	if c.Forces != nil {
		out.Forces = append([][3]float64(nil), c.Forces...)
	}
	if c.Stress != nil {
		stress := *c.Stress
		out.Stress = &stress
	}
	if c.Info != nil {
		out.Info = make(map[string]string, len(c.Info))
		for k, v := range c.Info {
			out.Info[k] = v
		}
	}
	return out
}

// ClearProperties strips the derived physical properties, leaving the
// structure itself untouched.
func (c *Configuration) ClearProperties() {
	c.Energy = nil
	c.Forces = nil
	c.Stress = nil
}

// Digest is the memoization identity of the structure: atomic numbers plus
// cell and positions rounded to four decimals, so bitwise noise on an
// otherwise identical structure does not defeat the cache.
func (c *Configuration) Digest() string {
	parts := make([]any, 0, 1+9+3*len(c.Positions))
	parts = append(parts, fmt.Sprintf("%v", c.Numbers))
	if c.Cell != nil {
		for _, row := range c.Cell {
			parts = append(parts, row[0], row[1], row[2])
		}
	}
	for _, p := range c.Positions {
		parts = append(parts, p[0], p[1], p[2])
	}
	return execution.Digest(parts...)
}
