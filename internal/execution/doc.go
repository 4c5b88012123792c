// Package execution binds logical operations to named compute lanes.
//
// A Context owns the run's working directory, the lane pool declared in the
// execution config, the resource-definition registry, the per-container app
// registry (populated lazily, once per container kind), the collision-free
// file naming registry, and the memoization cache. Everything submitted
// through a Context returns a future immediately; the scheduling of the
// actual work follows data dependencies.
package execution
