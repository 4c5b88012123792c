package sampling

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// bias is one resolved snapshot of a Bias: the input text plus the
// current version of every named artifact.
type bias struct {
	input     string
	artifacts map[string]execution.File
}

// Bias is an externally supplied enhanced-sampling specification plus its
// time-accumulated data artifacts (deposited history and the like). The
// artifacts are explicit, versioned files threaded from one propagation's
// outputs into the next call's inputs; bias state is never engine-internal
// memory.
type Bias struct {
	ec    *execution.Context
	input string

	mu        sync.Mutex
	artifacts map[string]*future.Future[execution.File]
}

// NewBias wraps a bias input text. Artifacts are attached separately.
func NewBias(ec *execution.Context, input string) *Bias {
	return &Bias{ec: ec, input: input, artifacts: make(map[string]*future.Future[execution.File])}
}

// Input returns the bias specification text.
func (b *Bias) Input() string { return b.input }

// AttachArtifact registers the current version of a named data artifact,
// typically an existing accumulated-history file.
func (b *Bias) AttachArtifact(name string, file execution.File) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifacts[name] = future.Completed(file)
}

// Artifact returns the current version future of a named artifact.
func (b *Bias) Artifact(name string) (*future.Future[execution.File], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	artifact, ok := b.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("bias has no artifact %q", name)
	}
	return artifact, nil
}

// snapshot captures the input and the artifact versions as of now, as a
// single future resolving when all current versions exist.
func (b *Bias) snapshot() *future.Future[bias] {
	b.mu.Lock()
	current := make(map[string]*future.Future[execution.File], len(b.artifacts))
	for name, f := range b.artifacts {
		current[name] = f
	}
	input := b.input
	b.mu.Unlock()

	out, resolve := future.New[bias]()
	go func() {
		snap := bias{input: input, artifacts: make(map[string]execution.File, len(current))}
		for name, f := range current {
			<-f.Done()
			if err := f.Err(); err != nil {
				resolve(bias{}, err)
				return
			}
			file, _ := f.Result(context.Background())
			snap.artifacts[name] = file
		}
		resolve(snap, nil)
	}()
	return out
}

// advance allocates the next version file for every artifact and repoints
// the bias at futures that resolve once the given propagation completes.
// The propagation task writes the returned handles.
func (b *Bias) advance(result *future.Future[Propagation]) (map[string]execution.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]execution.File, len(b.artifacts))
	for name := range b.artifacts {
		file, err := b.ec.NewFile("bias_", ".txt")
		if err != nil {
			return nil, err
		}
		next[name] = file
		handle := file
		b.artifacts[name] = future.Map(result, func(Propagation) (execution.File, error) {
			return handle, nil
		})
	}
	return next, nil
}
