package sampling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// Save persists the walker to dir: the start configuration, the current
// state and the parameter record. The file carrying the parameters is
// named after the strategy, which is how load recovers the walker kind.
func (w *Walker) Save(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	start, err := w.start.Result(ctx)
	if err != nil {
		return fmt.Errorf("resolving start state: %w", err)
	}
	state, err := w.state.Result(ctx)
	if err != nil {
		return fmt.Errorf("resolving current state: %w", err)
	}
	if err := dataset.WriteFile(filepath.Join(dir, "start.xyz"), []*dataset.Configuration{start}); err != nil {
		return err
	}
	if err := dataset.WriteFile(filepath.Join(dir, "state.xyz"), []*dataset.Configuration{state}); err != nil {
		return err
	}
	raw, err := yaml.Marshal(w.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, w.kind.Kind()+".yaml"), raw, 0o644)
}

// LoadWalker reconstructs a walker from a directory written by Save,
// bound to the given context. The kinds map supplies the strategy
// instances (with their engine collaborators) by strategy name.
func LoadWalker(ec *execution.Context, dir string, kinds map[string]Kind) (*Walker, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var kindName string
	for _, entry := range entries {
		if entry.Name() == "bias.yaml" {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), ".yaml"); ok {
			kindName = name
			break
		}
	}
	if kindName == "" {
		return nil, fmt.Errorf("no parameter record in %s", dir)
	}
	kind, ok := kinds[kindName]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for %q", kindName)
	}

	raw, err := os.ReadFile(filepath.Join(dir, kindName+".yaml"))
	if err != nil {
		return nil, err
	}
	var pars Parameters
	if err := yaml.Unmarshal(raw, &pars); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	start, err := readSingle(filepath.Join(dir, "start.xyz"))
	if err != nil {
		return nil, err
	}
	state, err := readSingle(filepath.Join(dir, "state.xyz"))
	if err != nil {
		return nil, err
	}
	w := New(ec, kind, start, pars)
	w.state = future.Completed(state)
	return w, nil
}

func readSingle(path string) (*dataset.Configuration, error) {
	configs, err := dataset.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(configs) != 1 {
		return nil, fmt.Errorf("%s holds %d configurations, expected one", path, len(configs))
	}
	return configs[0], nil
}

// biasRecord is the persisted form of a Bias.
type biasRecord struct {
	Input     string            `yaml:"input"`
	Artifacts map[string]string `yaml:"artifacts,omitempty"`
}

// Save persists the ensemble: one numbered subdirectory per walker, each
// holding the walker state plus that walker's bias, if any.
func (e *Ensemble) Save(ctx context.Context, dir string) error {
	for i, walker := range e.walkers {
		sub := filepath.Join(dir, fmt.Sprintf("%05d", i))
		if err := walker.Save(ctx, sub); err != nil {
			return err
		}
		b := e.biases[i]
		if b == nil {
			continue
		}
		record := biasRecord{Input: b.Input(), Artifacts: make(map[string]string)}
		b.mu.Lock()
		artifacts := make(map[string]*future.Future[execution.File], len(b.artifacts))
		for name, f := range b.artifacts {
			artifacts[name] = f
		}
		b.mu.Unlock()
		for name, f := range artifacts {
			file, err := f.Result(ctx)
			if err != nil {
				return fmt.Errorf("resolving bias artifact %q: %w", name, err)
			}
			target := "bias_" + name + ".txt"
			if err := execution.CopyFile(file, execution.ExternalFile(filepath.Join(sub, target))); err != nil {
				return err
			}
			record.Artifacts[name] = target
		}
		raw, err := yaml.Marshal(record)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(sub, "bias.yaml"), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnsemble reconstructs an ensemble saved by Save.
func LoadEnsemble(ec *execution.Context, dir string, kinds map[string]Kind) (*Ensemble, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var subs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subs = append(subs, entry.Name())
		}
	}
	sort.Strings(subs)
	if len(subs) == 0 {
		return nil, fmt.Errorf("no walker directories in %s", dir)
	}
	walkers := make([]*Walker, 0, len(subs))
	biases := make([]*Bias, 0, len(subs))
	for _, sub := range subs {
		path := filepath.Join(dir, sub)
		walker, err := LoadWalker(ec, path, kinds)
		if err != nil {
			return nil, err
		}
		walkers = append(walkers, walker)
		bias, err := loadBias(ec, path)
		if err != nil {
			return nil, err
		}
		biases = append(biases, bias)
	}
	return NewEnsemble(ec, walkers, biases)
}

func loadBias(ec *execution.Context, dir string) (*Bias, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "bias.yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record biasRecord
	if err := yaml.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding bias record: %w", err)
	}
	b := NewBias(ec, record.Input)
	for name, file := range record.Artifacts {
		b.AttachArtifact(name, execution.ExternalFile(filepath.Join(dir, file)))
	}
	return b, nil
}
