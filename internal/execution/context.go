package execution

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vk/atomflow/internal/ctxlog"
)

// LaneConfig declares one named worker pool.
type LaneConfig struct {
	Name           string
	Workers        int
	CoresPerWorker int
}

// Config is the format-agnostic execution model handed to NewContext.
// The hclconf package produces it from an .hcl file; tests build it
// directly.
type Config struct {
	Lanes       []LaneConfig
	Definitions []Definition
}

// lane is a named pool bounding how many submitted tasks run at once.
type lane struct {
	name           string
	coresPerWorker int
	sem            *semaphore.Weighted
}

// Context is the per-run execution state. One Context per working
// directory; components receive it explicitly at construction.
type Context struct {
	baseCtx context.Context
	dir     string
	lanes   map[string]*lane

	mu        sync.Mutex
	defs      map[string]Definition
	apps      map[string]map[string]any
	appOnces  map[string]*sync.Once
	appErrors map[string]error

	fileMu    sync.Mutex
	fileIndex map[fileKey]int

	memoMu sync.Mutex
	memo   map[string]any
}

// NewContext builds a Context from an execution config. The working
// directory is created if absent. The supplied base context must carry a
// logger (ctxlog); it bounds the lifetime of every task submitted later.
func NewContext(ctx context.Context, cfg *Config, dir string) (*Context, error) {
	ctxlog.FromContext(ctx) // fail fast on a logger-less context
	if len(cfg.Lanes) == 0 {
		return nil, fmt.Errorf("execution config declares no lanes")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	lanes := make(map[string]*lane, len(cfg.Lanes))
	for _, lc := range cfg.Lanes {
		if lc.Name == "" {
			return nil, fmt.Errorf("lane with empty name")
		}
		if _, ok := lanes[lc.Name]; ok {
			return nil, fmt.Errorf("duplicate lane %q", lc.Name)
		}
		if lc.Workers < 1 {
			return nil, fmt.Errorf("lane %q must have at least one worker", lc.Name)
		}
		lanes[lc.Name] = &lane{
			name:           lc.Name,
			coresPerWorker: lc.CoresPerWorker,
			sem:            semaphore.NewWeighted(int64(lc.Workers)),
		}
	}
	if _, ok := lanes["default"]; !ok {
		return nil, fmt.Errorf("execution config must declare a %q lane", "default")
	}
	ec := &Context{
		baseCtx:   ctx,
		dir:       dir,
		lanes:     lanes,
		defs:      make(map[string]Definition),
		apps:      make(map[string]map[string]any),
		appOnces:  make(map[string]*sync.Once),
		appErrors: make(map[string]error),
		fileIndex: make(map[fileKey]int),
		memo:      make(map[string]any),
	}
	for _, def := range cfg.Definitions {
		if err := ec.Register(def); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// Dir returns the run's working directory.
func (ec *Context) Dir() string { return ec.dir }

// BaseContext returns the context every submitted task runs under. It
// carries the run's logger and bounds the lifetime of deferred work.
func (ec *Context) BaseContext() context.Context { return ec.baseCtx }

// Register stores one resource definition keyed by its kind. The lane must
// exist, the kind must not be registered yet, and cpu definitions have
// their core count resolved against the lane's configuration.
func (ec *Context) Register(def Definition) error {
	ln, ok := ec.lanes[def.LaneName()]
	if !ok {
		return fmt.Errorf("definition %q references unknown lane %q", def.Kind(), def.LaneName())
	}
	if err := def.resolveCores(ln.coresPerWorker); err != nil {
		return err
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, ok := ec.defs[def.Kind()]; ok {
		return fmt.Errorf("definition %q already registered", def.Kind())
	}
	ec.defs[def.Kind()] = def
	return nil
}

// Definition returns the registered definition of the given kind.
func (ec *Context) Definition(kind string) (Definition, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	def, ok := ec.defs[kind]
	if !ok {
		return nil, fmt.Errorf("no %q execution definition registered", kind)
	}
	return def, nil
}

func (ec *Context) lane(name string) (*lane, error) {
	ln, ok := ec.lanes[name]
	if !ok {
		return nil, fmt.Errorf("unknown lane %q", name)
	}
	return ln, nil
}
