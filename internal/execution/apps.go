package execution

import (
	"fmt"
	"sync"
)

// AppFactory is implemented by operation containers (dataset, walker kinds,
// reference methods). CreateApps registers every operation of the container
// against the context, binding each to the lane and resource parameters it
// requires. It runs at most once per kind.
type AppFactory interface {
	Kind() string
	CreateApps(ec *Context) error
}

// Apps returns the registered operation of the given container. On first
// access per container kind, the container's CreateApps hook runs;
// subsequent calls are served from the registry. Callers assert the
// returned value to the operation's concrete function type.
func (ec *Context) Apps(factory AppFactory, name string) (any, error) {
	kind := factory.Kind()
	ec.mu.Lock()
	once, ok := ec.appOnces[kind]
	if !ok {
		once = new(sync.Once)
		ec.appOnces[kind] = once
	}
	ec.mu.Unlock()

	once.Do(func() {
		if err := factory.CreateApps(ec); err != nil {
			ec.mu.Lock()
			ec.appErrors[kind] = err
			ec.mu.Unlock()
		}
	})

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if err := ec.appErrors[kind]; err != nil {
		return nil, fmt.Errorf("creating apps for %q: %w", kind, err)
	}
	app, ok := ec.apps[kind][name]
	if !ok {
		return nil, fmt.Errorf("container %q has no app %q", kind, name)
	}
	return app, nil
}

// RegisterApp stores one named operation for a container kind. Registering
// the same name twice for one container is a setup error.
func (ec *Context) RegisterApp(kind, name string, app any) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ops, ok := ec.apps[kind]
	if !ok {
		ops = make(map[string]any)
		ec.apps[kind] = ops
	}
	if _, ok := ops[name]; ok {
		return fmt.Errorf("app %q already registered for container %q", name, kind)
	}
	ops[name] = app
	return nil
}
