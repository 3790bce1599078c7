package remediation

import (
	"fmt"
	"sort"
	"sync"
)

// Descriptor names an action type and its place in the run order.
// Lower priorities run first; priorities are unique within a registry.
type Descriptor struct {
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority" yaml:"priority"`
}

// Instance is a constructed action ready to run.
type Instance struct {
	Descriptor
	Action Action
}

// BuildError reports an action type that failed to construct.
type BuildError struct {
	Descriptor Descriptor
	Err        error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building action %s: %v", e.Descriptor.Name, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

type entry struct {
	desc    Descriptor
	factory Factory
}

// Registry holds the known action types ordered by priority.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an action type. Names and priorities must be unique.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.Name == "" || factory == nil {
		return fmt.Errorf("%w: name and factory are required", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.desc.Name == desc.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, desc.Name)
		}
		if e.desc.Priority == desc.Priority {
			return fmt.Errorf("%w: %d used by %s and %s", ErrDuplicatePriority, desc.Priority, e.desc.Name, desc.Name)
		}
	}

	r.entries = append(r.entries, entry{desc: desc, factory: factory})
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].desc.Priority < r.entries[j].desc.Priority
	})
	return nil
}

// MustRegister is Register that panics on error, for static registration.
func (r *Registry) MustRegister(desc Descriptor, factory Factory) {
	if err := r.Register(desc, factory); err != nil {
		panic(err)
	}
}

// Descriptors returns the registered action types in run order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc
	}
	return out
}

// Len returns the number of registered action types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Build constructs every registered action for target in run order. A type
// that fails to construct is reported in the returned errors and skipped;
// the others are still built.
func (r *Registry) Build(deps *Deps, target Target) ([]Instance, []error) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	instances := make([]Instance, 0, len(entries))
	var errs []error
	for _, e := range entries {
		action, err := construct(e, deps, target)
		if err != nil {
			errs = append(errs, &BuildError{Descriptor: e.desc, Err: err})
			continue
		}
		instances = append(instances, Instance{Descriptor: e.desc, Action: action})
	}
	return instances, errs
}

func construct(e entry, deps *Deps, target Target) (action Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			action, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	action, err = e.factory(deps, target)
	if err == nil && action == nil {
		err = fmt.Errorf("%w: factory returned no action", ErrInvalidDescriptor)
	}
	return action, err
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry of built-in actions.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = Builtin()
	})
	return defaultRegistry
}

// Builtin returns a new registry holding the built-in actions.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "console-screenshot", Priority: 1}, NewConsoleScreenshot)
	r.MustRegister(Descriptor{Name: "capture-metadata", Priority: 2}, NewCaptureMetadata)
	r.MustRegister(Descriptor{Name: "termination-protection", Priority: 3}, NewTerminationProtection)
	r.MustRegister(Descriptor{Name: "shutdown-behavior", Priority: 4}, NewShutdownBehavior)
	r.MustRegister(Descriptor{Name: "preserve-volumes", Priority: 5}, NewPreserveVolumes)
	r.MustRegister(Descriptor{Name: "tag-instance", Priority: 6}, NewTagInstance)
	r.MustRegister(Descriptor{Name: "snapshot-volumes", Priority: 7}, NewSnapshotVolumes)
	r.MustRegister(Descriptor{Name: "command-output", Priority: 8}, NewCommandOutput)
	r.MustRegister(Descriptor{Name: "detach-asg", Priority: 9}, NewDetachFromASG)
	r.MustRegister(Descriptor{Name: "deregister-instance", Priority: 10}, NewDeregisterInstance)
	r.MustRegister(Descriptor{Name: "isolate-instance", Priority: 11}, NewIsolateInstance)
	return r
}
