package filters

import (
	"cmp"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/filterkit/internal/pkg/logger"
)

// Registry owns every loaded filter and the two views derived from them:
// the ordered list and the map from "<contract>.<operation>" to the
// winning active filter. Both views are swapped together under the write
// lock; readers only ever see a complete pair.
type Registry struct {
	mu      sync.RWMutex
	loaded  []*Filter // registration order
	index   map[string]*Filter
	handles map[string]*Filter
	parents map[string][]reflect.Type
	view    *view

	generation atomic.Uint64

	hooksMu        sync.RWMutex
	changeHandlers []ChangeHandler
	rebuildHooks   []rebuildHook
	nextHookID     uint64
}

type rebuildHook struct {
	id   uint64
	hook RebuildHook
}

// view is immutable once published.
type view struct {
	ordered    []*Filter
	active     map[string]*Filter
	interfaces []reflect.Type // interface contracts holding at least one slot, key order
	generation uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		index:   make(map[string]*Filter),
		handles: make(map[string]*Filter),
		parents: make(map[string][]reflect.Type),
		view:    &view{active: map[string]*Filter{}},
	}
}

// Load adds every filter not already present (by ID) and reports whether
// anything was added. Existing entries are never replaced.
func (r *Registry) Load(filters ...*Filter) bool {
	r.mu.Lock()

	var added []*Filter
	for _, f := range filters {
		if f == nil {
			continue
		}
		if _, exists := r.index[f.ID()]; exists {
			logger.Debug("Filter already loaded", "filter", f.description, "contract", f.key)
			continue
		}
		f.publish()
		r.loaded = append(r.loaded, f)
		r.index[f.ID()] = f
		r.handles[f.handle] = f
		added = append(added, f)
		logger.Debug("Filter found", "filter", f.description, "contract", f.key, "priority", f.Priority())
	}

	if len(added) == 0 {
		r.mu.Unlock()
		return false
	}

	gen := r.rebuildLocked()
	r.mu.Unlock()

	r.runRebuildHooks(gen)
	r.emitChange(ChangeEvent{Added: added, Generation: gen, Timestamp: time.Now()})

	logger.Info("Filters loaded", "added", len(added), "generation", gen)
	return true
}

// SetActive activates or deactivates the stored filter with f's identity.
func (r *Registry) SetActive(f *Filter, active bool) error {
	return r.mutate(f, func(stored *Filter) {
		stored.setActive(active)
	})
}

// SetPriority changes the priority of the stored filter with f's identity.
func (r *Registry) SetPriority(f *Filter, priority int) error {
	return r.mutate(f, func(stored *Filter) {
		stored.setPriority(priority)
	})
}

// Configure sets priority and activation with a single rebuild.
func (r *Registry) Configure(f *Filter, priority int, active bool) error {
	return r.mutate(f, func(stored *Filter) {
		stored.setPriority(priority)
		stored.setActive(active)
	})
}

func (r *Registry) mutate(f *Filter, apply func(stored *Filter)) error {
	if f == nil {
		return fmt.Errorf("%w: nil filter", ErrUnknownFilter)
	}

	r.mu.Lock()
	stored, ok := r.index[f.ID()]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFilter, f.ID())
	}
	apply(stored)
	gen := r.rebuildLocked()
	r.mu.Unlock()

	r.runRebuildHooks(gen)

	logger.Info("Filter updated",
		"filter", stored.description,
		"contract", stored.key,
		"active", stored.Active(),
		"priority", stored.Priority(),
		"generation", gen)
	return nil
}

// DeclareParents records the parent contracts of t, in the order they are
// searched when resolution extends to supertypes. Every parent must be an
// interface implemented by t or *t.
func (r *Registry) DeclareParents(t reflect.Type, parents ...reflect.Type) error {
	if t == nil {
		return fmt.Errorf("%w: nil contract", ErrInvalidFilter)
	}
	for _, p := range parents {
		if p == nil || p.Kind() != reflect.Interface {
			return fmt.Errorf("%w: parent %v of %s is not an interface", ErrInvalidFilter, p, ContractKey(t))
		}
		b := baseType(t)
		if !b.Implements(p) && !reflect.PointerTo(b).Implements(p) {
			return fmt.Errorf("%w: %s does not implement %s", ErrInvalidFilter, ContractKey(t), ContractKey(p))
		}
	}

	r.mu.Lock()
	r.parents[ContractKey(t)] = slices.Clone(parents)
	gen := r.rebuildLocked()
	r.mu.Unlock()

	r.runRebuildHooks(gen)
	return nil
}

// Rebuild recomputes both views from the loaded set.
func (r *Registry) Rebuild() {
	r.mu.Lock()
	gen := r.rebuildLocked()
	r.mu.Unlock()
	r.runRebuildHooks(gen)
}

// rebuildLocked must be called with the write lock held.
func (r *Registry) rebuildLocked() uint64 {
	ordered := slices.Clone(r.loaded)
	slices.SortStableFunc(ordered, (*Filter).Compare)

	active := make(map[string]*Filter)
	for _, f := range r.loaded {
		if !f.Active() {
			logger.Debug("Filter is deactivated", "filter", f.description)
			continue
		}
		for _, op := range f.operations {
			key := f.key + "." + op
			// Strictly higher priority wins; ties keep the earlier registration.
			if cur, ok := active[key]; !ok || cur.Priority() < f.Priority() {
				active[key] = f
			}
		}
	}

	seen := make(map[string]bool)
	var interfaces []reflect.Type
	for _, f := range active {
		if f.contract.Kind() == reflect.Interface && !seen[f.key] {
			seen[f.key] = true
			interfaces = append(interfaces, f.contract)
		}
	}
	slices.SortFunc(interfaces, func(a, b reflect.Type) int {
		return cmp.Compare(ContractKey(a), ContractKey(b))
	})

	gen := r.generation.Add(1)
	r.view = &view{
		ordered:    ordered,
		active:     active,
		interfaces: interfaces,
		generation: gen,
	}
	return gen
}

// AllFilters returns every loaded filter ordered by description, then
// priority.
func (r *Registry) AllFilters() []*Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.view.ordered)
}

// ActiveFilters returns a copy of the active view.
func (r *Registry) ActiveFilters() map[string]*Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.view.active)
}

// Get returns the stored filter with the given ID.
func (r *Registry) Get(id string) (*Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.index[id]
	return f, ok
}

// ByHandle returns the stored filter with the given handle.
func (r *Registry) ByHandle(handle string) (*Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.handles[handle]
	return f, ok
}

// Generation returns the generation of the latest published views. It
// never blocks.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Stats returns counts for the current views.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, f := range r.loaded {
		if f.Active() {
			active++
		}
	}
	return Stats{
		Loaded:     len(r.loaded),
		Active:     active,
		Slots:      len(r.view.active),
		Generation: r.view.generation,
	}
}

// OnChange registers a handler fired whenever Load adds new filters.
func (r *Registry) OnChange(handler ChangeHandler) {
	if handler == nil {
		return
	}
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.changeHandlers = append(r.changeHandlers, handler)
}

// OnRebuild registers a hook run synchronously after every rebuild. The
// returned func removes it; calling it more than once is harmless.
func (r *Registry) OnRebuild(hook RebuildHook) (remove func()) {
	if hook == nil {
		return func() {}
	}
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.nextHookID++
	id := r.nextHookID
	r.rebuildHooks = append(r.rebuildHooks, rebuildHook{id: id, hook: hook})

	return func() {
		r.hooksMu.Lock()
		defer r.hooksMu.Unlock()
		r.rebuildHooks = slices.DeleteFunc(r.rebuildHooks, func(h rebuildHook) bool {
			return h.id == id
		})
	}
}

func (r *Registry) runRebuildHooks(gen uint64) {
	r.hooksMu.RLock()
	hooks := slices.Clone(r.rebuildHooks)
	r.hooksMu.RUnlock()

	for _, h := range hooks {
		h.hook(gen)
	}
}

func (r *Registry) emitChange(event ChangeEvent) {
	r.hooksMu.RLock()
	handlers := slices.Clone(r.changeHandlers)
	r.hooksMu.RUnlock()

	for _, handler := range handlers {
		go func(h ChangeHandler) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Change handler panic", "generation", event.Generation, "error", rec)
				}
			}()
			h(event)
		}(handler)
	}
}
