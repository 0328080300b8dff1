package filters

import (
	"reflect"
)

// Resolve returns the winning active filter for operation on contract t.
// When extend is true and t itself has no filter, the parent contracts of t
// are searched in order. A nil result means the original service should
// run; it is not an error.
func (r *Registry) Resolve(t reflect.Type, operation string, extend bool) *Filter {
	f, _ := r.ResolveSnapshot(t, operation, extend)
	return f
}

// ResolveSnapshot is Resolve that also returns the generation of the views
// the answer was read from.
func (r *Registry) ResolveSnapshot(t reflect.Type, operation string, extend bool) (*Filter, uint64) {
	if t == nil {
		return nil, r.Generation()
	}

	r.mu.RLock()
	v := r.view
	declared, hasDeclared := r.parents[ContractKey(t)]
	r.mu.RUnlock()

	if f := v.active[activeKey(t, operation)]; f != nil {
		return f, v.generation
	}
	if !extend {
		return nil, v.generation
	}

	for _, parent := range v.parentsOf(t, declared, hasDeclared) {
		if f := v.active[activeKey(parent, operation)]; f != nil {
			return f, v.generation
		}
	}
	return nil, v.generation
}

// parentsOf returns the declared parents of t, or when none were declared,
// every interface contract of the view that t implements.
func (v *view) parentsOf(t reflect.Type, declared []reflect.Type, hasDeclared bool) []reflect.Type {
	if hasDeclared {
		return declared
	}

	self := ContractKey(t)
	var out []reflect.Type
	for _, iface := range v.interfaces {
		if ContractKey(iface) == self {
			continue
		}
		if t.Implements(iface) {
			out = append(out, iface)
		}
	}
	return out
}
