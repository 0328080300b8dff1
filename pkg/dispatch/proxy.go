package dispatch

import (
	"fmt"
)

// Proxy funnels calls on a service through a Dispatcher. Hand-written
// wrappers embed it and forward each method:
//
//	func (w wrapped) Lookup(key string) (string, error) {
//		return dispatch.Result[string](w.Call("Lookup", key))
//	}
type Proxy[T any] struct {
	dispatcher *Dispatcher
	service    T
	extend     bool
}

// NewProxy wraps service. extend enables resolution on the parent
// contracts of the service's concrete type.
func NewProxy[T any](d *Dispatcher, service T, extend bool) *Proxy[T] {
	return &Proxy[T]{dispatcher: d, service: service, extend: extend}
}

// Call dispatches operation with args.
func (p *Proxy[T]) Call(operation string, args ...any) ([]any, error) {
	return p.dispatcher.Invoke(p.service, p.extend, operation, args...)
}

// Service returns the wrapped original.
func (p *Proxy[T]) Service() T {
	return p.service
}

// Result extracts the single typed result of a call.
func Result[R any](out []any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	if len(out) == 0 || out[0] == nil {
		return zero, nil
	}
	r, ok := out[0].(R)
	if !ok {
		return zero, fmt.Errorf("%w: result is %T, not %T", ErrBadArguments, out[0], zero)
	}
	return r, nil
}
