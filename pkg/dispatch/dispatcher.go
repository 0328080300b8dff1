// Package dispatch routes calls on a service to the substitute of the
// filter that wins the operation, or to the service itself.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/pkg/filters"
)

var (
	// ErrInvalidArgument is returned when Invoke is given a nil service.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")
	// ErrUnknownOperation is returned when the selected target has no
	// method with the requested name.
	ErrUnknownOperation = errors.New("dispatch: no such operation")
	// ErrBadArguments is returned when the arguments do not fit the
	// method signature.
	ErrBadArguments = errors.New("dispatch: arguments do not match operation")
)

// Labels recorded on outcomes.
const (
	LabelRealService = "real service method"
	labelFilter      = "filter: "
	labelFromCache   = "from cache: "
	labelResolution  = "resolution error: "
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Path tells which way a call was dispatched.
type Path int

const (
	PathCache Path = iota
	PathFilter
	PathReal
	PathError
)

func (p Path) String() string {
	switch p {
	case PathCache:
		return "cache"
	case PathFilter:
		return "filter"
	case PathReal:
		return "real"
	case PathError:
		return "error"
	default:
		return "unknown"
	}
}

// Paths lists every Path, for metric pre-registration.
var Paths = []Path{PathCache, PathFilter, PathReal, PathError}

// Resolver finds the winning filter for an operation. *filters.Registry
// implements it.
type Resolver interface {
	ResolveSnapshot(t reflect.Type, operation string, extend bool) (*filters.Filter, uint64)
	Generation() uint64
}

// Observer receives one observation per dispatched call.
type Observer interface {
	ObserveDispatch(path Path, elapsed time.Duration)
}

// Outcome is the full result of a dispatched call. Results excludes a
// trailing error result, which is returned separately.
type Outcome struct {
	Results []any
	Label   string
	Path    Path
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer sets the tracer used for dispatch spans. The global otel
// tracer is used by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithObserver registers an observer for dispatch paths and latency.
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithCacheSize bounds the dispatch cache.
func WithCacheSize(size int) Option {
	return func(d *Dispatcher) {
		d.cacheSize = size
	}
}

// WithCacheDisabled starts the dispatcher with caching off.
func WithCacheDisabled() Option {
	return func(d *Dispatcher) {
		d.cacheOff = true
	}
}

// Dispatcher routes each call to a filter substitute or to the original
// service.
type Dispatcher struct {
	resolver  Resolver
	cache     *Cache
	tracer    trace.Tracer
	observer  Observer
	cacheSize int
	cacheOff  bool

	closeOnce sync.Once
	unhook    func()
}

// New creates a dispatcher reading from resolver. When the resolver can
// report rebuilds (as *filters.Registry does), the cache is reset on every
// rebuild before the mutating call returns until Close is called.
func New(resolver Resolver, opts ...Option) (*Dispatcher, error) {
	if resolver == nil {
		return nil, fmt.Errorf("%w: nil resolver", ErrInvalidArgument)
	}
	d := &Dispatcher{
		resolver:  resolver,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/endorses/filterkit/dispatch")
	}

	cache, err := NewCache(d.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch cache: %w", err)
	}
	d.cache = cache
	if d.cacheOff {
		d.cache.SetEnabled(false)
	}

	if notifier, ok := resolver.(interface{ OnRebuild(filters.RebuildHook) func() }); ok {
		d.unhook = notifier.OnRebuild(d.cache.Reset)
	}
	return d, nil
}

// Close detaches the dispatcher from its resolver's rebuild notifications
// and empties the cache. A closed dispatcher keeps working; cached targets
// are then only dropped when a lookup finds them stale.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		if d.unhook != nil {
			d.unhook()
		}
		d.cache.Clear()
	})
}

// Invoke calls operation on service, or on the substitute of the filter
// that wins it. A non-nil trailing error result of the operation is
// returned as-is.
func (d *Dispatcher) Invoke(service any, extend bool, operation string, args ...any) ([]any, error) {
	out, err := d.Dispatch(context.Background(), service, extend, operation, args...)
	return out.Results, err
}

// Dispatch is Invoke that also reports how the call was routed.
func (d *Dispatcher) Dispatch(ctx context.Context, service any, extend bool, operation string, args ...any) (Outcome, error) {
	if isNil(service) {
		return Outcome{}, fmt.Errorf("%w: nil service instance", ErrInvalidArgument)
	}

	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "filterkit.dispatch",
		trace.WithAttributes(attribute.String("filterkit.operation", operation)),
	)
	defer span.End()

	target, label, path := d.selectTarget(service, extend, operation)
	span.SetAttributes(
		attribute.String("filterkit.path", path.String()),
		attribute.String("filterkit.label", label),
	)
	if logger.TraceEnabled() {
		logger.TraceContext(ctx, "Dispatch",
			"service", reflect.TypeOf(service).String(),
			"operation", operation,
			"path", path.String(),
			"label", label)
	}

	if d.observer != nil {
		defer func() {
			d.observer.ObserveDispatch(path, time.Since(start))
		}()
	}

	results, err := call(target, operation, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return Outcome{Results: results, Label: label, Path: path}, err
}

// selectTarget never fails: resolution problems fall back to the service.
func (d *Dispatcher) selectTarget(service any, extend bool, operation string) (target any, label string, path Path) {
	id, cacheable := IdentityOf(service)
	if cacheable {
		if t, ok := d.cache.Lookup(id, operation, extend, d.resolver.Generation()); ok {
			return t.Value, labelFromCache + t.Label, PathCache
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("Filter resolution panicked, using real service",
				"operation", operation,
				"error", rec)
			target, label, path = service, fmt.Sprintf("%s%v", labelResolution, rec), PathError
		}
	}()

	f, gen := d.resolver.ResolveSnapshot(reflect.TypeOf(service), operation, extend)
	if f == nil {
		target, label, path = service, LabelRealService, PathReal
	} else {
		sub, err := f.Build(service)
		if err != nil {
			logger.Warn("Filter substitute could not be built, using real service",
				"filter", f.Description(),
				"operation", operation,
				"error", err)
			return service, labelResolution + err.Error(), PathError
		}
		target, label, path = sub, labelFilter+f.Description(), PathFilter
	}

	if cacheable {
		d.cache.Store(id, operation, extend, service, Target{Label: label, Value: target}, gen)
	}
	return target, label, path
}

// SetCacheActive turns the dispatch cache on or off. The cache is empty
// after either transition.
func (d *Dispatcher) SetCacheActive(active bool) {
	d.cache.SetEnabled(active)
	logger.Info("Dispatch cache switched", "active", active)
}

// CacheActive reports whether the dispatch cache is in use.
func (d *Dispatcher) CacheActive() bool {
	return d.cache.Enabled()
}

// ClearCache drops every cached target.
func (d *Dispatcher) ClearCache() {
	d.cache.Clear()
}

// CacheKeys lists the cached (instance, operation) pairs.
func (d *Dispatcher) CacheKeys() []string {
	return d.cache.Keys()
}

// CacheLen returns the number of cached targets.
func (d *Dispatcher) CacheLen() int {
	return d.cache.Len()
}

func call(target any, operation string, args []any) ([]any, error) {
	method := reflect.ValueOf(target).MethodByName(operation)
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %T has no method %s", ErrUnknownOperation, target, operation)
	}

	in, err := arguments(method.Type(), operation, args)
	if err != nil {
		return nil, err
	}

	out := method.Call(in)
	mt := method.Type()
	if n := mt.NumOut(); n > 0 && mt.Out(n-1) == errorType {
		last := out[n-1]
		out = out[:n-1]
		if !last.IsNil() {
			return values(out), last.Interface().(error)
		}
	}
	return values(out), nil
}

func arguments(mt reflect.Type, operation string, args []any) ([]reflect.Value, error) {
	fixed := mt.NumIn()
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: %s wants at least %d arguments, got %d", ErrBadArguments, operation, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("%w: %s wants %d arguments, got %d", ErrBadArguments, operation, fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := mt.In(min(i, mt.NumIn()-1))
		if i >= fixed {
			want = want.Elem()
		}
		v, err := argument(want, arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrBadArguments, operation, i, err)
		}
		in[i] = v
	}
	return in, nil
}

func argument(want reflect.Type, arg any) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not a %s", want)
	}
	v := reflect.ValueOf(arg)
	if !v.Type().AssignableTo(want) {
		return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), want)
	}
	return v, nil
}

func values(out []reflect.Value) []any {
	if len(out) == 0 {
		return nil
	}
	res := make([]any, len(out))
	for i, v := range out {
		res[i] = v.Interface()
	}
	return res
}
