// Package filters holds filter definitions and the Registry that decides
// which filter wins each contract operation.
//
// A filter plugin is a Go plugin built with -buildmode=plugin that exports
//
//	func Filters() []*filters.Filter
//
// and optionally
//
//	func Attach(d *dispatch.Dispatcher)
package filters

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrInvalidFilter is returned when a filter is constructed without a
	// description, contract or factory.
	ErrInvalidFilter = errors.New("filters: invalid filter")
	// ErrUnknownOperation is returned when a filter declares an operation
	// its contract does not have.
	ErrUnknownOperation = errors.New("filters: operation not declared by contract")
	// ErrContractMismatch is returned by Build when the original does not
	// satisfy the filter's substitute type.
	ErrContractMismatch = errors.New("filters: original does not match filter contract")
	// ErrNilSubstitute is returned by Build when a factory produced nothing.
	ErrNilSubstitute = errors.New("filters: factory returned nil substitute")
	// ErrUnknownFilter is returned by registry mutations for a filter the
	// registry does not hold.
	ErrUnknownFilter = errors.New("filters: filter not loaded")
	// ErrAlreadyLoaded is returned by Preset once a filter has been loaded
	// into a registry.
	ErrAlreadyLoaded = errors.New("filters: filter already loaded")
)

// handleSpace namespaces filter handles.
var handleSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/endorses/filterkit/filters"))

// Factory builds a substitute from the original service instance.
type Factory func(original any) (any, error)

// Spec describes a filter for NewFilter.
type Spec struct {
	Description string
	Priority    int
	// Inactive loads the filter deactivated; filters are active by default.
	Inactive   bool
	Contract   reflect.Type
	Operations []string
	Factory    Factory
}

// Filter replaces selected operations of a contract with those of a
// substitute. Description and contract are immutable; priority and active
// change only through Registry methods.
type Filter struct {
	description string
	contract    reflect.Type
	key         string
	operations  []string
	factory     Factory
	handle      string

	priority atomic.Int64
	active   atomic.Bool

	publishMu sync.Mutex
	published bool
}

// NewFilter validates spec and returns a filter.
func NewFilter(spec Spec) (*Filter, error) {
	if spec.Description == "" {
		return nil, fmt.Errorf("%w: description is mandatory", ErrInvalidFilter)
	}
	if spec.Contract == nil {
		return nil, fmt.Errorf("%w: filter %q has no contract", ErrInvalidFilter, spec.Description)
	}
	if spec.Factory == nil {
		return nil, fmt.Errorf("%w: filter %q has no factory", ErrInvalidFilter, spec.Description)
	}

	ops := make([]string, 0, len(spec.Operations))
	for _, op := range spec.Operations {
		if !hasMethod(spec.Contract, op) {
			return nil, fmt.Errorf("%w: %s.%s (filter %q)", ErrUnknownOperation, ContractKey(spec.Contract), op, spec.Description)
		}
		if !slices.Contains(ops, op) {
			ops = append(ops, op)
		}
	}

	f := &Filter{
		description: spec.Description,
		contract:    spec.Contract,
		key:         ContractKey(spec.Contract),
		operations:  ops,
		factory:     spec.Factory,
	}
	f.handle = uuid.NewSHA1(handleSpace, []byte(f.ID())).String()
	f.priority.Store(int64(spec.Priority))
	f.active.Store(!spec.Inactive)
	return f, nil
}

// New returns a filter whose contract is T. build receives the original
// (the zero T when none is given) and returns the substitute.
func New[T any](description string, priority int, build func(original T) T, operations ...string) (*Filter, error) {
	return NewFor(reflect.TypeOf((*T)(nil)).Elem(), description, priority, build, operations...)
}

// NewFor returns a filter keyed on contract whose substitute is a T. It
// covers the case where filters target a concrete service type while the
// substitute only implements one of its interfaces.
func NewFor[T any](contract reflect.Type, description string, priority int, build func(original T) T, operations ...string) (*Filter, error) {
	if build == nil {
		return nil, fmt.Errorf("%w: filter %q has no factory", ErrInvalidFilter, description)
	}
	sub := reflect.TypeOf((*T)(nil)).Elem()
	if sub.Kind() == reflect.Interface {
		for _, op := range operations {
			if _, ok := sub.MethodByName(op); !ok {
				return nil, fmt.Errorf("%w: substitute %s lacks %s (filter %q)", ErrUnknownOperation, sub, op, description)
			}
		}
	}
	return NewFilter(Spec{
		Description: description,
		Priority:    priority,
		Contract:    contract,
		Operations:  operations,
		Factory: func(original any) (any, error) {
			var in T
			if original != nil {
				o, ok := original.(T)
				if !ok {
					return nil, fmt.Errorf("%w: %T is not %s", ErrContractMismatch, original, sub)
				}
				in = o
			}
			return build(in), nil
		},
	})
}

// MustNew is New that panics on error; meant for package-level filter
// tables in plugins.
func MustNew[T any](description string, priority int, build func(original T) T, operations ...string) *Filter {
	f, err := New(description, priority, build, operations...)
	if err != nil {
		panic(err)
	}
	return f
}

// Description returns the immutable identity of the filter.
func (f *Filter) Description() string { return f.description }

// Contract returns the contract type the filter targets.
func (f *Filter) Contract() reflect.Type { return f.contract }

// ContractKey returns the normalized contract name.
func (f *Filter) ContractKey() string { return f.key }

// Operations returns a copy of the declared filtered operations.
func (f *Filter) Operations() []string { return slices.Clone(f.operations) }

// Priority returns the current priority.
func (f *Filter) Priority() int { return int(f.priority.Load()) }

// Active reports whether the filter currently competes for its operations.
func (f *Filter) Active() bool { return f.active.Load() }

// ID returns "<contract>:<description>", the identity used for equality.
func (f *Filter) ID() string { return f.key + ":" + f.description }

// Handle returns a URL-safe identifier derived from ID.
func (f *Filter) Handle() string { return f.handle }

// Equal reports whether both filters have the same description and
// contract. Priority and activation never take part.
func (f *Filter) Equal(other *Filter) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.description == other.description && f.key == other.key
}

// Compare orders by description, then by priority.
func (f *Filter) Compare(other *Filter) int {
	if c := cmp.Compare(f.description, other.description); c != 0 {
		return c
	}
	return cmp.Compare(f.Priority(), other.Priority())
}

// Build returns the substitute for original. A nil original is allowed.
func (f *Filter) Build(original any) (any, error) {
	sub, err := f.factory(original)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %q", ErrNilSubstitute, f.description)
	}
	v := reflect.ValueOf(sub)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		if v.IsNil() {
			return nil, fmt.Errorf("%w: %q", ErrNilSubstitute, f.description)
		}
	}
	return sub, nil
}

func (f *Filter) String() string {
	return fmt.Sprintf("Service: %s, active: %t, description=%s, priority=%d",
		f.contract, f.Active(), f.description, f.Priority())
}

// Preset sets the priority and activation a filter starts with when it is
// loaded. Once loaded, the filter changes only through its Registry.
func (f *Filter) Preset(priority int, active bool) error {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()
	if f.published {
		return fmt.Errorf("%w: %q", ErrAlreadyLoaded, f.description)
	}
	f.setPriority(priority)
	f.setActive(active)
	return nil
}

func (f *Filter) publish() {
	f.publishMu.Lock()
	f.published = true
	f.publishMu.Unlock()
}

func (f *Filter) setPriority(p int) { f.priority.Store(int64(p)) }

func (f *Filter) setActive(a bool) { f.active.Store(a) }
