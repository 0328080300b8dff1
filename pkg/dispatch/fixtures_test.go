package dispatch

import (
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/endorses/filterkit/pkg/filters"
)

var errBoom = errors.New("boom")

type Dto struct {
	A int
	B string
}

type Service interface {
	Test(in int) int
	Test1(in *Dto) *Dto
	Test2(in string) (string, error)
}

type ServiceImpl struct {
	name string
}

func (s *ServiceImpl) Test(in int) int { return in }
func (s *ServiceImpl) Test1(in *Dto) *Dto { return in }
func (s *ServiceImpl) Explode() { panic("exploded") }

func (s *ServiceImpl) Test2(in string) (string, error) {
	if in == "boom" {
		return "", errBoom
	}
	return s.name + ":" + in, nil
}

func (s *ServiceImpl) Join(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}

// valueService has no pointer identity.
type valueService struct {
	offset int
}

func (v valueService) Test(in int) int { return in + v.offset }

type overrideTest1 struct {
	Service
	value int
}

func (o overrideTest1) Test1(in *Dto) *Dto {
	out := *in
	out.A = o.value
	return &out
}

var implContract = reflect.TypeOf((**ServiceImpl)(nil)).Elem()

func newTest1Filter(description string, priority, value int) *filters.Filter {
	return filters.MustNew(description, priority, func(original Service) Service {
		return overrideTest1{Service: original, value: value}
	}, "Test1")
}

type countingResolver struct {
	*filters.Registry
	calls atomic.Int64
}

func (c *countingResolver) ResolveSnapshot(t reflect.Type, operation string, extend bool) (*filters.Filter, uint64) {
	c.calls.Add(1)
	return c.Registry.ResolveSnapshot(t, operation, extend)
}

type panickingResolver struct{}

func (panickingResolver) ResolveSnapshot(reflect.Type, string, bool) (*filters.Filter, uint64) {
	panic("resolver exploded")
}

func (panickingResolver) Generation() uint64 { return 0 }

type pathCounter struct {
	counts [4]atomic.Int64
}

func (p *pathCounter) ObserveDispatch(path Path, _ time.Duration) {
	p.counts[path].Add(1)
}
