package filters

import (
	"fmt"
	"reflect"
)

type Dto struct {
	A int
	B string
}

type Service interface {
	Test(in int) int
	Test0(in int) int
	Test1(in *Dto) *Dto
	Test2(in string) (string, error)
}

type Auditor interface {
	Audit(event string) string
}

type ServiceImpl struct{}

func (s *ServiceImpl) Test(in int) int { return in }
func (s *ServiceImpl) Test0(in int) int { return in * 2 }
func (s *ServiceImpl) Test1(in *Dto) *Dto { return in }
func (s *ServiceImpl) Test2(in string) (string, error) { return in, nil }
func (s *ServiceImpl) Audit(event string) string { return "real:" + event }

var (
	serviceContract = reflect.TypeOf((*Service)(nil)).Elem()
	implContract    = reflect.TypeOf((**ServiceImpl)(nil)).Elem()
	auditorContract = reflect.TypeOf((*Auditor)(nil)).Elem()
)

// overrideTest1 replaces Test1 and delegates everything else.
type overrideTest1 struct {
	Service
	value int
}

func (o overrideTest1) Test1(in *Dto) *Dto {
	out := *in
	out.A = o.value
	return &out
}

func newTest1Filter(description string, priority, value int) *Filter {
	return MustNew(description, priority, func(original Service) Service {
		return overrideTest1{Service: original, value: value}
	}, "Test1")
}

func newImplFilter(description string, priority int, ops ...string) *Filter {
	f, err := NewFor(implContract, description, priority, func(original Service) Service {
		return overrideTest1{Service: original, value: priority}
	}, ops...)
	if err != nil {
		panic(fmt.Sprintf("fixture %q: %v", description, err))
	}
	return f
}
