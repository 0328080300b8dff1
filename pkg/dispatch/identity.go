package dispatch

import (
	"fmt"
	"reflect"
)

// Identity names one live service instance: its concrete type plus the
// address it lives at. Two instances of the same type never share an
// Identity while both are alive.
type Identity struct {
	TypeName string
	Token    uintptr
}

func (i Identity) String() string {
	return fmt.Sprintf("%s@%#x", i.TypeName, i.Token)
}

// IdentityOf returns the identity of v. Only values with reference
// semantics (pointers, maps, channels) have one; plain values report false
// and are never cached.
func IdentityOf(v any) (Identity, bool) {
	if v == nil {
		return Identity{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return Identity{}, false
		}
		return Identity{TypeName: rv.Type().String(), Token: rv.Pointer()}, true
	default:
		return Identity{}, false
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}
