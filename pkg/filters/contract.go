package filters

import (
	"reflect"
)

// maxUnwrap bounds pointer unwrapping when naming a contract.
const maxUnwrap = 4

// ContractKey returns the stable name of a contract type. Pointers are
// unwrapped, so *Impl and Impl share a key. Named types render as
// "<pkgpath>.<Name>"; unnamed types fall back to Type.String().
func ContractKey(t reflect.Type) string {
	if t == nil {
		return ""
	}
	t = baseType(t)
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// ContractOf returns the contract type of T, usable for interface types:
// ContractOf[io.Reader]().
func ContractOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func baseType(t reflect.Type) reflect.Type {
	for i := 0; i < maxUnwrap && t.Kind() == reflect.Pointer; i++ {
		t = t.Elem()
	}
	return t
}

// activeKey builds the key of the active view.
func activeKey(contract reflect.Type, operation string) string {
	return ContractKey(contract) + "." + operation
}

// hasMethod reports whether operation belongs to the method set of t or,
// for non-interface types, of *t.
func hasMethod(t reflect.Type, operation string) bool {
	if _, ok := t.MethodByName(operation); ok {
		return true
	}
	if t.Kind() == reflect.Interface {
		return false
	}
	b := baseType(t)
	if _, ok := b.MethodByName(operation); ok {
		return true
	}
	_, ok := reflect.PointerTo(b).MethodByName(operation)
	return ok
}
