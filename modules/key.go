package modules

import "reflect"

// Key is the registration identity of a module: the type it is registered
// under. Two modules with the same Key cannot coexist in one orchestrator.
type Key struct {
	t reflect.Type
}

// KeyOf returns the key of type T, usually a pointer to a module struct or
// an interface a module is registered as.
func KeyOf[T any]() Key {
	return Key{t: reflect.TypeFor[T]()}
}

// KeyFor returns the key of the dynamic type of v.
func KeyFor(v any) Key {
	if v == nil {
		return Key{}
	}
	return Key{t: reflect.TypeOf(v)}
}

// Type returns the underlying type, nil for the zero Key.
func (k Key) Type() reflect.Type { return k.t }

// IsZero reports whether k identifies no type.
func (k Key) IsZero() bool { return k.t == nil }

// String returns the qualified type name.
func (k Key) String() string {
	if k.t == nil {
		return "<none>"
	}
	return k.t.String()
}

// ShortName returns the bare type name with pointers stripped.
func (k Key) ShortName() string {
	t := k.t
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// Implements reports whether a module of this key can be registered as as.
func (k Key) Implements(as Key) bool {
	if k.t == nil || as.t == nil {
		return false
	}
	if k.t == as.t {
		return true
	}
	return as.t.Kind() == reflect.Interface && k.t.Implements(as.t)
}
