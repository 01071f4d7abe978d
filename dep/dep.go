/*
package dep provides utilities for dependency injection.

okay, just the one.
*/
package dep

import (
	"fmt"
	"reflect"
	"runtime"
)

// Required returns t, or panics naming the caller if t is nil.  Use it
// when wiring constructors so a missing collaborator fails at startup
// rather than on first use.
func Required[T any](t T) T {
	v := reflect.ValueOf(t)
	if v.IsValid() && !(isNilable(v) && v.IsNil()) {
		return t
	}
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		panic(fmt.Sprintf("missing required dependency of type %T", t))
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		panic(fmt.Sprintf("missing required dependency in %s (%s:%d)", fn.Name(), file, line))
	}
	panic(fmt.Sprintf("missing required dependency (%s:%d)", file, line))
}

func isNilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}
