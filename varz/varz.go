/*
varz provides helpers to create expvar variables with package-qualified names,
and a way to read back the ones this module registered.

Nothing serves /debug/vars; the CLI prints them on request.
*/
package varz

import (
	"expvar"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

const modulePrefix = "github.com/ts4z/taidi/"

// callerPackage returns the package name of the caller of the
// function.  Use a loose heuristic to get that split apart.
// If the variable is declared in a var block, this will remove the
// "init" bit.
func callerPackage() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "varz.unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "varz.unknown"
	}

	n := fn.Name()
	dot := strings.LastIndex(n, ".")
	if dot != -1 {
		n = n[:dot]
	}

	return strings.TrimPrefix(n, modulePrefix)
}

func NewInt(name string) *expvar.Int {
	return expvar.NewInt(fmt.Sprintf("%s.%s", callerPackage(), name))
}

func NewMap(name string) *expvar.Map {
	return expvar.NewMap(fmt.Sprintf("%s.%s", callerPackage(), name))
}

type Var struct {
	Name  string
	Value string
}

// Ours returns this module's variables sorted by name, skipping the ones
// expvar registers for itself (cmdline, memstats).
func Ours() []Var {
	var out []Var
	expvar.Do(func(kv expvar.KeyValue) {
		if kv.Key == "cmdline" || kv.Key == "memstats" {
			return
		}
		out = append(out, Var{Name: kv.Key, Value: kv.Value.String()})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
