// Package unitfilter selects work units with a JavaScript predicate, e.g.
//
//	unit.has_contigs && unit.name.startsWith("gene0")
//
// A code block form is also accepted: ${ return unit.name !== "gene002"; }
package unitfilter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/me/hybpiper/internal/layout"
)

// evalTimeout bounds a single evaluation so a runaway expression cannot
// stall the pipeline.
const evalTimeout = time.Second

// Unit is what an expression sees as `unit`.
type Unit struct {
	Name       string
	HasReads   bool
	HasContigs bool
}

func (u Unit) object() map[string]any {
	return map[string]any{
		"name":        u.Name,
		"has_reads":   u.HasReads,
		"has_contigs": u.HasContigs,
	}
}

// Filter is a compiled unit predicate. A nil *Filter selects every unit.
type Filter struct {
	src  string
	prog *goja.Program
}

// Compile parses expr. An empty expression returns a nil Filter.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	code := "(" + expr + ")"
	if strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}") {
		body := strings.TrimSpace(expr[2 : len(expr)-1])
		code = fmt.Sprintf("(function() { %s })()", body)
	}
	prog, err := goja.Compile("unit-filter", code, true)
	if err != nil {
		return nil, fmt.Errorf("compile unit filter %q: %w", expr, err)
	}
	return &Filter{src: expr, prog: prog}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match evaluates the predicate for one unit. The result must be a boolean.
func (f *Filter) Match(u Unit) (bool, error) {
	if f == nil {
		return true, nil
	}
	vm := goja.New()
	if err := vm.Set("unit", u.object()); err != nil {
		return false, fmt.Errorf("set unit: %w", err)
	}
	timer := time.AfterFunc(evalTimeout, func() { vm.Interrupt("unit filter timed out") })
	defer timer.Stop()

	val, err := vm.RunProgram(f.prog)
	if err != nil {
		return false, fmt.Errorf("unit filter on %s: %w", u.Name, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return false, fmt.Errorf("unit filter on %s returned %v, want a boolean", u.Name, val)
	}
	b, ok := val.Export().(bool)
	if !ok {
		return false, fmt.Errorf("unit filter on %s returned %T, want a boolean", u.Name, val.Export())
	}
	return b, nil
}

// Select returns the names of the units the predicate accepts, in order.
func (f *Filter) Select(units []Unit) ([]string, error) {
	out := make([]string, 0, len(units))
	for _, u := range units {
		ok, err := f.Match(u)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, u.Name)
		}
	}
	return out, nil
}

// Describe builds the filter view of each named unit from the files on disk.
func Describe(l layout.Layout, paired bool, names []string) []Unit {
	out := make([]Unit, len(names))
	for i, n := range names {
		out[i] = Unit{
			Name:       n,
			HasReads:   layout.NonEmpty(l.ReadsFile(n, paired)) || layout.NonEmpty(l.UnpairedFile(n)),
			HasContigs: layout.NonEmpty(l.ContigsFile(n)),
		}
	}
	return out
}
