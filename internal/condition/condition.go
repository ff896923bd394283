// Package condition compiles relation condition expressions into
// boolean predicates evaluated against a request context.
//
// Expressions use the gval full language: comparisons, boolean logic,
// arithmetic, string functions, and dotted selectors into nested maps
// (resource.classified == true). Context keys written with dots are
// expanded into nested maps before evaluation, so a flat key
// "resource.classified" and a nested {"resource": {"classified": ...}}
// are equivalent.
package condition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
)

// ErrNotBoolean is returned when an expression does not yield a bool.
var ErrNotBoolean = errors.New("condition: expression did not evaluate to a boolean")

var language = gval.Full()

// Predicate is a compiled condition.
type Predicate struct {
	expr string
	eval gval.Evaluable
}

// Normalize trims an expression and collapses internal whitespace runs.
func Normalize(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}

// Compile parses expr. Empty expressions are rejected.
func Compile(expr string) (Predicate, error) {
	norm := Normalize(expr)
	if norm == "" {
		return Predicate{}, errors.New("condition: empty expression")
	}
	eval, err := language.NewEvaluable(norm)
	if err != nil {
		return Predicate{}, fmt.Errorf("condition: compile %q: %w", norm, err)
	}
	return Predicate{expr: norm, eval: eval}, nil
}

// String returns the normalized source expression.
func (p Predicate) String() string { return p.expr }

// Eval evaluates the predicate against vars. Unknown variables and
// non-boolean results are errors; callers treat errors as "does not hold".
func (p Predicate) Eval(ctx context.Context, vars Vars) (bool, error) {
	if p.eval == nil {
		return false, errors.New("condition: predicate not compiled")
	}
	v, err := p.eval(ctx, map[string]any(vars))
	if err != nil {
		return false, fmt.Errorf("condition: eval %q: %w", p.expr, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q yielded %T", ErrNotBoolean, p.expr, v)
	}
	return b, nil
}

// Vars is a request context prepared for evaluation.
type Vars map[string]any

// NewVars expands dotted keys of ctx into nested maps. Keys are applied
// in sorted order; when a scalar and a dotted path collide, the nested
// map wins. The input map is never modified.
func NewVars(ctx map[string]any) Vars {
	return Vars(expand(ctx))
}

func expand(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := in[k]
		if m, ok := v.(map[string]any); ok {
			v = expand(m)
		}
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(cur map[string]any, segs []string, v any) {
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if existing, ok := cur[last].(map[string]any); ok {
		if m, ok := v.(map[string]any); ok {
			for k, mv := range m {
				existing[k] = mv
			}
			return
		}
		return
	}
	cur[last] = v
}

// Lookup walks a dotted path through nested maps.
func (v Vars) Lookup(path string) (any, bool) {
	var cur any = map[string]any(v)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Truthy reports whether a context value counts as set: true, a
// non-empty string other than "false"/"0", or a non-zero number.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		if s == "" {
			return false
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return true
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}
