package dsl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Func is a pure function callable from an expression. Implementations must
// be deterministic: no I/O, no clock, no randomness.
type Func func(args []any) (any, error)

// Registry is the function allow-list. A deployment may add pure functions
// by name; the seeded builtins cannot be replaced.
type Registry struct {
	funcs   map[string]Func
	builtin map[string]bool
}

// NewRegistry returns a registry seeded with the builtin functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: map[string]Func{}, builtin: map[string]bool{}}
	for name, fn := range builtins() {
		r.funcs[name] = fn
		r.builtin[name] = true
	}
	return r
}

// Register adds a function. Re-registering a builtin name is an error.
func (r *Registry) Register(name string, fn Func) error {
	if r.builtin[name] {
		return fmt.Errorf("cannot replace builtin function %q", name)
	}
	if fn == nil {
		return fmt.Errorf("nil function for %q", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the named function, or nil.
func (r *Registry) Lookup(name string) Func {
	return r.funcs[name]
}

func builtins() map[string]Func {
	return map[string]Func{
		"abs":   numeric1("abs", math.Abs),
		"sqrt":  sqrtFn,
		"floor": numeric1("floor", math.Floor),
		"ceil":  numeric1("ceil", math.Ceil),
		"round": roundFn,
		"min":   minMaxFn("min", func(a, b float64) bool { return a < b }),
		"max":   minMaxFn("max", func(a, b float64) bool { return a > b }),
		"pow":   powFn,
		"len":   lenFn,
		"sum":   sumFn,
		"all":   quantFn("all", true),
		"any":   quantFn("any", false),
		"str":   strFn,
		"int":   intFn,
		"float": floatFn,
	}
}

func numeric1(name string, f func(float64) float64) Func {
	return func(args []any) (any, error) {
		n, err := oneNumber(name, args)
		if err != nil {
			return nil, err
		}
		return f(n), nil
	}
}

func sqrtFn(args []any) (any, error) {
	n, err := oneNumber("sqrt", args)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, evalErrf("sqrt of negative number %v", n)
	}
	return math.Sqrt(n), nil
}

func roundFn(args []any) (any, error) {
	n, err := oneNumber("round", args)
	if err != nil {
		return nil, err
	}
	// Round half away from zero, like the source semantics of round().
	return math.Round(n), nil
}

func minMaxFn(name string, better func(a, b float64) bool) Func {
	return func(args []any) (any, error) {
		vals := args
		if len(args) == 1 {
			list, ok := args[0].([]any)
			if !ok {
				return nil, evalErrf("%s: single argument must be a list", name)
			}
			vals = list
		}
		if len(vals) == 0 {
			return nil, evalErrf("%s of empty sequence", name)
		}
		best, ok := toNumber(vals[0])
		if !ok {
			return nil, evalErrf("%s: non-numeric element", name)
		}
		for _, v := range vals[1:] {
			n, ok := toNumber(v)
			if !ok {
				return nil, evalErrf("%s: non-numeric element", name)
			}
			if better(n, best) {
				best = n
			}
		}
		return best, nil
	}
}

func powFn(args []any) (any, error) {
	if len(args) != 2 {
		return nil, evalErrf("pow expects 2 arguments, got %d", len(args))
	}
	base, ok1 := toNumber(args[0])
	exp, ok2 := toNumber(args[1])
	if !ok1 || !ok2 {
		return nil, evalErrf("pow: non-numeric argument")
	}
	res := math.Pow(base, exp)
	if math.IsNaN(res) || math.IsInf(res, 0) {
		return nil, evalErrf("pow(%v, %v) is not finite", base, exp)
	}
	return res, nil
}

func lenFn(args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrf("len expects 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case string:
		return float64(len([]rune(t))), nil
	case []any:
		return float64(len(t)), nil
	}
	return nil, evalErrf("len: unsupported type %T", args[0])
}

func sumFn(args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrf("sum expects 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, evalErrf("sum: argument must be a list")
	}
	total := 0.0
	for _, v := range list {
		n, ok := toNumber(v)
		if !ok {
			return nil, evalErrf("sum: non-numeric element %T", v)
		}
		total += n
	}
	return total, nil
}

func quantFn(name string, wantAll bool) Func {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, evalErrf("%s expects 1 argument, got %d", name, len(args))
		}
		list, ok := args[0].([]any)
		if !ok {
			return nil, evalErrf("%s: argument must be a list", name)
		}
		for _, v := range list {
			b, ok := v.(bool)
			if !ok {
				return nil, evalErrf("%s: non-boolean element %T", name, v)
			}
			if wantAll && !b {
				return false, nil
			}
			if !wantAll && b {
				return true, nil
			}
		}
		return wantAll, nil
	}
}

func strFn(args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrf("str expects 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return formatNumber(t), nil
	case []any:
		parts := make([]string, len(t))
		for i, v := range t {
			s, err := strFn([]any{v})
			if err != nil {
				return nil, err
			}
			parts[i] = s.(string)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	}
	return nil, evalErrf("str: unsupported type %T", args[0])
}

func intFn(args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrf("int expects 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case float64:
		return math.Trunc(t), nil
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, evalErrf("int: cannot convert %q", t)
		}
		return math.Trunc(n), nil
	}
	return nil, evalErrf("int: unsupported type %T", args[0])
}

func floatFn(args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrf("float expects 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, evalErrf("float: cannot convert %q", t)
		}
		return n, nil
	}
	return nil, evalErrf("float: unsupported type %T", args[0])
}

func oneNumber(name string, args []any) (float64, error) {
	if len(args) != 1 {
		return 0, evalErrf("%s expects 1 argument, got %d", name, len(args))
	}
	n, ok := toNumber(args[0])
	if !ok {
		return 0, evalErrf("%s: non-numeric argument %T", name, args[0])
	}
	return n, nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
