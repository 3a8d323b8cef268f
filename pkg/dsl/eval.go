package dsl

import (
	"encoding/json"
	"math"
	"strings"
)

// ReservedVars are the metadata identifiers bindable in every policy
// namespace, alongside the UOW's declared attribute keys. "actor_id" is
// deliberately absent: routing must never depend on who holds the lease.
var ReservedVars = []string{
	"uow_id", "parent_id", "status",
	"child_count", "finished_child_count", "interaction_count",
}

// Validate statically checks an AST against the permitted variable set and
// the function registry. Template import runs this for every condition.
func Validate(e Expr, allowed map[string]bool, reg *Registry) error {
	switch t := e.(type) {
	case *NumberLit, *StringLit, *BoolLit, *NullLit:
		return nil
	case *Ident:
		if !allowed[t.Name] {
			return &AttributeError{Name: t.Name}
		}
		return nil
	case *ListLit:
		for _, elem := range t.Elems {
			if err := Validate(elem, allowed, reg); err != nil {
				return err
			}
		}
		return nil
	case *UnaryExpr:
		return Validate(t.X, allowed, reg)
	case *BinaryExpr:
		if err := Validate(t.L, allowed, reg); err != nil {
			return err
		}
		return Validate(t.R, allowed, reg)
	case *CompareExpr:
		if err := Validate(t.L, allowed, reg); err != nil {
			return err
		}
		return Validate(t.R, allowed, reg)
	case *CallExpr:
		if reg == nil || reg.Lookup(t.Name) == nil {
			return &AttributeError{Name: t.Name}
		}
		for _, arg := range t.Args {
			if err := Validate(arg, allowed, reg); err != nil {
				return err
			}
		}
		return nil
	}
	return evalErrf("unknown node %T", e)
}

// Eval evaluates an AST against a variable namespace. Numbers normalize to
// float64 on the way in. Same inputs always give the same result: the
// evaluator performs no I/O and consults no clock.
func Eval(e Expr, vars map[string]any, reg *Registry) (any, error) {
	switch t := e.(type) {
	case *NumberLit:
		return t.Value, nil
	case *StringLit:
		return t.Value, nil
	case *BoolLit:
		return t.Value, nil
	case *NullLit:
		return nil, nil
	case *Ident:
		v, ok := vars[t.Name]
		if !ok {
			return nil, &AttributeError{Name: t.Name}
		}
		return normalize(v), nil
	case *ListLit:
		out := make([]any, len(t.Elems))
		for i, elem := range t.Elems {
			v, err := Eval(elem, vars, reg)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *UnaryExpr:
		return evalUnary(t, vars, reg)
	case *BinaryExpr:
		return evalBinary(t, vars, reg)
	case *CompareExpr:
		return evalCompare(t, vars, reg)
	case *CallExpr:
		return evalCall(t, vars, reg)
	}
	return nil, evalErrf("unknown node %T", e)
}

// EvalBool evaluates and requires a boolean result, as policy branch
// conditions do.
func EvalBool(e Expr, vars map[string]any, reg *Registry) (bool, error) {
	v, err := Eval(e, vars, reg)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, evalErrf("condition result is %T, want bool", v)
	}
	return b, nil
}

func evalUnary(t *UnaryExpr, vars map[string]any, reg *Registry) (any, error) {
	v, err := Eval(t.X, vars, reg)
	if err != nil {
		return nil, err
	}
	switch t.Op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, evalErrf("not: operand is %T, want bool", v)
		}
		return !b, nil
	case "-":
		n, ok := toNumber(v)
		if !ok {
			return nil, evalErrf("unary -: operand is %T, want number", v)
		}
		return -n, nil
	case "+":
		n, ok := toNumber(v)
		if !ok {
			return nil, evalErrf("unary +: operand is %T, want number", v)
		}
		return n, nil
	}
	return nil, evalErrf("unknown unary op %q", t.Op)
}

func evalBinary(t *BinaryExpr, vars map[string]any, reg *Registry) (any, error) {
	// Boolean connectives short-circuit.
	if t.Op == "and" || t.Op == "or" {
		lv, err := Eval(t.L, vars, reg)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, evalErrf("%s: left operand is %T, want bool", t.Op, lv)
		}
		if t.Op == "and" && !lb {
			return false, nil
		}
		if t.Op == "or" && lb {
			return true, nil
		}
		rv, err := Eval(t.R, vars, reg)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, evalErrf("%s: right operand is %T, want bool", t.Op, rv)
		}
		return rb, nil
	}

	lv, err := Eval(t.L, vars, reg)
	if err != nil {
		return nil, err
	}
	rv, err := Eval(t.R, vars, reg)
	if err != nil {
		return nil, err
	}

	if t.Op == "+" {
		// String concatenation and list concatenation ride on "+".
		if ls, ok := lv.(string); ok {
			rs, ok := rv.(string)
			if !ok {
				return nil, evalErrf("+: cannot add string and %T", rv)
			}
			return ls + rs, nil
		}
		if ll, ok := lv.([]any); ok {
			rl, ok := rv.([]any)
			if !ok {
				return nil, evalErrf("+: cannot add list and %T", rv)
			}
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
	}

	ln, lok := toNumber(lv)
	rn, rok := toNumber(rv)
	if !lok || !rok {
		return nil, evalErrf("%s: non-numeric operands (%T, %T)", t.Op, lv, rv)
	}
	switch t.Op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, evalErrf("division by zero")
		}
		return ln / rn, nil
	case "%":
		if rn == 0 {
			return nil, evalErrf("modulo by zero")
		}
		return math.Mod(ln, rn), nil
	}
	return nil, evalErrf("unknown binary op %q", t.Op)
}

func evalCompare(t *CompareExpr, vars map[string]any, reg *Registry) (any, error) {
	lv, err := Eval(t.L, vars, reg)
	if err != nil {
		return nil, err
	}
	rv, err := Eval(t.R, vars, reg)
	if err != nil {
		return nil, err
	}

	switch t.Op {
	case "==":
		return valuesEqual(lv, rv), nil
	case "!=":
		return !valuesEqual(lv, rv), nil
	case "in", "not in":
		found, err := contains(rv, lv)
		if err != nil {
			return nil, err
		}
		if t.Op == "not in" {
			return !found, nil
		}
		return found, nil
	}

	// Ordering: numbers with numbers, strings with strings.
	if ln, ok := toNumber(lv); ok {
		rn, ok := toNumber(rv)
		if !ok {
			return nil, evalErrf("%s: cannot compare number and %T", t.Op, rv)
		}
		return ordered(t.Op, compareFloats(ln, rn)), nil
	}
	if ls, ok := lv.(string); ok {
		rs, ok := rv.(string)
		if !ok {
			return nil, evalErrf("%s: cannot compare string and %T", t.Op, rv)
		}
		return ordered(t.Op, strings.Compare(ls, rs)), nil
	}
	return nil, evalErrf("%s: unsupported operand %T", t.Op, lv)
}

func evalCall(t *CallExpr, vars map[string]any, reg *Registry) (any, error) {
	if reg == nil {
		return nil, &AttributeError{Name: t.Name}
	}
	fn := reg.Lookup(t.Name)
	if fn == nil {
		return nil, &AttributeError{Name: t.Name}
	}
	args := make([]any, len(t.Args))
	for i, arg := range t.Args {
		v, err := Eval(arg, vars, reg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

func ordered(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func valuesEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	case []any:
		bl, ok := b.([]any)
		if !ok || len(at) != len(bl) {
			return false
		}
		for i := range at {
			if !valuesEqual(at[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// contains implements "x in y": list membership or substring.
func contains(container, needle any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, elem := range c {
			if valuesEqual(elem, needle) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, evalErrf("in: left operand must be string for string container, got %T", needle)
		}
		return strings.Contains(c, s), nil
	}
	return false, evalErrf("in: right operand must be list or string, got %T", container)
}

// normalize coerces numeric inputs to float64 so attribute values loaded
// from JSON and Go ints behave identically.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalize(elem)
		}
		return out
	}
	return v
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
