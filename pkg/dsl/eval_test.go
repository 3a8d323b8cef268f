package dsl

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, src string, vars map[string]any) any {
	t.Helper()
	e, err := Parse(src)
	require.NoError(t, err)
	v, err := Eval(e, vars, NewRegistry())
	require.NoError(t, err)
	return v
}

func evalErr(t *testing.T, src string, vars map[string]any) error {
	t.Helper()
	e, err := Parse(src)
	require.NoError(t, err)
	_, err = Eval(e, vars, NewRegistry())
	require.Error(t, err)
	return err
}

func TestEvalArithmetic(t *testing.T) {
	assert.Equal(t, 7.0, eval(t, "1 + 2 * 3", nil))
	assert.Equal(t, 2.5, eval(t, "5 / 2", nil))
	assert.Equal(t, 1.0, eval(t, "7 % 3", nil))
	assert.Equal(t, -4.0, eval(t, "-(2 + 2)", nil))
	assert.Equal(t, 9.0, eval(t, "(1 + 2) * 3", nil))
}

func TestEvalComparisons(t *testing.T) {
	vars := map[string]any{"score": 0.3, "name": "alice"}
	assert.Equal(t, true, eval(t, "score < 0.5", vars))
	assert.Equal(t, false, eval(t, "score >= 0.5", vars))
	assert.Equal(t, true, eval(t, "name == 'alice'", vars))
	assert.Equal(t, true, eval(t, "name != 'bob'", vars))
	assert.Equal(t, true, eval(t, "'a' < 'b'", nil))
}

func TestEvalNumericCrossTypeEquality(t *testing.T) {
	assert.Equal(t, true, eval(t, "x == 1", map[string]any{"x": 1}))
	assert.Equal(t, true, eval(t, "x == 1.0", map[string]any{"x": int64(1)}))
}

func TestEvalBooleanLogic(t *testing.T) {
	vars := map[string]any{"a": true, "b": false}
	assert.Equal(t, true, eval(t, "a or b", vars))
	assert.Equal(t, false, eval(t, "a and b", vars))
	assert.Equal(t, true, eval(t, "not b", vars))
	assert.Equal(t, true, eval(t, "not (a and b)", vars))
}

func TestEvalShortCircuit(t *testing.T) {
	// The right side would raise, but the left side decides.
	assert.Equal(t, false, eval(t, "false and (1 / 0 > 0)", nil))
	assert.Equal(t, true, eval(t, "true or (1 / 0 > 0)", nil))
}

func TestEvalMembership(t *testing.T) {
	vars := map[string]any{"status": "ACTIVE", "tags": []any{"x", "y"}}
	assert.Equal(t, true, eval(t, "status in ['PENDING', 'ACTIVE']", vars))
	assert.Equal(t, false, eval(t, "'z' in tags", vars))
	assert.Equal(t, true, eval(t, "'z' not in tags", vars))
	assert.Equal(t, true, eval(t, "'ell' in 'hello'", vars))
	assert.Equal(t, true, eval(t, "2 in [1, 2, 3]", nil))
}

func TestEvalStringAndListConcat(t *testing.T) {
	assert.Equal(t, "ab", eval(t, "'a' + 'b'", nil))
	assert.Equal(t, []any{1.0, 2.0}, eval(t, "[1] + [2]", nil))
}

func TestEvalFunctions(t *testing.T) {
	assert.Equal(t, 3.0, eval(t, "abs(-3)", nil))
	assert.Equal(t, 1.0, eval(t, "min(1, 2, 3)", nil))
	assert.Equal(t, 3.0, eval(t, "max([1, 2, 3])", nil))
	assert.Equal(t, 2.0, eval(t, "round(1.5)", nil))
	assert.Equal(t, 1.0, eval(t, "floor(1.9)", nil))
	assert.Equal(t, 2.0, eval(t, "ceil(1.1)", nil))
	assert.Equal(t, 3.0, eval(t, "sqrt(9)", nil))
	assert.Equal(t, 8.0, eval(t, "pow(2, 3)", nil))
	assert.Equal(t, 3.0, eval(t, "len('abc')", nil))
	assert.Equal(t, 6.0, eval(t, "sum([1, 2, 3])", nil))
	assert.Equal(t, true, eval(t, "all([true, true])", nil))
	assert.Equal(t, false, eval(t, "all([true, false])", nil))
	assert.Equal(t, true, eval(t, "any([false, true])", nil))
	assert.Equal(t, "1.5", eval(t, "str(1.5)", nil))
	assert.Equal(t, 1.0, eval(t, "int('1.9')", nil))
	assert.Equal(t, 0.5, eval(t, "float('0.5')", nil))
}

func TestEvalErrors(t *testing.T) {
	var ee *EvaluationError
	assert.ErrorAs(t, evalErr(t, "1 / 0", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "1 % 0", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "1 + 'a'", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "sqrt(-1)", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "not 5", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "1 and true", nil), &ee)
	assert.ErrorAs(t, evalErr(t, "min()", nil), &ee)

	var ae *AttributeError
	assert.ErrorAs(t, evalErr(t, "undefined_attr > 0", nil), &ae)
}

func TestEvalBool(t *testing.T) {
	e, err := Parse("1 + 1")
	require.NoError(t, err)
	_, err = EvalBool(e, nil, NewRegistry())
	var ee *EvaluationError
	assert.ErrorAs(t, err, &ee)

	e, err = Parse("true")
	require.NoError(t, err)
	b, err := EvalBool(e, nil, NewRegistry())
	require.NoError(t, err)
	assert.True(t, b)
}

func TestRegistryRejectsBuiltinOverride(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("abs", func(args []any) (any, error) { return nil, nil })
	assert.Error(t, err)

	require.NoError(t, reg.Register("double", func(args []any) (any, error) {
		n, _ := toNumber(args[0])
		return n * 2, nil
	}))
	e, err := Parse("double(21)")
	require.NoError(t, err)
	v, err := Eval(e, nil, reg)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestEvalDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	reg := NewRegistry()
	expr, err := Parse("risk > 0.8 or (amount * rate < threshold and risk >= 0)")
	require.NoError(t, err)

	properties.Property("same inputs give same result", prop.ForAll(
		func(risk, amount, rate, threshold float64) bool {
			vars := map[string]any{
				"risk": risk, "amount": amount,
				"rate": rate, "threshold": threshold,
			}
			a, errA := Eval(expr, vars, reg)
			b, errB := Eval(expr, vars, reg)
			if (errA == nil) != (errB == nil) {
				return false
			}
			if errA != nil {
				return errA.Error() == errB.Error()
			}
			return a == b
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
