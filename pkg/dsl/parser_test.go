package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidExpressions(t *testing.T) {
	valid := []string{
		"1 + 2 * 3",
		"score < 0.5",
		"risk > 0.8 and amount <= 1000",
		"not (a or b)",
		"status in ['PENDING', 'ACTIVE']",
		"key not in list_attr",
		"min(a, b) + max(1, 2, 3)",
		"len('abc') == 3",
		"-x + +y",
		"[1, 2, [3, 4]]",
		"[]",
		"f()",
		"true or false",
		"x % 2 == 0",
		"'a' + 'b' == 'ab'",
	}
	for _, src := range valid {
		_, err := Parse(src)
		assert.NoError(t, err, "expr: %s", src)
	}
}

func TestParseRejectsForbiddenConstructs(t *testing.T) {
	invalid := []string{
		"a & b",     // bitwise and
		"a | b",     // bitwise or
		"a ^ b",     // bitwise xor
		"~a",        // bitwise not
		"a ** 2",    // power
		"a.b",       // attribute access
		"a[0]",      // subscript
		"[1, 2][0]", // subscript on list literal
		"x = 1",     // assignment
		"!x",        // C-style not
	}
	for _, src := range invalid {
		_, err := Parse(src)
		require.Error(t, err, "expr: %s", src)
		var se *SyntaxError
		assert.ErrorAs(t, err, &se, "expr: %s", src)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, src := range []string{"", "1 +", "(1", "[1,", "f(1", "'unterminated", "1 2"} {
		_, err := Parse(src)
		assert.Error(t, err, "expr: %q", src)
	}
}

func TestParsePrecedence(t *testing.T) {
	// 1 + 2 * 3 parses as 1 + (2 * 3)
	e, err := Parse("1 + 2 * 3")
	require.NoError(t, err)
	add, ok := e.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)
	mul, ok := add.R.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Op)
}

func TestParseNotIn(t *testing.T) {
	e, err := Parse("x not in [1, 2]")
	require.NoError(t, err)
	cmp, ok := e.(*CompareExpr)
	require.True(t, ok)
	assert.Equal(t, "not in", cmp.Op)
}

func TestParseLeadingNotWithIn(t *testing.T) {
	// "not a in b" binds as not (a in b)
	e, err := Parse("not x in [1]")
	require.NoError(t, err)
	un, ok := e.(*UnaryExpr)
	require.True(t, ok)
	assert.Equal(t, "not", un.Op)
	_, ok = un.X.(*CompareExpr)
	assert.True(t, ok)
}

func TestValidatePermittedNames(t *testing.T) {
	reg := NewRegistry()
	allowed := map[string]bool{"score": true, "uow_id": true}

	e, err := Parse("score < 0.5 and len(uow_id) > 0")
	require.NoError(t, err)
	assert.NoError(t, Validate(e, allowed, reg))

	e, err = Parse("actor_id == 'x'")
	require.NoError(t, err)
	err = Validate(e, allowed, reg)
	var ae *AttributeError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "actor_id", ae.Name)
}

func TestValidateRejectsUnknownFunction(t *testing.T) {
	reg := NewRegistry()
	e, err := Parse("shell('rm -rf')")
	require.NoError(t, err)
	err = Validate(e, map[string]bool{}, reg)
	var ae *AttributeError
	assert.ErrorAs(t, err, &ae)
}
