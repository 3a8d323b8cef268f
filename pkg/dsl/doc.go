// Package dsl implements the restricted expression language used by guard
// interaction policies: infix arithmetic and boolean logic over a named
// variable namespace, with an extensible allow-list of pure functions.
//
// The language deliberately has no attribute access, no subscripts, no
// bitwise operators, and no assignment; identifiers resolve only against
// the permitted variable set supplied by the caller. Parse errors surface
// as *SyntaxError, unknown names as *AttributeError, and runtime failures
// (division by zero, type mismatch) as *EvaluationError. Evaluation is
// deterministic: no I/O, no clock, no randomness.
package dsl
