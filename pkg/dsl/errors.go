package dsl

import "fmt"

// SyntaxError reports a lexing or parsing failure. Expressions that fail to
// parse are rejected at template import time.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// AttributeError reports a reference to a name outside the permitted
// variable set.
type AttributeError struct {
	Name string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("undefined name %q", e.Name)
}

// EvaluationError reports a runtime failure: division by zero, type
// mismatch, bad function arguments. Evaluation is total; the policy engine
// captures these and never propagates them to its caller.
type EvaluationError struct {
	Msg string
}

func (e *EvaluationError) Error() string {
	return "evaluation error: " + e.Msg
}

func evalErrf(format string, args ...any) *EvaluationError {
	return &EvaluationError{Msg: fmt.Sprintf(format, args...)}
}

func syntaxErrf(pos int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
