// Package errors defines the typed error hierarchy surfaced by the lumen
// core: compile-time errors from the front end and the runtime error kinds
// named in the interpreter's error-handling design (stack overflow, type
// mismatches, out-of-memory, and user-raised runtime errors).
package errors

import "fmt"

// LumenError is implemented by every error this module raises across a
// public API boundary.
type LumenError interface {
	error
	Pos() Position
	Kind() string
	Message() string
}

// Kind strings classify a RuntimeError without requiring callers to type
// switch on concrete Go types.
const (
	KindSyntax                   = "Syntax"
	KindCompile                  = "Compile"
	KindStackOverflow             = "StackOverflow"
	KindExpectedTable             = "ExpectedTable"
	KindAttemptToCallNonFunction  = "AttemptToCallNonFunction"
	KindAttemptToPerformArith     = "AttemptToPerformArithmetic"
	KindAttemptToConcatenate      = "AttemptToConcatenate"
	KindAttemptToGetLength        = "AttemptToGetLength"
	KindTableIndexIsNil           = "TableIndexIsNil"
	KindOutOfMemory               = "OutOfMemory"
	KindRuntimeError              = "RuntimeError"
)

// SyntaxError describes malformed source text. The lexer and compiler in
// this module report every failure as a CompileError; nothing constructs
// a SyntaxError.
type SyntaxError struct {
	Position
	Msg string
}

func (e *SyntaxError) Error() string   { return fmt.Sprintf("%s: syntax error: %s", e.Position, e.Msg) }
func (e *SyntaxError) Pos() Position   { return e.Position }
func (e *SyntaxError) Kind() string    { return KindSyntax }
func (e *SyntaxError) Message() string { return e.Msg }

// CompileError is raised by the compiler for any chunk it cannot turn into
// a valid prototype: parse errors as well as cases such as break outside
// a loop.
type CompileError struct {
	Position
	Msg string
}

func (e *CompileError) Error() string   { return fmt.Sprintf("%s: %s", e.Position, e.Msg) }
func (e *CompileError) Pos() Position   { return e.Position }
func (e *CompileError) Kind() string    { return KindCompile }
func (e *CompileError) Message() string { return e.Msg }

// RuntimeError is raised by the VM or by library/user code via `error()`.
// Value holds the Lua error value (usually a string, but may be any Lua
// value); it is typed interface{} here to avoid an import cycle with the
// vm package, which knows how to box/unbox its own Value type into it.
type RuntimeError struct {
	Position
	Msg      string
	RuntimeKind string // one of the Kind* constants above, defaults to KindRuntimeError
	Value    interface{}
	Traceback []string
}

func (e *RuntimeError) Error() string {
	if len(e.Traceback) == 0 {
		return fmt.Sprintf("%s: %s", e.Position, e.Msg)
	}
	s := fmt.Sprintf("%s: %s", e.Position, e.Msg)
	for _, line := range e.Traceback {
		s += "\n\t" + line
	}
	return s
}
func (e *RuntimeError) Pos() Position { return e.Position }
func (e *RuntimeError) Kind() string {
	if e.RuntimeKind == "" {
		return KindRuntimeError
	}
	return e.RuntimeKind
}
func (e *RuntimeError) Message() string { return e.Msg }

// NewRuntimeError builds a RuntimeError of the given kind with a plain
// string message and no associated Lua value.
func NewRuntimeError(kind, msg string) *RuntimeError {
	return &RuntimeError{Msg: msg, RuntimeKind: kind}
}
