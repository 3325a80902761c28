// Package errors provides standardized error messaging for the tracer.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory groups errors by the subsystem that raised them.
type ErrorCategory string

const (
	CategoryBootstrap  ErrorCategory = "BOOTSTRAP"
	CategoryAllocator  ErrorCategory = "ALLOCATOR"
	CategoryCorruption ErrorCategory = "CORRUPTION"
	CategoryControl    ErrorCategory = "CONTROL"
)

// StandardError provides a consistent error format across the tracer.
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface.
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error, recording the
// function that raised it.
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// ArenaExhausted reports that the bootstrap arena ran out of space or
// handles before the real allocator could be installed.
func ArenaExhausted(detail string) *StandardError {
	return NewStandardError(CategoryBootstrap, "ARENA_EXHAUSTED", detail, nil)
}

// InvalidAlignment reports a PosixMemalign request whose alignment is
// not a power of two.
func InvalidAlignment(alignment uintptr) *StandardError {
	return NewStandardError(CategoryAllocator, "INVALID_ALIGNMENT",
		fmt.Sprintf("alignment %d is not a power of two", alignment),
		map[string]interface{}{"alignment": alignment})
}

// AllocatorFailure reports that the installed UnderlyingAllocator
// refused a request once the engine left bootstrap, the Go analogue of
// libc's malloc/realloc returning NULL.
func AllocatorFailure(detail string) *StandardError {
	return NewStandardError(CategoryAllocator, "ALLOCATOR_FAILURE", detail, nil)
}

// CorruptHeader reports a header whose magic byte does not match any
// known state; only ever raised when built with the debug tag.
func CorruptHeader(magic uint8) *StandardError {
	return NewStandardError(CategoryCorruption, "CORRUPT_HEADER",
		fmt.Sprintf("header has unrecognised magic %d", magic),
		map[string]interface{}{"magic": magic})
}

// UnknownCommand reports a control-socket line that matched none of the
// recognised commands.
func UnknownCommand(line string) *StandardError {
	return NewStandardError(CategoryControl, "UNKNOWN_COMMAND",
		fmt.Sprintf("unrecognised command %q", line),
		map[string]interface{}{"line": line})
}
