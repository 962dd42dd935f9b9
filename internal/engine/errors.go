package engine

import "fmt"

// ScriptErrorCode categorizes script failures.
type ScriptErrorCode string

const (
	// ErrCodeCompileFailed indicates the expression did not parse or
	// type-check against the trigger's context.
	ErrCodeCompileFailed ScriptErrorCode = "COMPILE_FAILED"

	// ErrCodeEvalFailed indicates a runtime evaluation error, e.g. a missing
	// key or a type mismatch on live data.
	ErrCodeEvalFailed ScriptErrorCode = "EVAL_FAILED"
)

// ScriptError is a failure inside one tenant script. At evaluation time these
// are logged and degraded to the safe default, never propagated; the
// authoring surfaces (check, import) return them verbatim so the author can
// fix the expression.
type ScriptError struct {
	Code     ScriptErrorCode
	ScriptID string
	TenantID string
	Err      error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if e.ScriptID != "" {
		return fmt.Sprintf("%s: script %s: %v", e.Code, e.ScriptID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying compile/eval error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
