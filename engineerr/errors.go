// Package engineerr defines the error taxonomy shared across the record
// storage engine: a single ErrCode-tagged error type carrying the context
// fields each component needs, plus the retryable/non-retryable split the
// transaction runner relies on.
package engineerr

import "fmt"

// Code classifies an Error for dispatch by callers (retry loops, API
// boundaries) without string matching.
type Code int

const (
	// Transient/retryable, surfaced to the runner's retry loop (§4.O).
	Conflict Code = iota
	TransactionTooOld
	TransactionTooLarge
	CommitUnknownResult
	NetworkTimeout

	// Validation, never retried.
	MissingPartitionBinding
	MalformedTuple
	ValueTooLarge
	DirectoryPathError
	SchemaMismatch

	// Consistency, never retried.
	UniquenessViolation
	IndexStateInvalidTransition

	// Capacity/budget, never retried.
	PlanComplexityExceeded
	PlanEnumerationsExceeded
	RuleApplicationsExceeded
	PlanningTimeoutExceeded

	// Lifecycle.
	LockNotAcquired
	LockLost
	InvalidLockData

	// Format.
	FormatVersionTooOld
	FormatVersionTooNew
	MajorVersionMismatch
	UpgradeFailed
	FeatureNotAvailable

	// Security.
	Security
)

var retryable = map[Code]bool{
	Conflict:             true,
	TransactionTooOld:    true,
	TransactionTooLarge:  true,
	CommitUnknownResult:  true,
	NetworkTimeout:       true,
}

// Error is the error type returned throughout the engine.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("engine error (code: %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("engine error (code: %d): %s %v", e.Code, e.Message, e.Fields)
}

// Retryable reports whether err (or its Code) should be retried by the
// transaction runner.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return retryable[e.Code]
}

// New constructs an Error with the given code, message, and optional
// key/value context fields (must be passed in pairs).
func New(code Code, message string, kv ...any) *Error {
	e := &Error{Code: code, Message: message}
	if len(kv) > 0 {
		e.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, _ := kv[i].(string)
			e.Fields[key] = kv[i+1]
		}
	}
	return e
}

func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
