package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rulecore/internal/agenda"
)

// RuntimeError represents an error detected while a session runs.
//
// Runtime errors include:
//   - Consequence failures: a rule's consequence returned an error or panicked
//   - Evaluation failures: a predicate failed while matching a fact
//   - Usage errors: an operation the session cannot accept in its state
//   - Quota exceeded: one FireAll call fired more activations than allowed
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Rule names the affected rule, if any.
	Rule string

	// Match is the activation's match key (rule + bound handle IDs).
	Match string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeBuild indicates a rule base that could not be turned into a network.
	ErrCodeBuild RuntimeErrorCode = "BUILD_ERROR"

	// ErrCodeEvaluation indicates a predicate failure isolated to one tuple.
	ErrCodeEvaluation RuntimeErrorCode = "EVALUATION_ERROR"

	// ErrCodeConsistency labels a recovered *ConsistencyError. Sessions never
	// return it themselves; they panic.
	ErrCodeConsistency RuntimeErrorCode = "CONSISTENCY_ERROR"

	// ErrCodeConsequence indicates a consequence returned an error or panicked.
	ErrCodeConsequence RuntimeErrorCode = "CONSEQUENCE_ERROR"

	// ErrCodeUsage indicates an operation the session cannot accept.
	ErrCodeUsage RuntimeErrorCode = "USAGE_ERROR"

	// ErrCodeQuotaExceeded indicates a FireAll call exceeded the fire quota.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Usage errors. They are returned wrapped in a RuntimeError with
// ErrCodeUsage, so both errors.Is and IsUsageError work.
var (
	ErrDisposed            = errors.New("session disposed")
	ErrNotPseudoClock      = errors.New("clock cannot be advanced manually")
	ErrForeignHandle       = errors.New("fact handle does not belong to this session")
	ErrDeletedHandle       = errors.New("fact handle has been deleted")
	ErrCancelledActivation = errors.New("activation was cancelled while firing")
	ErrUntypedFact         = errors.New("fact has no type")
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, msg, e.Rule)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsConsequenceError returns true if the error came from a rule consequence.
// Uses errors.As to handle wrapped errors.
func IsConsequenceError(err error) bool { return hasCode(err, ErrCodeConsequence) }

// IsUsageError returns true if the session refused the operation.
func IsUsageError(err error) bool { return hasCode(err, ErrCodeUsage) }

// IsEvaluationError returns true for isolated predicate failures.
func IsEvaluationError(err error) bool { return hasCode(err, ErrCodeEvaluation) }

// IsBuildError returns true if the rule base could not be built.
func IsBuildError(err error) bool { return hasCode(err, ErrCodeBuild) }

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and FiresExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var fe *FiresExceededError
	return errors.As(err, &fe)
}

func usageError(op string, err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeUsage, Message: op, Err: err}
}

// NewConsequenceError wraps the failure of a rule consequence.
func NewConsequenceError(rule, match string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeConsequence,
		Message: "consequence failed",
		Rule:    rule,
		Match:   match,
		Err:     err,
	}
}

// ConsistencyError is the panic value raised when session bookkeeping is
// found broken. It is never returned as an error.
type ConsistencyError struct {
	Message string
}

func (e *ConsistencyError) Error() string {
	return "session consistency: " + e.Message
}

// RecoverConsistency converts a recovered consistency panic into a
// RuntimeError. Any other panic value is re-raised.
//
//	defer func() {
//		if r := recover(); r != nil {
//			err = engine.RecoverConsistency(r)
//		}
//	}()
func RecoverConsistency(r any) error {
	switch ce := r.(type) {
	case *ConsistencyError:
		return &RuntimeError{Code: ErrCodeConsistency, Message: ce.Message, Err: ce}
	case *agenda.ConsistencyError:
		return &RuntimeError{Code: ErrCodeConsistency, Message: ce.Message, Err: ce}
	}
	panic(r)
}

func inconsistent(format string, args ...any) {
	panic(&ConsistencyError{Message: fmt.Sprintf(format, args...)})
}
