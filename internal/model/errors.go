package model

import "fmt"

// BackendUnavailable indicates a telemetry, LLM, cache, or cluster
// backend could not be reached at all (connection refused, DNS
// failure); distinct from BackendTimeout so callers can decide whether
// a retry is worth attempting within the current budget.
type BackendUnavailable struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendUnavailable) Error() string {
	return fmt.Sprintf("%s: %s unavailable: %v", e.Op, e.Backend, e.Err)
}

func (e *BackendUnavailable) Unwrap() error { return e.Err }

// BackendTimeout indicates a backend was reached but did not respond
// within the operation's deadline.
type BackendTimeout struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendTimeout) Error() string {
	return fmt.Sprintf("%s: %s timed out: %v", e.Op, e.Backend, e.Err)
}

func (e *BackendTimeout) Unwrap() error { return e.Err }

// ParseError indicates a backend responded but the payload could not be
// interpreted (malformed JSON, an LLM response with no parseable JSON
// object).
type ParseError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: could not parse %s response: %v", e.Op, e.Backend, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvariantViolation is raised when code detects that a structural
// guarantee the pipeline depends on does not hold (a cycle survived
// causal subgraph construction, two active incidents on one target).
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.What
}

// ActionError wraps a failure from the Action Executor while applying
// or compensating a single Action.
type ActionError struct {
	ActionID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// VerificationFailure indicates the post-remediation telemetry check did
// not clear within the policy's verification wait.
type VerificationFailure struct {
	Target string
	Reason string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.Target, e.Reason)
}

// DiagnosisInconclusive indicates the Diagnosis Agent could not settle
// on a hypothesis clearing the policy's confidence threshold even after
// retrying once against an expanded (2x) lookback window, or could not
// parse the LLM's response on that retry either.
type DiagnosisInconclusive struct {
	Target     string
	Confidence float64
	Reason     string
	Err        error
}

func (e *DiagnosisInconclusive) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("diagnosis inconclusive for %s: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("diagnosis inconclusive for %s: %s (confidence %.2f)", e.Target, e.Reason, e.Confidence)
}

func (e *DiagnosisInconclusive) Unwrap() error { return e.Err }

// PolicyForbidden indicates a proposal is disallowed by the governing
// SelfHealingPolicy: a micro-agent proposed only actions whose
// strategies are outside the policy's AllowedActions.
type PolicyForbidden struct {
	Reason string
}

func (e *PolicyForbidden) Error() string {
	return "forbidden by policy: " + e.Reason
}
