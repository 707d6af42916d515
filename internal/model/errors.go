package model

import "errors"

// ErrorKind classifies errors surfaced in response metadata and audit
// records.
type ErrorKind string

const (
	ErrKindAuthorization  ErrorKind = "authorization"
	ErrKindThrottle       ErrorKind = "throttle"
	ErrKindSecurity       ErrorKind = "security_unavailable"
	ErrKindToolValidation ErrorKind = "tool_validation"
	ErrKindToolExecution  ErrorKind = "tool_execution"
	ErrKindRetrieval      ErrorKind = "retrieval_unavailable"
	ErrKindTruthGate      ErrorKind = "truth_gate"
	ErrKindGeneration     ErrorKind = "generation"
	ErrKindObservability  ErrorKind = "observability"
	ErrKindInternal       ErrorKind = "internal"
)

// Security-classed sentinels. Handlers map these to transport codes and
// deliberately terse response bodies.
var (
	// ErrAuthorization is returned on a missing or mismatched credential.
	ErrAuthorization = errors.New("authorization denied")

	// ErrThrottled is returned when a client exceeds its request budget.
	ErrThrottled = errors.New("rate limit exceeded")

	// ErrSecurityUnavailable is returned when a security-relevant
	// dependency cannot be reached. The request is rejected, never
	// allowed through.
	ErrSecurityUnavailable = errors.New("security subsystem unavailable")
)
