// Package executor routes tool calls through the risk classifier: safe calls
// run immediately, everything else is parked in the confirmation store until
// a human approves it.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/policy"
	"github.com/KafClaw/NetClaw/internal/unifi"
)

// Result is one of Answer, NeedsConfirmation or Failure.
type Result interface {
	// Type is "answer", "needs_confirmation" or "failure".
	Type() string
	sealed()
}

// Answer is a final textual result.
type Answer struct {
	Text string
}

// NeedsConfirmation carries an action parked until a human approves it.
type NeedsConfirmation struct {
	Action approval.PendingAction
}

// Failure is a typed error result.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (Answer) Type() string            { return "answer" }
func (NeedsConfirmation) Type() string { return "needs_confirmation" }
func (Failure) Type() string           { return "failure" }

func (Answer) sealed()            {}
func (NeedsConfirmation) sealed() {}
func (Failure) sealed()           {}

func (f Failure) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Detail
}

// FailureKind classifies a Failure.
type FailureKind string

const (
	FailureAuth              FailureKind = "auth_error"
	FailureNotFound          FailureKind = "not_found"
	FailureExpired           FailureKind = "expired"
	FailureAlreadyResolved   FailureKind = "already_resolved"
	FailureNotAuthorized     FailureKind = "not_authorized"
	FailureProvider          FailureKind = "provider_error"
	FailureIterationLimit    FailureKind = "iteration_limit_exceeded"
	FailureClassificationGap FailureKind = "classification_gap"
	FailureMFADenied         FailureKind = "mfa_denied"
	FailureMFATimedOut       FailureKind = "mfa_timed_out"
	FailureUnknownTool       FailureKind = "unknown_tool"
	FailureTool              FailureKind = "tool_error"
	FailureExecution         FailureKind = "execution_failed"
	FailureNotApproved       FailureKind = "not_approved"
	FailureCancelled         FailureKind = "cancelled"
	FailureInvalidRequest    FailureKind = "invalid_request"
)

// FailureFrom converts err into a Failure. fallback is used when err matches
// none of the known error types.
func FailureFrom(err error, fallback FailureKind) Failure {
	var f Failure
	if errors.As(err, &f) {
		return f
	}
	kind := fallback
	switch {
	case unifi.IsAuthError(err):
		kind = FailureAuth
	case errors.Is(err, approval.ErrNotFound):
		kind = FailureNotFound
	case errors.Is(err, approval.ErrExpired):
		kind = FailureExpired
	case errors.Is(err, approval.ErrAlreadyResolved):
		kind = FailureAlreadyResolved
	case errors.Is(err, approval.ErrNotAuthorized):
		kind = FailureNotAuthorized
	case errors.Is(err, approval.ErrNotApproved):
		kind = FailureNotApproved
	case errors.Is(err, approval.ErrMFADenied):
		kind = FailureMFADenied
	case errors.Is(err, approval.ErrMFATimedOut):
		kind = FailureMFATimedOut
	case errors.Is(err, policy.ErrClassificationGap):
		kind = FailureClassificationGap
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = FailureCancelled
	}
	return Failure{Kind: kind, Detail: err.Error()}
}

// Describe renders a result for a human reader.
func Describe(r Result) string {
	switch v := r.(type) {
	case Answer:
		return v.Text
	case NeedsConfirmation:
		a := v.Action
		return fmt.Sprintf("Confirmation required (%s): %s\nImpact: %s\nReference: #%s, expires %s",
			a.Tier, a.Description, a.Impact, approval.Fingerprint(a.Token), a.ExpiresAt.Format("15:04:05 MST"))
	case Failure:
		return "Error: " + v.Error()
	}
	return ""
}
