// Package mfa escalates critical actions to an out-of-band push approval.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/NetClaw/internal/approval"
)

// PushInfo is the context shown on the approver's device.
type PushInfo struct {
	Type    string
	Summary map[string]string
}

// PushProvider sends a push approval to identity and blocks until the user
// answers or ctx is done.
type PushProvider interface {
	PushApproval(ctx context.Context, identity string, info PushInfo) (bool, error)
}

// Gate wraps a PushProvider with a hard timeout and maps every failure to a
// non-approving outcome.
type Gate struct {
	provider PushProvider
	identity string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a gate. A zero timeout defaults to 60s.
func NewGate(provider PushProvider, identity string, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gate{provider: provider, identity: identity, timeout: timeout, logger: slog.Default()}
}

// Escalate implements approval.Escalator.
func (g *Gate) Escalate(ctx context.Context, action approval.PendingAction) approval.MFAOutcome {
	if g.provider == nil || g.identity == "" {
		g.logger.Error("MFA escalation unavailable: no provider configured", "token_id", approval.Fingerprint(action.Token))
		return approval.MFAUnavailable
	}
	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	ok, err := g.provider.PushApproval(gctx, g.identity, pushInfo(action))
	elapsed := time.Since(start)
	if err != nil {
		outcome := classifyFailure(ctx, gctx, err)
		g.logger.Warn("MFA escalation failed",
			"token_id", approval.Fingerprint(action.Token), "outcome", outcome.String(),
			"elapsed", elapsed, "error", err)
		return outcome
	}
	if !ok {
		g.logger.Info("MFA push denied", "token_id", approval.Fingerprint(action.Token), "elapsed", elapsed)
		return approval.MFADenied
	}
	g.logger.Info("MFA push approved", "token_id", approval.Fingerprint(action.Token), "elapsed", elapsed)
	return approval.MFAApproved
}

// classifyFailure separates cancellation by the caller, the gate's own
// timeout, and an unreachable provider.
func classifyFailure(parent, gctx context.Context, err error) approval.MFAOutcome {
	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		return approval.MFACancelled
	case parent.Err() != nil:
		return approval.MFATimedOut
	case errors.Is(gctx.Err(), context.DeadlineExceeded):
		return approval.MFATimedOut
	case errors.Is(err, ErrPushTimeout):
		return approval.MFATimedOut
	}
	return approval.MFAUnavailable
}

func pushInfo(a approval.PendingAction) PushInfo {
	return PushInfo{
		Type: "NetClaw critical action",
		Summary: map[string]string{
			"action":    a.Description,
			"impact":    a.Impact,
			"tool":      a.ToolName,
			"requester": a.RequestedBy,
			"expires":   a.ExpiresAt.UTC().Format(time.RFC3339),
			"reference": fmt.Sprintf("#%s", approval.Fingerprint(a.Token)),
		},
	}
}
