package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/policy"
	"github.com/KafClaw/NetClaw/internal/tools"
	"github.com/KafClaw/NetClaw/internal/unifi"
)

// Store is the part of the confirmation store the executor drives.
type Store interface {
	Create(req approval.Request) (approval.PendingAction, error)
	Approve(token, approver string) (approval.PendingAction, error)
	Deny(token, approver string) (approval.PendingAction, error)
	AwaitMFA(ctx context.Context, token string) (approval.PendingAction, error)
	Consume(token string) (approval.PendingAction, error)
	Complete(token string, execErr error) (approval.PendingAction, error)
}

// Observer receives one callback per tool call decision.
type Observer interface {
	ToolCall(tool string, tier policy.Tier, outcome string)
	ClassificationGap(tool string)
}

// Call is one tool invocation requested by the agent.
type Call struct {
	Tool        string
	Arguments   map[string]any
	RequestedBy string
	Origin      approval.Origin
}

// Options configures an Executor.
type Options struct {
	Registry   *tools.Registry
	Classifier policy.Engine
	Store      Store
	Observer   Observer
	Logger     *slog.Logger
}

// Executor dispatches tool calls according to their risk tier.
type Executor struct {
	registry   *tools.Registry
	classifier policy.Engine
	store      Store
	observer   Observer
	logger     *slog.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   opts.Registry,
		classifier: opts.Classifier,
		store:      opts.Store,
		observer:   opts.Observer,
		logger:     logger,
	}
}

// Definitions returns the schemas of the registered tools.
func (e *Executor) Definitions() []tools.Definition {
	return e.registry.Definitions()
}

// Classify exposes the classifier verdict without executing anything.
func (e *Executor) Classify(tool string, args map[string]any) (policy.Tier, error) {
	return e.classifier.Classify(tool, args)
}

// Execute runs a safe call immediately and returns its output as an Answer.
// Any other tier is registered with the store and returned as
// NeedsConfirmation; the tool is not run. It never blocks on approval.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	tool, ok := e.registry.Get(call.Tool)
	if !ok {
		e.logger.Warn("Unknown tool requested", "tool", call.Tool)
		e.observe(call.Tool, policy.Dangerous, string(FailureUnknownTool))
		return Failure{Kind: FailureUnknownTool, Detail: fmt.Sprintf("tool not found: %s", call.Tool)}
	}
	if err := tools.Validate(tool, call.Arguments); err != nil {
		return Failure{Kind: FailureTool, Detail: err.Error()}
	}

	tier, err := e.classifier.Classify(call.Tool, call.Arguments)
	if err != nil {
		// tier is already the fail-closed verdict; the gap is a config defect.
		e.logger.Warn("Classification gap, treating as dangerous", "tool", call.Tool, "tier", tier, "error", err)
		if e.observer != nil {
			e.observer.ClassificationGap(call.Tool)
		}
	}

	if !tier.RequiresConfirmation() {
		out, err := tool.Execute(ctx, call.Arguments)
		if err != nil {
			f := toolFailure(err, FailureTool)
			e.logger.Warn("Tool failed", "tool", call.Tool, "kind", f.Kind, "error", err)
			e.observe(call.Tool, tier, string(f.Kind))
			return f
		}
		e.observe(call.Tool, tier, "executed")
		return Answer{Text: out}
	}

	description, impact := tools.Describe(tool, call.Arguments)
	action, err := e.store.Create(approval.Request{
		ToolName:    call.Tool,
		Arguments:   call.Arguments,
		Tier:        tier,
		Description: description,
		Impact:      impact,
		RequestedBy: call.RequestedBy,
		Origin:      call.Origin,
	})
	if err != nil {
		return FailureFrom(err, FailureTool)
	}
	e.logger.Info("Action awaiting confirmation", "tool", call.Tool, "tier", tier, "token_id", approval.Fingerprint(action.Token))
	e.observe(call.Tool, tier, "confirmation")
	return NeedsConfirmation{Action: action}
}

// Confirm approves a pending action and, once every required factor has
// passed, runs it. For critical actions it waits for the MFA outcome, bounded
// by ctx and by the action's own expiry.
func (e *Executor) Confirm(ctx context.Context, token, approver string) Result {
	action, err := e.store.Approve(token, approver)
	if err != nil {
		return FailureFrom(err, FailureAlreadyResolved)
	}
	if action.Status == approval.StatusMFAPending {
		e.logger.Info("Waiting for MFA approval", "token_id", approval.Fingerprint(token), "tool", action.ToolName)
		if action, err = e.store.AwaitMFA(ctx, token); err != nil {
			return FailureFrom(err, FailureMFATimedOut)
		}
		if err := action.MFAErr(); err != nil {
			e.logger.Warn("MFA did not approve action", "token_id", approval.Fingerprint(token), "status", action.Status, "reason", action.Reason)
			return FailureFrom(err, FailureMFADenied)
		}
	}
	return e.RunApproved(ctx, token)
}

// Deny rejects a pending action.
func (e *Executor) Deny(token, approver string) Result {
	action, err := e.store.Deny(token, approver)
	if err != nil {
		return FailureFrom(err, FailureAlreadyResolved)
	}
	return Answer{Text: "Denied: " + action.Description}
}

// RunApproved consumes an approved token and runs the deferred call. A failed
// run leaves the action failed; the token cannot be retried.
func (e *Executor) RunApproved(ctx context.Context, token string) Result {
	action, err := e.store.Consume(token)
	if err != nil {
		return FailureFrom(err, FailureNotApproved)
	}
	tool, ok := e.registry.Get(action.ToolName)
	if !ok {
		err := fmt.Errorf("tool not found: %s", action.ToolName)
		e.complete(token, err)
		return Failure{Kind: FailureUnknownTool, Detail: err.Error()}
	}

	out, runErr := tool.Execute(ctx, action.Arguments)
	e.complete(token, runErr)
	if runErr != nil {
		f := toolFailure(runErr, FailureExecution)
		e.logger.Error("Approved action failed", "token_id", approval.Fingerprint(token), "tool", action.ToolName, "error", runErr)
		e.observe(action.ToolName, action.Tier, string(f.Kind))
		return f
	}
	e.logger.Info("Approved action executed", "token_id", approval.Fingerprint(token), "tool", action.ToolName, "resolved_by", action.ResolvedBy)
	e.observe(action.ToolName, action.Tier, "executed")
	return Answer{Text: out}
}

func (e *Executor) complete(token string, runErr error) {
	if _, err := e.store.Complete(token, runErr); err != nil {
		e.logger.Error("Failed to record action completion", "token_id", approval.Fingerprint(token), "error", err)
	}
}

func (e *Executor) observe(tool string, tier policy.Tier, outcome string) {
	if e.observer != nil {
		e.observer.ToolCall(tool, tier, outcome)
	}
}

// toolFailure keeps auth errors distinct; callers must not retry them.
func toolFailure(err error, fallback FailureKind) Failure {
	if unifi.IsAuthError(err) {
		return Failure{Kind: FailureAuth, Detail: err.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure{Kind: FailureCancelled, Detail: err.Error()}
	}
	return Failure{Kind: fallback, Detail: err.Error()}
}
