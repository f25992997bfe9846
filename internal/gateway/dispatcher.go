package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/NetClaw/internal/agent"
	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/bus"
	"github.com/KafClaw/NetClaw/internal/executor"
)

const maxConcurrentTurns = 8

// Dispatcher consumes chat messages and approval clicks from the bus, runs
// them through the agent or the executor, and publishes the replies.
type Dispatcher struct {
	bus     *bus.MessageBus
	agent   Agent
	actions Actions
	logger  *slog.Logger
}

func NewDispatcher(b *bus.MessageBus, a Agent, actions Actions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bus: b, agent: a, actions: actions, logger: logger}
}

// Run blocks until ctx is done. Every message and decision is handled in
// its own goroutine; a critical approval may wait on MFA for a minute.
func (d *Dispatcher) Run(ctx context.Context) error {
	var work errgroup.Group
	work.SetLimit(maxConcurrentTurns)

	var loops errgroup.Group
	loops.Go(func() error {
		for {
			msg, err := d.bus.ConsumeInbound(ctx)
			if err != nil {
				return err
			}
			work.Go(func() error {
				d.handleInbound(ctx, msg)
				return nil
			})
		}
	})
	loops.Go(func() error {
		for {
			evt, err := d.bus.ConsumeApproval(ctx)
			if err != nil {
				return err
			}
			work.Go(func() error {
				d.handleApproval(ctx, evt)
				return nil
			})
		}
	})

	err := loops.Wait()
	_ = work.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) handleInbound(ctx context.Context, msg *bus.InboundMessage) {
	traceID := msg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	d.logger.Info("Inbound message", "channel", msg.Channel, "sender", msg.SenderID, "trace_id", traceID)
	res := d.agent.Run(ctx, agent.Request{
		Message:     msg.Content,
		RequestedBy: msg.SenderID,
		Origin:      msg.Origin(),
		TraceID:     traceID,
	})
	out := replyFor(res)
	out.Channel = msg.Channel
	out.ChatID = msg.ChatID
	out.ThreadID = msg.ThreadID
	out.TraceID = traceID
	d.bus.PublishOutbound(out)
}

func (d *Dispatcher) handleApproval(ctx context.Context, evt *bus.ApprovalEvent) {
	log := d.logger.With("token_id", approval.Fingerprint(evt.Token), "actor_id", evt.ActorID, "decision", evt.Decision)

	var res executor.Result
	switch evt.Decision {
	case bus.DecisionApprove:
		res = d.actions.Confirm(ctx, evt.Token, evt.ActorID)
	case bus.DecisionDeny:
		res = d.actions.Deny(evt.Token, evt.ActorID)
	default:
		log.Warn("Unknown approval decision")
		return
	}
	log.Info("Approval processed", "result", res.Type())

	out := replyFor(res)
	out.Channel = evt.Channel
	out.ChatID = evt.ChatID
	out.ThreadID = evt.ThreadID
	out.TraceID = evt.TraceID

	if f, ok := res.(executor.Failure); ok && f.Kind == executor.FailureNotAuthorized {
		// The prompt stays live for the requester; reply beside it.
		out.Content = fmt.Sprintf("%s cannot approve this action: only the requester can.", evt.ActorID)
		d.bus.PublishOutbound(out)
		return
	}
	if _, ok := res.(executor.Answer); ok {
		if evt.Decision == bus.DecisionApprove {
			out.Content = fmt.Sprintf(":white_check_mark: Approved by %s\n%s", evt.ActorID, out.Content)
		} else {
			out.Content = fmt.Sprintf(":no_entry: %s (by %s)", out.Content, evt.ActorID)
		}
	}
	out.UpdateMessageID = evt.MessageID
	d.bus.PublishOutbound(out)
}

// replyFor builds the outbound message for a result. Channel and chat are
// filled in by the caller.
func replyFor(res executor.Result) *bus.OutboundMessage {
	out := &bus.OutboundMessage{Kind: res.Type(), Content: executor.Describe(res)}
	if nc, ok := res.(executor.NeedsConfirmation); ok {
		action := nc.Action
		out.Action = &action
	}
	return out
}
