// Package bus provides the async message bus between chat channels and the
// dispatcher.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/KafClaw/NetClaw/internal/approval"
)

// Outbound message kinds. They mirror the agent result types plus plain
// status notices.
const (
	KindAnswer            = "answer"
	KindNeedsConfirmation = "needs_confirmation"
	KindFailure           = "failure"
	KindStatus            = "status"
)

// Approval decisions.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// InboundMessage represents a message from a channel to the agent.
type InboundMessage struct {
	Channel   string         `json:"channel"`
	SenderID  string         `json:"sender_id"`
	ChatID    string         `json:"chat_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	TraceID   string         `json:"trace_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Origin returns where the message came from, for pending actions.
func (m *InboundMessage) Origin() approval.Origin {
	return approval.Origin{
		Channel:   m.Channel,
		ChatID:    m.ChatID,
		ThreadID:  m.ThreadID,
		MessageID: m.MessageID,
	}
}

// ApprovalEvent is a human decision on a confirmation prompt.
type ApprovalEvent struct {
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"` // the prompt to update in place
	Token     string    `json:"-"`
	Decision  string    `json:"decision"`
	ActorID   string    `json:"actor_id"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage represents a message from the agent to a channel.
type OutboundMessage struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	TraceID  string `json:"trace_id"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	// Action is set for needs_confirmation so the channel can render
	// approve and deny controls.
	Action *approval.PendingAction `json:"-"`
	// UpdateMessageID replaces an earlier message instead of posting.
	UpdateMessageID string `json:"update_message_id,omitempty"`
}

// MessageBus decouples channels from the agent core.
type MessageBus struct {
	inbound   chan *InboundMessage
	approvals chan *ApprovalEvent
	outbound  chan *OutboundMessage
	subs      map[string][]func(*OutboundMessage)
	mu        sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:   make(chan *InboundMessage, 100),
		approvals: make(chan *ApprovalEvent, 100),
		outbound:  make(chan *OutboundMessage, 100),
		subs:      make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the agent.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishApproval sends a button click or similar decision to the dispatcher.
func (b *MessageBus) PublishApproval(evt *ApprovalEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.approvals <- evt
}

// ConsumeApproval blocks until a decision is available or context is cancelled.
func (b *MessageBus) ConsumeApproval(ctx context.Context) (*ApprovalEvent, error) {
	select {
	case evt := <-b.approvals:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a message from the agent to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
