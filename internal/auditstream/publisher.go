// Package auditstream publishes pending-action transitions to Kafka.
package auditstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/NetClaw/internal/approval"
)

// EnvelopeTransition is the envelope type for action transitions.
const EnvelopeTransition = "action_transition"

// Envelope wraps every published record.
type Envelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"` // token fingerprint
	SenderID      string    `json:"sender_id"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload"`
}

// TransitionPayload describes one status change. The raw token is never
// included.
type TransitionPayload struct {
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Tier        string         `json:"risk_tier"`
	From        string         `json:"from_status"`
	To          string         `json:"to_status"`
	Reason      string         `json:"reason,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures a Publisher.
type Options struct {
	Brokers  []string
	Topic    string
	SenderID string // identifies this instance in envelopes
	Buffer   int    // queued records before new ones are dropped
	Logger   *slog.Logger
}

// Publisher implements approval.Recorder. Records are queued and written by
// a background goroutine so the store never waits on the broker.
type Publisher struct {
	writer   messageWriter
	senderID string
	queue    chan kafka.Message
	logger   *slog.Logger
	done     chan struct{}
}

// NewPublisher creates a publisher that writes to the given brokers. Call
// Start to begin delivery.
func NewPublisher(opts Options) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{}, // one token's transitions stay on one partition
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newPublisher(w, opts)
}

func newPublisher(w messageWriter, opts Options) *Publisher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SenderID == "" {
		opts.SenderID = "netclaw"
	}
	return &Publisher{
		writer:   w,
		senderID: opts.SenderID,
		queue:    make(chan kafka.Message, opts.Buffer),
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}
}

// RecordTransition queues the transition. It never blocks; when the queue
// is full the record is dropped and logged.
func (p *Publisher) RecordTransition(action approval.PendingAction, from approval.Status) {
	tokenID := approval.Fingerprint(action.Token)
	env := Envelope{
		Type:          EnvelopeTransition,
		CorrelationID: tokenID,
		SenderID:      p.senderID,
		Timestamp:     action.UpdatedAt,
		Payload: TransitionPayload{
			Tool:        action.ToolName,
			Arguments:   action.Arguments,
			Tier:        action.Tier.String(),
			From:        string(from),
			To:          string(action.Status),
			Reason:      action.Reason,
			RequestedBy: action.RequestedBy,
			ResolvedBy:  action.ResolvedBy,
			Channel:     action.Origin.Channel,
			ExpiresAt:   action.ExpiresAt,
		},
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Warn("Audit envelope encode failed", "token_id", tokenID, "error", err)
		return
	}
	msg := kafka.Message{Key: []byte(tokenID), Value: value, Time: action.UpdatedAt}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("Audit queue full, dropping transition", "token_id", tokenID, "status", action.Status)
	}
}

// Start delivers queued records until ctx is done, then flushes what is
// left and closes the writer.
func (p *Publisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case msg := <-p.queue:
				p.write(ctx, msg)
			case <-ctx.Done():
				p.drain()
				if err := p.writer.Close(); err != nil {
					p.logger.Warn("Audit writer close failed", "error", err)
				}
				return
			}
		}
	}()
}

// Wait blocks until the delivery goroutine has exited.
func (p *Publisher) Wait() {
	<-p.done
}

func (p *Publisher) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-p.queue:
			p.write(flushCtx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("Audit publish failed", "token_id", string(msg.Key), "error", err)
	}
}
