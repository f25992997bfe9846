// Package channels adapts chat platforms to the message bus.
package channels

import (
	"context"

	"github.com/KafClaw/NetClaw/internal/bus"
)

// Channel is a chat adapter. Start publishes inbound messages and approval
// clicks to the bus; Send delivers one outbound message.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel holds the bus shared by every adapter.
type BaseChannel struct {
	Bus *bus.MessageBus
}

var _ Channel = (*SlackChannel)(nil)
