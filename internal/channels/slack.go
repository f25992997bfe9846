package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/bus"
	"github.com/KafClaw/NetClaw/internal/config"
)

// Block Kit action ids for confirmation buttons. The button value is the
// confirmation token.
const (
	ActionApprove = "netclaw_approve"
	ActionDeny    = "netclaw_deny"
)

// slackAPI is the subset of *slack.Client the channel sends through.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PublishViewContext(ctx context.Context, req slack.PublishViewContextRequest) (*slack.ViewResponse, error)
}

// SlackChannel connects to Slack over Socket Mode. Mentions and direct
// messages become inbound messages; confirmation button clicks become
// approval events.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    slackAPI
	socket *socketmode.Client
	logger *slog.Logger
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, logger *slog.Logger) *SlackChannel {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if base := strings.TrimSpace(cfg.APIURL); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	api := slack.New(cfg.BotToken, opts...)
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		api:         api,
		socket:      socketmode.New(api),
		logger:      logger,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start subscribes to outbound messages and runs the Socket Mode
// connection until ctx is done.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled() {
		return nil
	}
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			c.logger.Error("Slack send failed", "chat_id", msg.ChatID, "kind", msg.Kind, "error", err)
		}
	})
	go c.handleEvents(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Slack socket mode stopped", "error", err)
		}
	}()
	c.logger.Info("Slack channel started", "default_channel", c.config.Channel)
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			c.handleEvent(ctx, evt)
		}
	}
}

func (c *SlackChannel) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		c.logger.Info("Slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		c.logger.Warn("Slack socket mode connection error")
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		switch in := ev.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			if msg := inboundFromMention(in); msg != nil {
				c.Bus.PublishInbound(msg)
			}
		case *slackevents.MessageEvent:
			if msg := inboundFromDirectMessage(in); msg != nil {
				c.Bus.PublishInbound(msg)
			}
		case *slackevents.AppHomeOpenedEvent:
			if in.Tab != "" && in.Tab != "home" {
				return
			}
			if err := c.publishHome(ctx, in.User); err != nil {
				c.logger.Warn("Slack home tab publish failed", "user", in.User, "error", err)
			}
		}
	case socketmode.EventTypeInteractive:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if approvalEvt, ok := approvalFromInteraction(cb); ok {
			c.logger.Info("Slack confirmation clicked", "decision", approvalEvt.Decision,
				"actor_id", approvalEvt.ActorID, "token_id", approval.Fingerprint(approvalEvt.Token))
			c.Bus.PublishApproval(approvalEvt)
		}
	}
}

// Send posts msg, or updates an earlier message in place when
// UpdateMessageID is set.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		chatID = c.config.Channel
	}
	text := renderText(msg)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if msg.Kind == bus.KindNeedsConfirmation && msg.Action != nil {
		opts = append(opts, slack.MsgOptionBlocks(confirmationBlocks(text, *msg.Action)...))
	} else {
		opts = append(opts, slack.MsgOptionBlocks(textBlocks(text)...))
	}

	if ts := strings.TrimSpace(msg.UpdateMessageID); ts != "" {
		return withRetry(3, 200*time.Millisecond, func() (bool, error) {
			_, _, _, err := c.api.UpdateMessageContext(ctx, chatID, ts, opts...)
			return slackRetryDecision(err)
		})
	}
	if ts := strings.TrimSpace(msg.ThreadID); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	return withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, _, err := c.api.PostMessageContext(ctx, chatID, opts...)
		return slackRetryDecision(err)
	})
}

// publishHome renders the App Home tab for userID.
func (c *SlackChannel) publishHome(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := c.api.PublishViewContext(ctx, slack.PublishViewContextRequest{
		UserID: userID,
		View:   homeView(),
	})
	return err
}

func homeView() slack.HomeTabViewRequest {
	section := func(text string) slack.Block {
		return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	}
	return slack.HomeTabViewRequest{
		Type: slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, ":satellite: NetClaw", true, false)),
			section("I run your UniFi network from chat. I can help with:"),
			section("*Network status*\nDevice health, connectivity and site health\n\n" +
				"*Security audits*\nWiFi security, VLANs and firewall rules\n\n" +
				"*Changes*\nRestarts, client blocks, WLAN and firewall toggles. " +
				"Every change waits for your Approve click; firmware upgrades also need an MFA push."),
			slack.NewDividerBlock(),
			section("*How to use*\n- Send me a direct message\n- @mention me in a channel\n" +
				"- Ask in plain language about your network"),
			section("*Examples*\n- _What's the status of my network?_\n- _Are any devices offline?_\n" +
				"- _Is WPA3 enabled on my WiFi networks?_\n- _Restart the office AP_"),
		}},
	}
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// threadOf keeps replies in the thread of the message that started it.
func threadOf(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

func inboundFromMention(ev *slackevents.AppMentionEvent) *bus.InboundMessage {
	if ev == nil || ev.BotID != "" {
		return nil
	}
	text := stripMentions(ev.Text)
	if text == "" {
		return nil
	}
	return &bus.InboundMessage{
		Channel:   "slack",
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		ThreadID:  threadOf(ev.ThreadTimeStamp, ev.TimeStamp),
		MessageID: ev.TimeStamp,
		Content:   text,
	}
}

func inboundFromDirectMessage(ev *slackevents.MessageEvent) *bus.InboundMessage {
	if ev == nil || ev.ChannelType != "im" || ev.BotID != "" || ev.SubType != "" {
		return nil
	}
	text := stripMentions(ev.Text)
	if text == "" {
		return nil
	}
	return &bus.InboundMessage{
		Channel:   "slack",
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		ThreadID:  ev.ThreadTimeStamp,
		MessageID: ev.TimeStamp,
		Content:   text,
	}
}

func approvalFromInteraction(cb slack.InteractionCallback) (*bus.ApprovalEvent, bool) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil, false
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		var decision string
		switch action.ActionID {
		case ActionApprove:
			decision = bus.DecisionApprove
		case ActionDeny:
			decision = bus.DecisionDeny
		default:
			continue
		}
		token := strings.TrimSpace(action.Value)
		if token == "" {
			return nil, false
		}
		channelID := strings.TrimSpace(cb.Channel.ID)
		if channelID == "" {
			channelID = strings.TrimSpace(cb.Container.ChannelID)
		}
		messageID := strings.TrimSpace(cb.Container.MessageTs)
		if messageID == "" {
			messageID = strings.TrimSpace(cb.Message.Timestamp)
		}
		return &bus.ApprovalEvent{
			Channel:   "slack",
			ChatID:    channelID,
			ThreadID:  strings.TrimSpace(cb.Container.ThreadTs),
			MessageID: messageID,
			Token:     token,
			Decision:  decision,
			ActorID:   cb.User.ID,
		}, true
	}
	return nil, false
}

func renderText(msg *bus.OutboundMessage) string {
	switch msg.Kind {
	case bus.KindFailure:
		return ":x: " + msg.Content
	case bus.KindNeedsConfirmation:
		return ":warning: " + msg.Content
	}
	return msg.Content
}

func textBlocks(text string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
}

func confirmationBlocks(text string, action approval.PendingAction) []slack.Block {
	approveBtn := slack.NewButtonBlockElement(ActionApprove, action.Token,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).WithStyle(slack.StylePrimary)
	denyBtn := slack.NewButtonBlockElement(ActionDeny, action.Token,
		slack.NewTextBlockObject(slack.PlainTextType, "Deny", false, false)).WithStyle(slack.StyleDanger)

	note := fmt.Sprintf("Risk: *%s* · Ref #%s · expires <!date^%d^{time}|%s>",
		action.Tier.String(), approval.Fingerprint(action.Token),
		action.ExpiresAt.Unix(), action.ExpiresAt.UTC().Format(time.Kitchen))
	if action.Tier.RequiresMFA() {
		note += " · MFA push required"
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, note, false, false)),
		slack.NewActionBlock("netclaw_confirm", approveBtn, denyBtn),
	}
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}

func slackRetryDecision(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			time.Sleep(rle.RetryAfter)
		}
		return true, err
	}
	return false, err
}
