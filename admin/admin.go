// Package admin implements the operator controls layered on the message
// stream: the admin panel, member counting, broadcast and the pause switch.
//
// One user id is privileged. Every admin action from anyone else is
// answered with a rejection and changes nothing.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/itembot/channels"
	"github.com/hazyhaar/itembot/observability"
	"github.com/hazyhaar/itembot/reply"
	"github.com/hazyhaar/itembot/users"
)

// Panel action data carried by inline buttons.
const (
	ActionMembers   = "admin:members"
	ActionBroadcast = "admin:broadcast"
	ActionToggle    = "admin:toggle"
)

// CountSource selects what the members action reports.
type CountSource string

const (
	// CountObserved reports the number of users who sent /start.
	CountObserved CountSource = "observed"
	// CountChat reports the platform member count of a configured chat.
	CountChat CountSource = "chat"
)

// ParseCountSource maps a config value to a CountSource. Empty means
// observed.
func ParseCountSource(s string) (CountSource, error) {
	switch CountSource(strings.ToLower(strings.TrimSpace(s))) {
	case "", CountObserved:
		return CountObserved, nil
	case CountChat:
		return CountChat, nil
	}
	return "", fmt.Errorf("admin: unknown member count source %q", s)
}

// Sender delivers an outbound message through a named channel.
type Sender interface {
	Send(ctx context.Context, msg channels.Message) error
}

// MemberCounter asks a named channel for a chat's member count.
type MemberCounter interface {
	MemberCount(ctx context.Context, channel, chatID string) (int, error)
}

// Switch is the global pause flag. The zero value is enabled.
type Switch struct {
	paused atomic.Bool
}

// Enabled reports whether searches are served.
func (s *Switch) Enabled() bool { return !s.paused.Load() }

// SetEnabled sets the flag.
func (s *Switch) SetEnabled(on bool) { s.paused.Store(!on) }

// Toggle flips the flag and returns the new enabled state.
func (s *Switch) Toggle() bool {
	for {
		old := s.paused.Load()
		if s.paused.CompareAndSwap(old, !old) {
			return old
		}
	}
}

// Controller handles the admin-facing interactions.
type Controller struct {
	adminID string
	users   *users.Store
	format  *reply.Formatter
	sw      *Switch

	sender      Sender
	counter     MemberCounter
	countSource CountSource
	countChatID string

	events  *observability.EventLogger
	metrics *observability.MetricsManager
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSender sets the broadcast transport, normally the dispatcher.
func WithSender(s Sender) Option { return func(c *Controller) { c.sender = s } }

// WithMemberCount reports platform chat member counts of chatID instead of
// the observed set when src is CountChat and counter is non-nil.
func WithMemberCount(src CountSource, counter MemberCounter, chatID string) Option {
	return func(c *Controller) {
		c.countSource = src
		c.counter = counter
		c.countChatID = chatID
	}
}

// WithEvents records admin actions and broadcasts.
func WithEvents(l *observability.EventLogger) Option { return func(c *Controller) { c.events = l } }

// WithMetrics records broadcast delivery counts.
func WithMetrics(m *observability.MetricsManager) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithSwitch shares an existing pause switch.
func WithSwitch(s *Switch) Option { return func(c *Controller) { c.sw = s } }

// New returns a Controller for the privileged user adminID.
func New(adminID string, store *users.Store, format *reply.Formatter, opts ...Option) *Controller {
	c := &Controller{
		adminID:     adminID,
		users:       store,
		format:      format,
		sw:          &Switch{},
		countSource: CountObserved,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsAdmin reports whether userID is the privileged user.
func (c *Controller) IsAdmin(userID string) bool {
	return c.adminID != "" && userID == c.adminID
}

// Switch returns the pause switch.
func (c *Controller) Switch() *Switch { return c.sw }

// Start observes the sender and greets them. The privileged user gets the
// panel instead of the plain greeting.
func (c *Controller) Start(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	added, err := c.users.Observe(ctx, users.User{
		ID:      msg.SenderID,
		ChatID:  msg.ReplyChat(),
		Name:    msg.SenderName,
		Channel: msg.ChannelName,
	})
	if err != nil {
		return nil, err
	}
	if added {
		c.logger.Info("user observed", "user", msg.SenderID, "channel", msg.ChannelName)
	}

	m := c.format.Messages()
	if !c.IsAdmin(msg.SenderID) {
		return []channels.Message{c.format.Text(m.Greeting)}, nil
	}
	panel := c.format.Text(m.AdminGreeting)
	panel.Actions = []channels.Action{
		{Label: "👥 Members", Data: ActionMembers},
		{Label: "📣 Broadcast", Data: ActionBroadcast},
		{Label: "⏯ Pause / resume", Data: ActionToggle},
	}
	return []channels.Message{panel}, nil
}

// Action handles a pressed panel button.
func (c *Controller) Action(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	m := c.format.Messages()
	if !c.IsAdmin(msg.SenderID) {
		c.logger.Warn("unauthorized admin action", "user", msg.SenderID, "action", msg.Action)
		c.record(ctx, observability.EventAdmin, msg.SenderID, msg.Action, false, nil)
		return []channels.Message{c.format.Text(m.Unauthorized)}, nil
	}

	switch msg.Action {
	case ActionMembers:
		n, err := c.Members(ctx, msg.ChannelName)
		if err != nil {
			return nil, err
		}
		c.record(ctx, observability.EventAdmin, msg.SenderID, "members", true, map[string]any{"count": n})
		return []channels.Message{c.format.Text(fmt.Sprintf(m.Members, n))}, nil

	case ActionBroadcast:
		if err := c.users.SetState(ctx, msg.SenderID, users.StateAwaitingBroadcastText); err != nil {
			return nil, err
		}
		c.record(ctx, observability.EventAdmin, msg.SenderID, "broadcast_begin", true, nil)
		return []channels.Message{c.format.Text(m.BroadcastPrompt)}, nil

	case ActionToggle:
		on := c.sw.Toggle()
		c.logger.Info("bot toggled", "enabled", on)
		c.record(ctx, observability.EventAdmin, msg.SenderID, "toggle", true, map[string]any{"enabled": on})
		if on {
			return []channels.Message{c.format.Text(m.Enabled)}, nil
		}
		return []channels.Message{c.format.Text(m.Disabled)}, nil
	}

	c.logger.Debug("unknown action ignored", "action", msg.Action)
	return nil, nil
}

// Members returns the member count for the configured source. A failing
// platform count falls back to the observed count.
func (c *Controller) Members(ctx context.Context, channel string) (int, error) {
	if c.countSource == CountChat && c.counter != nil && c.countChatID != "" {
		n, err := c.counter.MemberCount(ctx, channel, c.countChatID)
		if err == nil {
			return n, nil
		}
		c.logger.Warn("chat member count failed, using observed count",
			"channel", channel, "chat", c.countChatID, "error", err)
	}
	return c.users.Count(ctx)
}

// AwaitingBroadcast reports whether msg is the broadcast text the
// privileged user was prompted for.
func (c *Controller) AwaitingBroadcast(ctx context.Context, msg channels.Message) (bool, error) {
	if !c.IsAdmin(msg.SenderID) {
		return false, nil
	}
	st, err := c.users.State(ctx, msg.SenderID)
	if err != nil {
		return false, err
	}
	return st == users.StateAwaitingBroadcastText, nil
}

// Cancel leaves the broadcast flow. It returns no reply when there was
// nothing to cancel.
func (c *Controller) Cancel(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	pending, err := c.AwaitingBroadcast(ctx, msg)
	if err != nil || !pending {
		return nil, err
	}
	if err := c.users.SetState(ctx, msg.SenderID, users.StateIdle); err != nil {
		return nil, err
	}
	c.record(ctx, observability.EventAdmin, msg.SenderID, "broadcast_cancel", true, nil)
	return []channels.Message{c.format.Text(c.format.Messages().BroadcastCancelled)}, nil
}

// Broadcast relays msg.Text to every observed user except the privileged
// user, resets the broadcast state and reports the delivery count. Delivery
// is best-effort: a failed send is logged and skipped.
func (c *Controller) Broadcast(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	m := c.format.Messages()
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return []channels.Message{c.format.Text(m.BroadcastPrompt)}, nil
	}
	if err := c.users.SetState(ctx, msg.SenderID, users.StateIdle); err != nil {
		return nil, err
	}

	recipients, err := c.users.List(ctx)
	if err != nil {
		return nil, err
	}

	var delivered, total int
	for _, u := range recipients {
		if u.ID == c.adminID {
			continue
		}
		total++
		if c.sender == nil {
			continue
		}
		out := channels.Message{ChannelName: u.Channel, RecipientID: u.ChatID, Text: text}
		if err := c.sender.Send(ctx, out); err != nil {
			c.logger.Warn("broadcast delivery failed", "user", u.ID, "channel", u.Channel, "error", err)
			continue
		}
		delivered++
	}

	c.logger.Info("broadcast done", "delivered", delivered, "total", total)
	c.record(ctx, observability.EventBroadcast, msg.SenderID, "broadcast", delivered == total,
		map[string]any{"delivered": delivered, "total": total})
	c.metrics.Record(&observability.Metric{
		Name: observability.MetricBroadcastSent, Value: float64(delivered), Unit: "count",
	})
	return []channels.Message{c.format.Text(fmt.Sprintf(m.BroadcastReport, delivered, total))}, nil
}

func (c *Controller) record(ctx context.Context, eventType, userID, action string, ok bool, details map[string]any) {
	c.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  eventType,
		EntityType: "user",
		EntityID:   userID,
		UserID:     userID,
		Action:     action,
		Details:    details,
		Success:    ok,
	})
}
