// Package channels connects the bot to messaging platforms.
//
// A Channel is a long-lived, bidirectional connection: inbound messages
// arrive unprompted on Listen, replies and broadcasts are pushed with Send.
// The Dispatcher owns the open channels and feeds every inbound message of a
// channel, one at a time, to a single InboundHandler.
//
//	d := channels.NewDispatcher(handler.Handle, channels.WithLogger(logger))
//	d.RegisterPlatform("telegram", channels.TelegramFactory())
//	if err := d.Open("tg_main", "telegram", cfg); err != nil { ... }
//	defer d.Close()
package channels

import (
	"context"
	"encoding/json"
	"time"
)

// Direction indicates whether a message is inbound (received from a user)
// or outbound (sent by the bot).
type Direction int

const (
	Inbound  Direction = iota // Message received from a platform user.
	Outbound                  // Message sent to a platform user.
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Message is a platform-normalized inbound or outbound message.
//
// Inbound, exactly one of Text, Command or Action carries the user's intent:
// a plain text message, a slash command ("start", with Text holding its
// arguments), or the data of a pressed inline button.
//
// Outbound, a message with an image attachment is sent as a photo whose
// caption is the attachment's Caption; otherwise Text is sent.
type Message struct {
	ID          string            `json:"id"`
	ChannelName string            `json:"channel"`
	Platform    string            `json:"platform"`
	Direction   Direction         `json:"direction"`
	SenderID    string            `json:"sender_id"`             // platform user id
	SenderName  string            `json:"sender_name,omitempty"` // display name
	ChatID      string            `json:"chat_id,omitempty"`     // conversation the message came from
	RecipientID string            `json:"recipient_id"`          // conversation to deliver to
	Text        string            `json:"text"`
	Command     string            `json:"command,omitempty"`
	Action      string            `json:"action,omitempty"`
	ParseMode   string            `json:"parse_mode,omitempty"` // "", "Markdown" or "HTML"
	Actions     []Action          `json:"actions,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Action is an interactive choice offered with an outbound message
// (an inline keyboard button on Telegram). Pressing it sends Data back as an
// inbound message's Action.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Attachment is a media file attached to a message.
type Attachment struct {
	Type     string `json:"type"` // "image"
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Image returns the first image attachment, or nil.
func (m Message) Image() *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Type == "image" {
			return &m.Attachments[i]
		}
	}
	return nil
}

// ReplyChat returns the conversation a reply to m should go to: the chat it
// came from, or the sender when the platform has no chat notion.
func (m Message) ReplyChat() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	return m.SenderID
}

// ChannelStatus describes the current state of a channel connection.
type ChannelStatus struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	AuthState   string    `json:"auth_state"`
	LastMessage time.Time `json:"last_message"`
	Error       string    `json:"error,omitempty"`
}

// Channel is a bidirectional connection to a messaging platform.
type Channel interface {
	// Listen returns a read-only channel of inbound messages.
	// The returned channel is closed when ctx is cancelled or Close is called.
	Listen(ctx context.Context) <-chan Message

	// Send pushes an outbound message to the platform.
	Send(ctx context.Context, msg Message) error

	// Status returns the current connection status.
	Status() ChannelStatus

	// Close shuts down the connection and releases resources.
	Close() error
}

// MemberCounter is implemented by channels that can report how many members
// a platform chat has.
type MemberCounter interface {
	MemberCount(ctx context.Context, chatID string) (int, error)
}

// ChannelFactory creates a Channel from a name and its JSON config.
type ChannelFactory func(name string, config json.RawMessage) (Channel, error)

// InboundHandler processes an inbound message and returns zero or more
// replies. Replies must set RecipientID; the dispatcher fills in the channel,
// direction, id and timestamp.
type InboundHandler func(ctx context.Context, msg Message) ([]Message, error)
