// Package reply renders search results and bot texts into outbound
// channel messages.
package reply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/itembot/catalog"
	"github.com/hazyhaar/itembot/channels"
)

// Style selects how an item is rendered.
type Style string

const (
	// StylePlain renders one labelled line per field.
	StylePlain Style = "plain"
	// StyleJSON renders a labelled JSON object in a Markdown code fence.
	StyleJSON Style = "json"
	// StyleHTML renders bold labels with HTML parse mode. Field markup is
	// reduced to the tags Telegram accepts.
	StyleHTML Style = "html"
)

// ParseStyle maps a config value to a Style. Empty means plain.
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StylePlain:
		return StylePlain, nil
	case StyleJSON:
		return StyleJSON, nil
	case StyleHTML:
		return StyleHTML, nil
	}
	return "", fmt.Errorf("reply: unknown style %q", s)
}

// Messages holds every fixed text the bot sends. Empty fields fall back to
// DefaultMessages.
type Messages struct {
	Greeting           string `yaml:"greeting"`
	AdminGreeting      string `yaml:"admin_greeting"`
	NotFound           string `yaml:"not_found"`
	ImageNotice        string `yaml:"image_notice"`
	Paused             string `yaml:"paused"`
	Unauthorized       string `yaml:"unauthorized"`
	BroadcastPrompt    string `yaml:"broadcast_prompt"`
	BroadcastCancelled string `yaml:"broadcast_cancelled"`
	BroadcastReport    string `yaml:"broadcast_report"` // fmt: delivered, total
	Members            string `yaml:"members"`          // fmt: count
	Enabled            string `yaml:"enabled"`
	Disabled           string `yaml:"disabled"`
}

// DefaultMessages returns the built-in texts.
func DefaultMessages() Messages {
	return Messages{
		Greeting:           "Hello! Send an item name to search for it.",
		AdminGreeting:      "Hello! Admin panel:",
		NotFound:           "❌ Item not found.",
		ImageNotice:        "⚠️ No image available for this item.",
		Paused:             "⏸ The bot is paused. Please try again later.",
		Unauthorized:       "⛔ This action is reserved to the administrator.",
		BroadcastPrompt:    "✉️ Send the message to broadcast, or /cancel.",
		BroadcastCancelled: "Broadcast cancelled.",
		BroadcastReport:    "📣 Delivered %d of %d.",
		Members:            "👥 Members: %d",
		Enabled:            "▶️ Bot enabled.",
		Disabled:           "⏸ Bot paused.",
	}
}

// withDefaults fills empty fields from DefaultMessages.
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Greeting, d.Greeting)
	fill(&m.AdminGreeting, d.AdminGreeting)
	fill(&m.NotFound, d.NotFound)
	fill(&m.Paused, d.Paused)
	fill(&m.Unauthorized, d.Unauthorized)
	fill(&m.BroadcastPrompt, d.BroadcastPrompt)
	fill(&m.BroadcastCancelled, d.BroadcastCancelled)
	fill(&m.BroadcastReport, d.BroadcastReport)
	fill(&m.Members, d.Members)
	fill(&m.Enabled, d.Enabled)
	fill(&m.Disabled, d.Disabled)
	// ImageNotice may be empty on purpose: no notice.
	return m
}

// Formatter builds outbound messages.
type Formatter struct {
	style    Style
	messages Messages
	policy   *bluemonday.Policy
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithStyle sets the item rendering style. Default: StylePlain.
func WithStyle(s Style) Option { return func(f *Formatter) { f.style = s } }

// WithMessages overrides the fixed texts.
func WithMessages(m Messages) Option { return func(f *Formatter) { f.messages = m } }

// New returns a Formatter.
func New(opts ...Option) *Formatter {
	f := &Formatter{
		style:    StylePlain,
		messages: DefaultMessages(),
		policy:   telegramPolicy(),
	}
	for _, o := range opts {
		o(f)
	}
	f.messages = f.messages.withDefaults()
	return f
}

// Messages returns the effective texts.
func (f *Formatter) Messages() Messages { return f.messages }

// Found renders item. With ok, the reply is a photo of url captioned with
// the item block. Without, it is the item block as text, followed by the
// image notice when one is configured.
func (f *Formatter) Found(item catalog.Item, url string, ok bool) channels.Message {
	block := f.block(item)
	var msg channels.Message
	switch f.style {
	case StyleJSON:
		msg.ParseMode = "Markdown"
	case StyleHTML:
		msg.ParseMode = "HTML"
	}
	if ok {
		msg.Attachments = []channels.Attachment{{Type: "image", URL: url, Caption: block}}
		return msg
	}
	msg.Text = block
	if f.messages.ImageNotice != "" {
		msg.Text += "\n\n" + f.messages.ImageNotice
	}
	return msg
}

// NotFound is the reply to a query that matched nothing.
func (f *Formatter) NotFound() channels.Message {
	return f.Text(f.messages.NotFound)
}

// Text wraps a fixed text in a message.
func (f *Formatter) Text(s string) channels.Message {
	return channels.Message{Text: s}
}

// block renders the item fields. Plain and JSON embed them as they are;
// only HTML, where the text is parsed as markup, sanitizes them.
func (f *Formatter) block(item catalog.Item) string {
	id := strings.TrimSpace(item.ID)
	desc := strings.TrimSpace(item.Description)
	desc2 := strings.TrimSpace(item.Description2)
	icon := strings.TrimSpace(item.Icon)

	switch f.style {
	case StyleHTML:
		var b strings.Builder
		fmt.Fprintf(&b, "<b>🆔 ID:</b> %s\n", f.clean(id))
		fmt.Fprintf(&b, "<b>🔹 Description:</b> %s\n", f.clean(desc))
		fmt.Fprintf(&b, "<b>🔸 Details:</b> %s\n", f.clean(desc2))
		fmt.Fprintf(&b, "<b>🖼 Icon:</b> %s", f.clean(icon))
		return b.String()

	case StyleJSON:
		// Field order is part of the layout, so no map here.
		v := struct {
			ID    string `json:"Item ID"`
			Desc  string `json:"Description"`
			Desc2 string `json:"Details"`
			Icon  string `json:"Icon"`
		}{id, desc, desc2, icon}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		// A backtick can only sit inside a JSON string here; its \u escape
		// keeps the value intact and the fence closed.
		body := strings.ReplaceAll(strings.TrimRight(buf.String(), "\n"), "`", `\u0060`)
		return "```json\n" + body + "\n```"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🆔 ID: %s\n", id)
	fmt.Fprintf(&b, "🔹 Description: %s\n", desc)
	fmt.Fprintf(&b, "🔸 Details: %s\n", desc2)
	fmt.Fprintf(&b, "🖼 Icon: %s", icon)
	return b.String()
}

// telegramPolicy keeps the formatting tags Telegram's HTML parse mode
// supports and drops the rest. Text is entity-encoded, as that mode needs.
func telegramPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	return p
}

func (f *Formatter) clean(s string) string {
	return f.policy.Sanitize(s)
}
