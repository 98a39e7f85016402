// Package bot wires the item lookup pipeline and the admin controls to the
// message stream, and exposes the same search over HTTP and MCP.
package bot

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/itembot/admin"
	"github.com/hazyhaar/itembot/channels"
	"github.com/hazyhaar/itembot/kit"
	"github.com/hazyhaar/itembot/reply"
)

// Handler routes inbound messages. Its Handle method is the dispatcher's
// InboundHandler.
type Handler struct {
	search *Searcher
	format *reply.Formatter
	admin  *admin.Controller
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) HandlerOption { return func(h *Handler) { h.logger = l } }

// NewHandler returns a Handler.
func NewHandler(search *Searcher, format *reply.Formatter, ctl *admin.Controller, opts ...HandlerOption) *Handler {
	h := &Handler{
		search: search,
		format: format,
		admin:  ctl,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle answers one inbound message. Precedence: panel action, /start,
// /cancel, pending broadcast text, pause, search. Unknown commands are
// ignored.
func (h *Handler) Handle(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	if h.admin.IsAdmin(msg.SenderID) {
		ctx = kit.WithRole(ctx, kit.RoleAdmin)
	}
	out, err := h.route(ctx, msg)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].RecipientID == "" {
			out[i].RecipientID = msg.ReplyChat()
		}
	}
	return out, nil
}

func (h *Handler) route(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	if msg.Action != "" {
		return h.admin.Action(ctx, msg)
	}

	switch msg.Command {
	case "":
	case "start":
		return h.admin.Start(ctx, msg)
	case "cancel":
		return h.admin.Cancel(ctx, msg)
	default:
		h.logger.Debug("command ignored", "command", msg.Command, "sender", msg.SenderID)
		return nil, nil
	}

	pending, err := h.admin.AwaitingBroadcast(ctx, msg)
	if err != nil {
		return nil, err
	}
	if pending {
		return h.admin.Broadcast(ctx, msg)
	}

	if !h.admin.Switch().Enabled() && !kit.IsAdmin(ctx) {
		return []channels.Message{h.format.Text(h.format.Messages().Paused)}, nil
	}

	res := h.search.Search(ctx, msg.Text)
	if !res.Found {
		return []channels.Message{h.format.NotFound()}, nil
	}
	return []channels.Message{h.format.Found(*res.Item, res.ImageURL, res.ImageURL != "")}, nil
}
