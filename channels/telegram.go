package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig is the per-channel JSON config for Telegram connections.
type TelegramConfig struct {
	// BotToken is the Telegram bot API token (from @BotFather). Callers
	// should fill it from the environment, never from a checked-in file.
	BotToken string `json:"bot_token"`
	// APIEndpoint overrides the bot API URL format
	// ("https://api.telegram.org/bot%s/%s"). Used by tests and proxies.
	APIEndpoint string `json:"api_endpoint,omitempty"`
	// PollTimeout is the long-polling timeout in seconds. Default: 60.
	PollTimeout int `json:"poll_timeout,omitempty"`
}

// TelegramFactory returns a ChannelFactory for Telegram bots using the bot
// API with long polling.
//
// Config example:
//
//	{"bot_token": "123456:ABC-DEF"}
func TelegramFactory() ChannelFactory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg TelegramConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("telegram: parse config: %w", err)
		}
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("telegram: bot_token is required")
		}
		if cfg.APIEndpoint == "" {
			cfg.APIEndpoint = tgbotapi.APIEndpoint
		}
		if cfg.PollTimeout <= 0 {
			cfg.PollTimeout = 60
		}
		bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
		if err != nil {
			return nil, fmt.Errorf("telegram: connect: %w", err)
		}
		return newTelegramChannel(name, cfg, bot), nil
	}
}

// telegramChannel implements Channel and MemberCounter for Telegram.
type telegramChannel struct {
	name   string
	config TelegramConfig
	bot    *tgbotapi.BotAPI

	mu         sync.Mutex
	closed     bool
	status     ChannelStatus
	closeCh    chan struct{}
	listenOnce sync.Once
}

func newTelegramChannel(name string, cfg TelegramConfig, bot *tgbotapi.BotAPI) *telegramChannel {
	return &telegramChannel{
		name:   name,
		config: cfg,
		bot:    bot,
		status: ChannelStatus{
			Connected: true,
			Platform:  "telegram",
			AuthState: "token_valid",
		},
		closeCh: make(chan struct{}),
	}
}

func (c *telegramChannel) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)
	started := false
	c.listenOnce.Do(func() { started = true })
	if !started {
		close(ch)
		return ch
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.config.PollTimeout
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := c.convert(upd)
				if !ok {
					continue
				}
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				case <-c.closeCh:
					return
				}
			}
		}
	}()
	return ch
}

// convert normalizes an update. Updates without a sender (channel posts,
// edits, service messages) and messages without text (stickers, photos,
// voice) are dropped.
func (c *telegramChannel) convert(upd tgbotapi.Update) (Message, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		if cq.From == nil {
			return Message{}, false
		}
		// Stop the client-side spinner on the pressed button.
		if _, err := c.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			c.setError(err)
		}
		chatID := cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return Message{
			ID:         "tg_cb_" + cq.ID,
			Platform:   "telegram",
			Direction:  Inbound,
			SenderID:   strconv.FormatInt(cq.From.ID, 10),
			SenderName: displayName(cq.From),
			ChatID:     strconv.FormatInt(chatID, 10),
			Action:     cq.Data,
			Timestamp:  time.Now(),
		}, true

	case upd.Message != nil:
		m := upd.Message
		if m.From == nil || m.Chat == nil || m.Text == "" {
			return Message{}, false
		}
		msg := Message{
			ID:         "tg_" + strconv.Itoa(m.MessageID),
			Platform:   "telegram",
			Direction:  Inbound,
			SenderID:   strconv.FormatInt(m.From.ID, 10),
			SenderName: displayName(m.From),
			ChatID:     strconv.FormatInt(m.Chat.ID, 10),
			Text:       m.Text,
			Timestamp:  m.Time(),
		}
		if m.IsCommand() {
			msg.Command = m.Command()
			msg.Text = m.CommandArguments()
		}
		c.mu.Lock()
		c.status.LastMessage = time.Now()
		c.mu.Unlock()
		return msg, true
	}
	return Message{}, false
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (c *telegramChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram",
			Cause: fmt.Errorf("channel closed")}
	}
	if err := ctx.Err(); err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram", Cause: err}
	}

	chatID, err := strconv.ParseInt(msg.RecipientID, 10, 64)
	if err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram",
			Cause: fmt.Errorf("recipient %q: %w", msg.RecipientID, err)}
	}

	var out tgbotapi.Chattable
	if img := msg.Image(); img != nil {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(img.URL))
		photo.Caption = img.Caption
		photo.ParseMode = msg.ParseMode
		if len(msg.Actions) > 0 {
			photo.ReplyMarkup = keyboard(msg.Actions)
		}
		out = photo
	} else {
		text := tgbotapi.NewMessage(chatID, msg.Text)
		text.ParseMode = msg.ParseMode
		if len(msg.Actions) > 0 {
			text.ReplyMarkup = keyboard(msg.Actions)
		}
		out = text
	}

	if _, err := c.bot.Send(out); err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram", Cause: err}
	}

	c.mu.Lock()
	c.status.LastMessage = time.Now()
	c.mu.Unlock()
	return nil
}

// keyboard lays out one inline button per row.
func keyboard(actions []Action) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// MemberCount reports the platform member count of a chat (group or
// channel the bot belongs to).
func (c *telegramChannel) MemberCount(_ context.Context, chatID string) (int, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: chat id %q: %w", chatID, err)
	}
	n, err := c.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return 0, fmt.Errorf("telegram: member count: %w", err)
	}
	return n, nil
}

func (c *telegramChannel) setError(err error) {
	c.mu.Lock()
	c.status.Error = err.Error()
	c.mu.Unlock()
}

func (c *telegramChannel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *telegramChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.bot.StopReceivingUpdates()
	c.status.Connected = false
	c.status.AuthState = "disconnected"
	return nil
}
