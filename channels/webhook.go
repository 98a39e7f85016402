package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/itembot/horosafe"
)

// outboxSize bounds the number of replies kept for GET <path>/outbox.
const outboxSize = 256

// WebhookConfig is the per-channel JSON config for the HTTP webhook channel.
type WebhookConfig struct {
	// ListenAddr is the address to bind the HTTP server (e.g. ":8081").
	ListenAddr string `json:"listen_addr"`
	// Path is the URL path inbound messages are POSTed to. Default: "/inbound".
	Path string `json:"path"`
	// Secret is required. Inbound bodies must carry its HMAC-SHA256 in the
	// X-Signature-256 header, and outbound callbacks are signed with it.
	// Without it any client could claim any sender_id, the admin's included.
	Secret string `json:"secret"`
	// CallbackURL receives every outbound message as a JSON POST. A message
	// may override it with metadata["callback_url"].
	CallbackURL string `json:"callback_url,omitempty"`
	// MaxBodyBytes limits the request body size. Default: 64 KiB.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

// WebhookFactory returns a ChannelFactory for a generic HTTP transport. It
// lets any system (or curl during development) talk to the bot without a
// messaging platform.
//
// Inbound: POST <path> with a JSON Message body ({"sender_id": "42",
// "text": "potion"}). Outbound: POSTed to the callback URL when one is
// known, and always kept in a bounded outbox readable with GET <path>/outbox.
//
// Config example:
//
//	{"listen_addr": ":8081", "path": "/inbound", "secret": "<32+ bytes>"}
func WebhookFactory() ChannelFactory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("webhook: parse config: %w", err)
		}
		if cfg.ListenAddr == "" {
			return nil, fmt.Errorf("webhook: listen_addr is required")
		}
		if cfg.Secret == "" {
			return nil, fmt.Errorf("webhook: secret is required")
		}
		if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		if cfg.CallbackURL != "" {
			if _, err := horosafe.ParseHTTPURL(cfg.CallbackURL); err != nil {
				return nil, fmt.Errorf("webhook: callback_url: %w", err)
			}
		}
		ch := newWebhookChannel(name, cfg)
		ch.server = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           ch.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 16,
		}
		return ch, nil
	}
}

// webhookChannel implements Channel over HTTP.
type webhookChannel struct {
	name   string
	config WebhookConfig
	client *http.Client

	mu         sync.Mutex
	closed     bool
	status     ChannelStatus
	server     *http.Server // nil when served by an external mux
	outbox     []Message
	inbound    chan Message
	closeCh    chan struct{}
	listenOnce sync.Once
}

func newWebhookChannel(name string, cfg WebhookConfig) *webhookChannel {
	if cfg.Path == "" {
		cfg.Path = "/inbound"
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &webhookChannel{
		name:   name,
		config: cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		status: ChannelStatus{
			Platform:  "webhook",
			AuthState: "listening",
		},
		inbound: make(chan Message, 256),
		closeCh: make(chan struct{}),
	}
}

// Handler returns the chi router serving the inbound and outbox routes.
func (c *webhookChannel) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(c.config.Path, c.handleInbound)
	r.Get(strings.TrimSuffix(c.config.Path, "/")+"/outbox", c.handleOutbox)
	return r
}

// verifyHMAC checks the X-Signature-256 header against the body. A channel
// built without a secret (tests only; the factory refuses one) accepts all.
func (c *webhookChannel) verifyHMAC(body []byte, signature string) bool {
	if c.config.Secret == "" {
		return true
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(c.sign(body), decoded)
}

func (c *webhookChannel) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(c.config.Secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func (c *webhookChannel) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, c.config.MaxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if !c.verifyHMAC(body, r.Header.Get("X-Signature-256")) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if msg.SenderID == "" {
		http.Error(w, "sender_id is required", http.StatusBadRequest)
		return
	}
	// Accept "/start args" as text for parity with chat clients.
	if msg.Command == "" && strings.HasPrefix(msg.Text, "/") {
		cmd, args, _ := strings.Cut(strings.TrimPrefix(msg.Text, "/"), " ")
		msg.Command, msg.Text = cmd, strings.TrimSpace(args)
	}

	msg.ChannelName = c.name
	msg.Platform = "webhook"
	msg.Direction = Inbound
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case c.inbound <- msg:
		c.mu.Lock()
		c.status.LastMessage = time.Now()
		c.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "buffer full", http.StatusServiceUnavailable)
	}
}

func (c *webhookChannel) handleOutbox(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")

	c.mu.Lock()
	out := make([]Message, 0, len(c.outbox))
	for _, m := range c.outbox {
		if recipient == "" || m.RecipientID == recipient {
			out = append(out, m)
		}
	}
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (c *webhookChannel) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)

	c.listenOnce.Do(func() {
		c.mu.Lock()
		srv := c.server
		c.status.Connected = true
		c.mu.Unlock()
		if srv == nil {
			return
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.mu.Lock()
				c.status.Connected = false
				c.status.Error = err.Error()
				c.mu.Unlock()
			}
		}()
	})

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			case msg := <-c.inbound:
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

func (c *webhookChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ErrSendFailed{Channel: c.name, Platform: "webhook",
			Cause: fmt.Errorf("channel closed")}
	}
	c.outbox = append(c.outbox, msg)
	if len(c.outbox) > outboxSize {
		c.outbox = c.outbox[len(c.outbox)-outboxSize:]
	}
	c.status.LastMessage = time.Now()
	c.mu.Unlock()

	callbackURL := c.config.CallbackURL
	if u := msg.Metadata["callback_url"]; u != "" {
		if err := horosafe.ValidateURL(u); err != nil {
			return &ErrSendFailed{Channel: c.name, Platform: "webhook",
				Cause: fmt.Errorf("callback url: %w", err)}
		}
		callbackURL = u
	}
	if callbackURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "webhook",
			Cause: fmt.Errorf("marshal message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "webhook",
			Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(c.sign(body)))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "webhook",
			Cause: fmt.Errorf("callback POST: %w", err)}
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ErrSendFailed{Channel: c.name, Platform: "webhook",
			Cause: fmt.Errorf("callback returned %d", resp.StatusCode)}
	}
	return nil
}

func (c *webhookChannel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *webhookChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.status.Connected = false
	c.status.AuthState = "stopped"
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.server.Shutdown(ctx)
	}
	return nil
}
