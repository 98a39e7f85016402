package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/itembot/idgen"
	"github.com/hazyhaar/itembot/kit"
)

// channelEntry holds a running channel and its dispatch goroutine.
type channelEntry struct {
	channel  Channel
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	platform string
}

// Dispatcher owns the open channels and routes their inbound messages
// through the InboundHandler.
//
// Each channel gets exactly one dispatch goroutine, so messages from the same
// channel are handled strictly one after another: a handler never runs
// concurrently with itself for one channel.
type Dispatcher struct {
	mu        sync.RWMutex
	channels  map[string]*channelEntry
	factories map[string]ChannelFactory
	handler   InboundHandler
	logger    *slog.Logger
	newID     idgen.Generator

	// lifecycleCtx parents every channel listen context.
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithIDGenerator sets the generator for outbound message ids.
func WithIDGenerator(gen idgen.Generator) DispatcherOption {
	return func(d *Dispatcher) { d.newID = gen }
}

// NewDispatcher creates a Dispatcher with the given inbound handler.
// Register platform factories before calling Open.
func NewDispatcher(handler InboundHandler, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		channels:        make(map[string]*channelEntry),
		factories:       make(map[string]ChannelFactory),
		handler:         handler,
		logger:          slog.Default(),
		newID:           idgen.Prefixed("msg_", idgen.Default),
		lifecycleCtx:    ctx,
		lifecycleCancel: cancel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterPlatform registers a ChannelFactory for a platform name.
func (d *Dispatcher) RegisterPlatform(platform string, f ChannelFactory) {
	d.mu.Lock()
	d.factories[platform] = f
	d.mu.Unlock()
}

// Open builds a channel through its platform factory and starts dispatching
// its inbound messages. Opening a name that is already open replaces it.
func (d *Dispatcher) Open(name, platform string, config json.RawMessage) error {
	d.mu.RLock()
	factory, ok := d.factories[platform]
	d.mu.RUnlock()
	if !ok {
		return &ErrNoPlatformFactory{Channel: name, Platform: platform}
	}
	ch, err := factory(name, config)
	if err != nil {
		return fmt.Errorf("channels: open %s: %w", name, err)
	}

	d.mu.Lock()
	old := d.attachLocked(name, platform, ch)
	d.mu.Unlock()

	if old != nil {
		d.closeEntry(name, old)
	}
	return nil
}

// Attach starts dispatching an already-built channel under name.
func (d *Dispatcher) Attach(name string, ch Channel) {
	d.mu.Lock()
	old := d.attachLocked(name, ch.Status().Platform, ch)
	d.mu.Unlock()

	if old != nil {
		d.closeEntry(name, old)
	}
}

// attachLocked registers ch under name and returns the entry it replaced,
// which the caller must close after releasing d.mu: a handler of the old
// channel may be blocked in Send waiting for the lock.
func (d *Dispatcher) attachLocked(name, platform string, ch Channel) *channelEntry {
	old := d.channels[name]

	listenCtx, cancel := context.WithCancel(d.lifecycleCtx)
	entry := &channelEntry{
		channel:  ch,
		cancel:   cancel,
		platform: platform,
	}
	d.channels[name] = entry

	entry.wg.Add(1)
	go d.dispatch(listenCtx, name, ch, &entry.wg)

	d.logger.Info("channel started", "channel", name, "platform", platform)
	return old
}

// Send sends an outbound message through the channel named by
// msg.ChannelName.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.RLock()
	entry, ok := d.channels[msg.ChannelName]
	d.mu.RUnlock()

	if !ok {
		return &ErrChannelNotFound{Channel: msg.ChannelName}
	}
	d.stamp(&msg, msg.ChannelName, entry.platform)
	return entry.channel.Send(ctx, msg)
}

// MemberCount asks the named channel for the member count of a chat.
func (d *Dispatcher) MemberCount(ctx context.Context, channel, chatID string) (int, error) {
	d.mu.RLock()
	entry, ok := d.channels[channel]
	d.mu.RUnlock()

	if !ok {
		return 0, &ErrChannelNotFound{Channel: channel}
	}
	mc, ok := entry.channel.(MemberCounter)
	if !ok {
		return 0, &ErrUnsupported{Channel: channel, Platform: entry.platform, Op: "member count"}
	}
	return mc.MemberCount(ctx, chatID)
}

// Status returns the ChannelStatus for a named channel.
// Returns ok=false if the channel is not open.
func (d *Dispatcher) Status(name string) (ChannelStatus, bool) {
	d.mu.RLock()
	entry, ok := d.channels[name]
	d.mu.RUnlock()

	if !ok {
		return ChannelStatus{}, false
	}
	return entry.channel.Status(), true
}

func (d *Dispatcher) stamp(msg *Message, name, platform string) {
	msg.ChannelName = name
	msg.Platform = platform
	msg.Direction = Outbound
	if msg.ID == "" {
		msg.ID = d.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
}

// dispatch reads inbound messages from a channel and processes them through
// the InboundHandler. Replies are sent back through the same channel.
func (d *Dispatcher) dispatch(ctx context.Context, name string, ch Channel, wg *sync.WaitGroup) {
	defer wg.Done()
	msgs := ch.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				d.logger.Info("channel listen closed", "channel", name)
				return
			}
			d.handle(ctx, name, ch, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, name string, ch Channel, msg Message) {
	if msg.ID == "" {
		msg.ID = d.newID()
	}
	msg.ChannelName = name
	msg.Direction = Inbound

	hctx := kit.WithUserID(ctx, msg.SenderID)
	hctx = kit.WithHandle(hctx, msg.SenderName)
	hctx = kit.WithRequestID(hctx, msg.ID)
	hctx = kit.WithTransport(hctx, msg.Platform)

	responses, err := d.handler(hctx, msg)
	if err != nil {
		d.logger.Error("inbound handler failed",
			"channel", name, "sender", msg.SenderID, "error", err)
		return
	}

	for _, resp := range responses {
		d.stamp(&resp, name, msg.Platform)
		if resp.RecipientID == "" {
			resp.RecipientID = msg.ReplyChat()
		}
		if err := ch.Send(ctx, resp); err != nil {
			d.logger.Error("send response failed",
				"channel", name, "recipient", resp.RecipientID, "error", err)
		}
	}
}

// closeEntry shuts down a channel entry and waits for its dispatch goroutine.
func (d *Dispatcher) closeEntry(name string, entry *channelEntry) {
	entry.cancel()
	if err := entry.channel.Close(); err != nil {
		d.logger.Error("channel close failed",
			"channel", name, "platform", entry.platform, "error", err)
	} else {
		d.logger.Info("channel stopped",
			"channel", name, "platform", entry.platform)
	}
	entry.wg.Wait()
}

// Close shuts down all open channels. The entries are detached under the
// lock and closed outside it, so a handler still sending through the
// dispatcher gets ErrChannelNotFound instead of blocking shutdown.
func (d *Dispatcher) Close() error {
	d.lifecycleCancel()
	d.mu.Lock()
	entries := d.channels
	d.channels = make(map[string]*channelEntry)
	d.mu.Unlock()

	for name, entry := range entries {
		d.closeEntry(name, entry)
	}
	return nil
}
