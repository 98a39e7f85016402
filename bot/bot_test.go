package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/itembot/admin"
	"github.com/hazyhaar/itembot/catalog"
	"github.com/hazyhaar/itembot/channels"
	"github.com/hazyhaar/itembot/observability"
	"github.com/hazyhaar/itembot/reply"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const testAdmin = "1"

var testItems = []catalog.Item{
	{ID: "101", Description: "Healing Potion", Description2: "Restores HP", Icon: "potion_icon"},
	{ID: "102", Description: "Iron Sword", Description2: "A sturdy blade", Icon: "sword_icon"},
}

type directoryServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newDirectoryServer(t *testing.T) *directoryServer {
	t.Helper()
	d := &directoryServer{}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"name": "readme.md", "download_url": "https://raw/readme.md"},
			{"name": "potion_icon_300.png", "download_url": "https://raw/potion_icon_300.png"}
		]`)
	}))
	t.Cleanup(d.Close)
	return d
}

func writeJSONFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestApp builds an App over temp data files. index maps item ids to
// URLs for the local image index.
func newTestApp(t *testing.T, index map[string]string, directoryURL string) *App {
	t.Helper()
	dir := t.TempDir()
	var entries []map[string]string
	for id, u := range index {
		entries = append(entries, map[string]string{id: u})
	}
	if entries == nil {
		entries = []map[string]string{}
	}

	cfg := &Config{
		AdminID: testAdmin,
		Data: DataConfig{
			Items:  writeJSONFile(t, dir, "itemData.json", testItems),
			Images: writeJSONFile(t, dir, "cdn.json", entries),
		},
		Directory: DirectoryConfig{URL: directoryURL},
	}
	cfg.defaults()

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

type stubChannel struct {
	mu   sync.Mutex
	sent []channels.Message
	fail map[string]bool
}

func (s *stubChannel) Listen(ctx context.Context) <-chan channels.Message {
	ch := make(chan channels.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (s *stubChannel) Send(_ context.Context, msg channels.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.RecipientID] {
		return fmt.Errorf("blocked")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) Status() channels.ChannelStatus {
	return channels.ChannelStatus{Connected: true, Platform: "stub"}
}

func (s *stubChannel) Close() error { return nil }

func text(from, body string) channels.Message {
	return channels.Message{ChannelName: "tg", SenderID: from, ChatID: from, Text: body}
}

func command(from, cmd string) channels.Message {
	return channels.Message{ChannelName: "tg", SenderID: from, ChatID: from, Command: cmd}
}

func action(from, data string) channels.Message {
	return channels.Message{ChannelName: "tg", SenderID: from, ChatID: from, Action: data}
}

func handle(t *testing.T, app *App, msg channels.Message) []channels.Message {
	t.Helper()
	out, err := app.Handler.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return out
}

func single(t *testing.T, out []channels.Message) channels.Message {
	t.Helper()
	if len(out) != 1 {
		t.Fatalf("got %d replies, want 1: %+v", len(out), out)
	}
	return out[0]
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenario_RemoteFallback(t *testing.T) {
	dir := newDirectoryServer(t)
	app := newTestApp(t, nil, dir.URL)

	msg := single(t, handle(t, app, text("42", "heal")))
	img := msg.Image()
	if img == nil {
		t.Fatalf("expected photo reply, got %+v", msg)
	}
	if img.URL != "https://raw/potion_icon_300.png" {
		t.Fatalf("url: %q", img.URL)
	}
	for _, want := range []string{"101", "Healing Potion", "Restores HP", "potion_icon"} {
		if !strings.Contains(img.Caption, want) {
			t.Fatalf("caption missing %q: %s", want, img.Caption)
		}
	}
	if msg.RecipientID != "42" {
		t.Fatalf("recipient: %q", msg.RecipientID)
	}
	if dir.calls.Load() != 1 {
		t.Fatalf("directory calls = %d, want 1", dir.calls.Load())
	}
}

func TestScenario_NotFound(t *testing.T) {
	app := newTestApp(t, nil, "")
	msg := single(t, handle(t, app, text("42", "nonexistent")))
	if msg.Text != reply.DefaultMessages().NotFound || msg.Image() != nil {
		t.Fatalf("got %+v", msg)
	}
}

func TestScenario_IndexFastPath(t *testing.T) {
	dir := newDirectoryServer(t)
	app := newTestApp(t, map[string]string{"101": "https://cdn/101.png"}, dir.URL)

	msg := single(t, handle(t, app, text("42", "heal")))
	if img := msg.Image(); img == nil || img.URL != "https://cdn/101.png" {
		t.Fatalf("got %+v", msg)
	}
	if n := dir.calls.Load(); n != 0 {
		t.Fatalf("directory calls = %d, want 0", n)
	}
}

func TestScenario_StartPanel(t *testing.T) {
	app := newTestApp(t, nil, "")
	m := reply.DefaultMessages()

	panel := single(t, handle(t, app, command(testAdmin, "start")))
	if panel.Text != m.AdminGreeting {
		t.Fatalf("admin start: %+v", panel)
	}
	has := map[string]bool{}
	for _, a := range panel.Actions {
		has[a.Data] = true
	}
	if !has[admin.ActionMembers] || !has[admin.ActionBroadcast] {
		t.Fatalf("panel actions: %+v", panel.Actions)
	}

	greet := single(t, handle(t, app, command("42", "start")))
	if greet.Text != m.Greeting || len(greet.Actions) != 0 {
		t.Fatalf("user start: %+v", greet)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestHandle_TextOnlyWhenNoImage(t *testing.T) {
	app := newTestApp(t, nil, "")
	msg := single(t, handle(t, app, text("42", "sword")))
	if msg.Image() != nil {
		t.Fatal("unexpected image")
	}
	if !strings.Contains(msg.Text, "Iron Sword") || !strings.Contains(msg.Text, reply.DefaultMessages().ImageNotice) {
		t.Fatalf("text: %q", msg.Text)
	}
}

func TestHandle_DirectoryDownDegrades(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()
	app := newTestApp(t, nil, down.URL)

	msg := single(t, handle(t, app, text("42", "heal")))
	if msg.Image() != nil || !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("got %+v", msg)
	}
}

func TestHandle_UnknownCommandIgnored(t *testing.T) {
	app := newTestApp(t, nil, "")
	if out := handle(t, app, command("42", "help")); out != nil {
		t.Fatalf("got %+v", out)
	}
}

func TestHandle_PauseBlocksUsersNotAdmin(t *testing.T) {
	app := newTestApp(t, nil, "")
	handle(t, app, action(testAdmin, admin.ActionToggle))

	msg := single(t, handle(t, app, text("42", "heal")))
	if msg.Text != reply.DefaultMessages().Paused {
		t.Fatalf("user while paused: %+v", msg)
	}
	msg = single(t, handle(t, app, text(testAdmin, "heal")))
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("admin while paused: %+v", msg)
	}

	handle(t, app, action(testAdmin, admin.ActionToggle))
	msg = single(t, handle(t, app, text("42", "heal")))
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("user after resume: %+v", msg)
	}
}

func TestHandle_UnauthorizedAction(t *testing.T) {
	app := newTestApp(t, nil, "")
	msg := single(t, handle(t, app, action("42", admin.ActionBroadcast)))
	if msg.Text != reply.DefaultMessages().Unauthorized {
		t.Fatalf("got %+v", msg)
	}
	// The next text is a search, not a broadcast.
	msg = single(t, handle(t, app, text("42", "heal")))
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("got %+v", msg)
	}
}

func TestHandle_BroadcastCapturesNextText(t *testing.T) {
	app := newTestApp(t, nil, "")
	stub := &stubChannel{fail: map[string]bool{"43": true}}
	app.Dispatcher.Attach("tg", stub)

	handle(t, app, command(testAdmin, "start"))
	handle(t, app, command("42", "start"))
	handle(t, app, command("43", "start"))

	prompt := single(t, handle(t, app, action(testAdmin, admin.ActionBroadcast)))
	if prompt.Text != reply.DefaultMessages().BroadcastPrompt {
		t.Fatalf("prompt: %+v", prompt)
	}

	// "heal" would match an item; while awaiting it is the broadcast text.
	report := single(t, handle(t, app, text(testAdmin, "heal")))
	if report.Text != fmt.Sprintf(reply.DefaultMessages().BroadcastReport, 1, 2) {
		t.Fatalf("report: %+v", report)
	}

	stub.mu.Lock()
	sent := append([]channels.Message(nil), stub.sent...)
	stub.mu.Unlock()
	if len(sent) != 1 || sent[0].RecipientID != "42" || sent[0].Text != "heal" {
		t.Fatalf("delivered: %+v", sent)
	}

	// Back to idle: the same text now searches.
	msg := single(t, handle(t, app, text(testAdmin, "heal")))
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("after broadcast: %+v", msg)
	}
}

func TestHandle_CancelBroadcast(t *testing.T) {
	app := newTestApp(t, nil, "")
	handle(t, app, action(testAdmin, admin.ActionBroadcast))

	msg := single(t, handle(t, app, command(testAdmin, "cancel")))
	if msg.Text != reply.DefaultMessages().BroadcastCancelled {
		t.Fatalf("got %+v", msg)
	}
	msg = single(t, handle(t, app, text(testAdmin, "heal")))
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("after cancel: %+v", msg)
	}
}

func TestHandle_RecordsSearchEvents(t *testing.T) {
	app := newTestApp(t, nil, "")
	handle(t, app, text("42", "heal"))
	handle(t, app, text("42", "nothing"))

	evs, err := app.Events.Recent(context.Background(), observability.EventSearch, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d search events, want 2", len(evs))
	}
	actions := map[string]bool{}
	for _, e := range evs {
		actions[e.Action] = true
	}
	if !actions["found"] || !actions["not_found"] {
		t.Fatalf("actions: %v", actions)
	}
}

func TestHandle_ThroughDispatcher(t *testing.T) {
	app := newTestApp(t, map[string]string{"101": "https://cdn/101.png"}, "")
	stub := &queuedChannel{in: make(chan channels.Message, 1)}
	app.Dispatcher.Attach("tg", stub)

	stub.in <- channels.Message{SenderID: "42", ChatID: "-500", Text: "heal"}

	got := stub.wait(t)
	if got.RecipientID != "-500" || got.Image() == nil {
		t.Fatalf("reply: %+v", got)
	}
}

type queuedChannel struct {
	stubChannel
	in   chan channels.Message
	out  chan channels.Message
	once sync.Once
}

func (q *queuedChannel) Listen(ctx context.Context) <-chan channels.Message {
	ch := make(chan channels.Message)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-q.in:
				select {
				case ch <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func (q *queuedChannel) outbox() chan channels.Message {
	q.once.Do(func() { q.out = make(chan channels.Message, 8) })
	return q.out
}

func (q *queuedChannel) Send(_ context.Context, msg channels.Message) error {
	q.outbox() <- msg
	return nil
}

func (q *queuedChannel) wait(t *testing.T) channels.Message {
	t.Helper()
	select {
	case m := <-q.outbox():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return channels.Message{}
	}
}
