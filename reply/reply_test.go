package reply

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hazyhaar/itembot/catalog"
)

var potion = catalog.Item{
	ID:           "101",
	Description:  "Healing Potion",
	Description2: "Restores 50 HP",
	Icon:         "potion_red",
}

func TestFound_WithImage(t *testing.T) {
	f := New()
	msg := f.Found(potion, "https://cdn/101.png", true)

	img := msg.Image()
	if img == nil {
		t.Fatal("expected image attachment")
	}
	if img.URL != "https://cdn/101.png" {
		t.Fatalf("url: %q", img.URL)
	}
	for _, want := range []string{"101", "Healing Potion", "Restores 50 HP", "potion_red"} {
		if !strings.Contains(img.Caption, want) {
			t.Fatalf("caption missing %q: %s", want, img.Caption)
		}
	}
	if msg.Text != "" {
		t.Fatalf("photo reply should carry no text, got %q", msg.Text)
	}
}

func TestFound_WithoutImage(t *testing.T) {
	f := New()
	msg := f.Found(potion, "", false)

	if msg.Image() != nil {
		t.Fatal("unexpected attachment")
	}
	if !strings.Contains(msg.Text, "Healing Potion") {
		t.Fatalf("text: %q", msg.Text)
	}
	if !strings.HasSuffix(msg.Text, DefaultMessages().ImageNotice) {
		t.Fatalf("notice missing: %q", msg.Text)
	}
}

func TestFound_NoNoticeConfigured(t *testing.T) {
	m := DefaultMessages()
	m.ImageNotice = ""
	f := New(WithMessages(m))
	msg := f.Found(potion, "", false)
	if strings.Contains(msg.Text, "\n\n") {
		t.Fatalf("unexpected notice: %q", msg.Text)
	}
}

func TestFound_JSONStyle(t *testing.T) {
	f := New(WithStyle(StyleJSON))
	msg := f.Found(potion, "", false)

	if msg.ParseMode != "Markdown" {
		t.Fatalf("parse mode: %q", msg.ParseMode)
	}
	if !strings.HasPrefix(msg.Text, "```json\n") {
		t.Fatalf("not fenced: %q", msg.Text)
	}
	body := strings.TrimPrefix(msg.Text, "```json\n")
	body = body[:strings.Index(body, "\n```")]

	var got map[string]string
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("fenced body is not JSON: %v\n%s", err, body)
	}
	if got["Item ID"] != "101" || got["Description"] != "Healing Potion" ||
		got["Details"] != "Restores 50 HP" || got["Icon"] != "potion_red" {
		t.Fatalf("fields: %v", got)
	}
}

func TestFound_PlainKeepsAngleBrackets(t *testing.T) {
	item := potion
	item.Description = "Sword <Legendary>"
	msg := New().Found(item, "", false)
	if !strings.Contains(msg.Text, "Description: Sword <Legendary>") {
		t.Fatalf("catalog text altered: %q", msg.Text)
	}
	if msg.ParseMode != "" {
		t.Fatalf("parse mode: %q", msg.ParseMode)
	}
}

func TestFound_HTMLStyleSanitizes(t *testing.T) {
	f := New(WithStyle(StyleHTML))
	item := potion
	item.Description = "<b>Fish & Chips</b><script>alert(1)</script>"
	msg := f.Found(item, "https://cdn/101.png", true)

	if msg.ParseMode != "HTML" {
		t.Fatalf("parse mode: %q", msg.ParseMode)
	}
	caption := msg.Image().Caption
	if strings.Contains(caption, "script") || strings.Contains(caption, "alert") {
		t.Fatalf("script kept: %q", caption)
	}
	if !strings.Contains(caption, "<b>Fish &amp; Chips</b>") {
		t.Fatalf("allowed markup lost: %q", caption)
	}
	if !strings.Contains(caption, "<b>🆔 ID:</b> 101") {
		t.Fatalf("labels: %q", caption)
	}
}

func TestFound_JSONStyleEscapesBackticks(t *testing.T) {
	item := potion
	item.Description2 = "use ```rm``` carefully"
	msg := New(WithStyle(StyleJSON)).Found(item, "", false)

	body := strings.TrimPrefix(msg.Text, "```json\n")
	body = body[:strings.Index(body, "\n```")]
	if strings.Contains(body, "`") {
		t.Fatalf("raw backtick inside fence: %q", body)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got["Details"] != "use ```rm``` carefully" {
		t.Fatalf("details: %q", got["Details"])
	}
}

func TestNotFound(t *testing.T) {
	msg := New().NotFound()
	if msg.Text != DefaultMessages().NotFound || msg.Image() != nil {
		t.Fatalf("got %+v", msg)
	}
}

func TestMessages_Defaults(t *testing.T) {
	f := New(WithMessages(Messages{Greeting: "Hi"}))
	m := f.Messages()
	if m.Greeting != "Hi" {
		t.Fatalf("override lost: %q", m.Greeting)
	}
	if m.NotFound != DefaultMessages().NotFound {
		t.Fatalf("default not filled: %q", m.NotFound)
	}
}

func TestParseStyle(t *testing.T) {
	for in, want := range map[string]Style{"": StylePlain, "plain": StylePlain, " JSON ": StyleJSON, "html": StyleHTML} {
		got, err := ParseStyle(in)
		if err != nil || got != want {
			t.Errorf("ParseStyle(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStyle("xml"); err == nil {
		t.Error("expected error for unknown style")
	}
}
