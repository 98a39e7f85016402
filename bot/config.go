package bot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/itembot/admin"
	"github.com/hazyhaar/itembot/horosafe"
	"github.com/hazyhaar/itembot/reply"
)

// Config holds all itembot configuration.
type Config struct {
	// BotToken is the Telegram token. Environment only (BOT_TOKEN).
	BotToken string `yaml:"-"`
	AdminID  string `yaml:"admin_id"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Data      DataConfig      `yaml:"data"`
	Directory DirectoryConfig `yaml:"directory"`
	Reply     ReplyConfig     `yaml:"reply"`
	Messages  reply.Messages  `yaml:"messages"`
	Admin     AdminConfig     `yaml:"admin"`
	HTTP      HTTPConfig      `yaml:"http"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Retention RetentionConfig `yaml:"retention"`
}

// DataConfig locates the static catalog documents.
type DataConfig struct {
	Items  string `yaml:"items"`
	Images string `yaml:"images"`
}

// DirectoryConfig configures the remote icon listing. An empty URL disables
// the remote tier.
type DirectoryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReplyConfig controls item rendering.
type ReplyConfig struct {
	Style string `yaml:"style"`
	// ImageNotice overrides messages.image_notice. Set it to "" to send no
	// notice at all.
	ImageNotice *string `yaml:"image_notice"`
}

// AdminConfig selects the member count source.
type AdminConfig struct {
	MemberCount string `yaml:"member_count"`  // "observed" or "chat"
	CountChatID string `yaml:"count_chat_id"` // used with "chat"
}

// HTTPConfig enables the status API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// WebhookConfig enables the HTTP webhook channel when ListenAddr is set.
type WebhookConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	Path        string `yaml:"path"`
	Secret      string `yaml:"secret"`
	CallbackURL string `yaml:"callback_url"`
}

// TelegramConfig tunes the Telegram channel.
type TelegramConfig struct {
	APIEndpoint string `yaml:"api_endpoint"`
	PollTimeout int    `yaml:"poll_timeout"`
}

// RetentionConfig bounds how long event and metric rows are kept, in days.
// Zero keeps them forever.
type RetentionConfig struct {
	EventDays  int           `yaml:"event_days"`
	MetricDays int           `yaml:"metric_days"`
	Interval   time.Duration `yaml:"interval"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = ":memory:"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Data.Items == "" {
		c.Data.Items = "itemData.json"
	}
	if c.Data.Images == "" {
		c.Data.Images = "cdn.json"
	}
	if c.Directory.Timeout <= 0 {
		c.Directory.Timeout = 10 * time.Second
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Reply.ImageNotice != nil {
		c.Messages.ImageNotice = *c.Reply.ImageNotice
	} else if c.Messages.ImageNotice == "" {
		c.Messages.ImageNotice = reply.DefaultMessages().ImageNotice
	}
}

// env overrides. Secrets never come from the file.
func (c *Config) applyEnv() {
	c.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.AdminID, "ADMIN_ID")
	set(&c.DBPath, "DB_PATH")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Data.Items, "ITEMS_PATH")
	set(&c.Data.Images, "IMAGES_PATH")
	set(&c.Directory.URL, "DIRECTORY_URL")
	set(&c.HTTP.Addr, "HTTP_ADDR")
	set(&c.Webhook.ListenAddr, "WEBHOOK_ADDR")
	set(&c.Webhook.Secret, "WEBHOOK_SECRET")
}

// LoadConfig loads .env (if present), then the YAML file at path (if
// present), then environment overrides, then defaults. It does not
// validate; call Validate or ValidateChat.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("bot: read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("bot: parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.defaults()
	return cfg, nil
}

// Validate checks the settings every mode needs.
func (c *Config) Validate() error {
	if _, err := reply.ParseStyle(c.Reply.Style); err != nil {
		return err
	}
	if _, err := admin.ParseCountSource(c.Admin.MemberCount); err != nil {
		return err
	}
	if c.Directory.URL != "" {
		if _, err := horosafe.ParseHTTPURL(c.Directory.URL); err != nil {
			return fmt.Errorf("bot: directory.url: %w", err)
		}
	}
	if c.Webhook.ListenAddr != "" && c.Webhook.Secret == "" {
		return errors.New("bot: webhook.secret (or WEBHOOK_SECRET) is required with webhook.listen_addr")
	}
	return nil
}

// ValidateChat additionally checks what serving chat users requires: the
// bot token and the privileged user id.
func (c *Config) ValidateChat() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.BotToken == "" {
		return errors.New("bot: BOT_TOKEN is required")
	}
	if c.AdminID == "" {
		return errors.New("bot: admin_id (or ADMIN_ID) is required")
	}
	src, _ := admin.ParseCountSource(c.Admin.MemberCount)
	if src == admin.CountChat && c.Admin.CountChatID == "" {
		return errors.New("bot: admin.count_chat_id is required with member_count: chat")
	}
	return nil
}
