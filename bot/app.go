package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/itembot/admin"
	"github.com/hazyhaar/itembot/catalog"
	"github.com/hazyhaar/itembot/channels"
	"github.com/hazyhaar/itembot/dbopen"
	"github.com/hazyhaar/itembot/observability"
	"github.com/hazyhaar/itembot/reply"
	"github.com/hazyhaar/itembot/resolve"
	"github.com/hazyhaar/itembot/users"
)

// App is the assembled bot.
type App struct {
	Config     *Config
	DB         *sql.DB
	Items      *catalog.Store
	Images     *catalog.Index
	Users      *users.Store
	Events     *observability.EventLogger
	Metrics    *observability.MetricsManager
	Searcher   *Searcher
	Admin      *admin.Controller
	Handler    *Handler
	Dispatcher *channels.Dispatcher

	logger *slog.Logger
}

// NewApp loads the static data, opens the database and wires every
// component. It opens no channel and binds no port; see Run.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	style, err := reply.ParseStyle(cfg.Reply.Style)
	if err != nil {
		return nil, err
	}
	countSrc, err := admin.ParseCountSource(cfg.Admin.MemberCount)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logger: logger}
	a.Items = catalog.LoadItems(cfg.Data.Items, logger)
	a.Images = catalog.LoadIndex(cfg.Data.Images, logger)
	logger.Info("catalog loaded", "items", a.Items.Len(), "images", a.Images.Len())

	a.DB, err = dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
	if err != nil {
		return nil, err
	}
	a.Users, err = users.NewStore(a.DB)
	if err != nil {
		a.DB.Close()
		return nil, err
	}
	a.Events = observability.NewEventLogger(a.DB, "itembot", observability.WithEventLogger(logger))
	a.Metrics = observability.NewMetricsManager(a.DB, 100, 5*time.Second, logger)

	tiers := []resolve.Resolver{resolve.NewIndexResolver(a.Images)}
	if cfg.Directory.URL != "" {
		tiers = append(tiers, resolve.NewDirectory(cfg.Directory.URL, resolve.WithTimeout(cfg.Directory.Timeout)))
	}
	chain := resolve.NewChain(tiers, resolve.WithLogger(logger))

	format := reply.New(reply.WithStyle(style), reply.WithMessages(cfg.Messages))
	a.Searcher = NewSearcher(a.Items, chain, a.Events, a.Metrics)

	var h *Handler
	a.Dispatcher = channels.NewDispatcher(func(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
		return h.Handle(ctx, msg)
	}, channels.WithLogger(logger))
	a.Dispatcher.RegisterPlatform("telegram", channels.TelegramFactory())
	a.Dispatcher.RegisterPlatform("webhook", channels.WebhookFactory())

	a.Admin = admin.New(cfg.AdminID, a.Users, format,
		admin.WithSender(a.Dispatcher),
		admin.WithMemberCount(countSrc, a.Dispatcher, cfg.Admin.CountChatID),
		admin.WithEvents(a.Events),
		admin.WithMetrics(a.Metrics),
		admin.WithLogger(logger),
	)
	h = NewHandler(a.Searcher, format, a.Admin, WithLogger(logger))
	a.Handler = h
	return a, nil
}

// OpenChannels opens the Telegram channel when a token is configured and
// the webhook channel when a listen address is.
func (a *App) OpenChannels() error {
	cfg := a.Config
	if cfg.BotToken != "" {
		raw, _ := json.Marshal(channels.TelegramConfig{
			BotToken:    cfg.BotToken,
			APIEndpoint: cfg.Telegram.APIEndpoint,
			PollTimeout: cfg.Telegram.PollTimeout,
		})
		if err := a.Dispatcher.Open("telegram", "telegram", raw); err != nil {
			return err
		}
	}
	if cfg.Webhook.ListenAddr != "" {
		raw, _ := json.Marshal(channels.WebhookConfig{
			ListenAddr:  cfg.Webhook.ListenAddr,
			Path:        cfg.Webhook.Path,
			Secret:      cfg.Webhook.Secret,
			CallbackURL: cfg.Webhook.CallbackURL,
		})
		if err := a.Dispatcher.Open("webhook", "webhook", raw); err != nil {
			return err
		}
	}
	if len(a.Dispatcher.ListChannels()) == 0 {
		return errors.New("bot: no channel configured")
	}
	return nil
}

// Router returns the status API for this app.
func (a *App) Router() http.Handler {
	return NewRouter(RouterDeps{
		Search:   a.Searcher,
		Items:    a.Items.Len(),
		Images:   a.Images.Len(),
		Users:    a.Users,
		Switch:   a.Admin.Switch(),
		Channels: a.Dispatcher,
	})
}

// Run opens the channels, serves the status API when configured and blocks
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.OpenChannels(); err != nil {
		return err
	}

	var srv *http.Server
	if a.Config.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              a.Config.HTTP.Addr,
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("status api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status api failed", "error", err)
			}
		}()
	}

	if r := a.Config.Retention; r.EventDays > 0 || r.MetricDays > 0 {
		go a.retentionLoop(ctx, r)
	}

	<-ctx.Done()
	a.logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status api shutdown", "error", err)
		}
	}
	return nil
}

// retentionLoop prunes old event and metric rows once at startup and then
// every r.Interval until ctx is done.
func (a *App) retentionLoop(ctx context.Context, r RetentionConfig) {
	cfg := observability.RetentionConfig{EventLogsDays: r.EventDays, MetricsDays: r.MetricDays}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if err := observability.Cleanup(ctx, a.DB, cfg); err != nil && ctx.Err() == nil {
			a.logger.Warn("retention cleanup", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the channels and flushes and closes the database.
func (a *App) Close() error {
	a.Dispatcher.Close()
	a.Metrics.Close()
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("bot: close db: %w", err)
	}
	return nil
}
