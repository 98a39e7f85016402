package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/itembot/idgen"
)

// Event types recorded by the bot.
const (
	EventSearch    = "search"
	EventAdmin     = "admin_action"
	EventBroadcast = "broadcast"
)

// BusinessEvent is a domain-level event to record.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	UserID      string
	Action      string
	Details     map[string]any // stored as JSON
	Success     bool
	CreatedAt   time.Time // set on read
}

// EventLogger writes business events to business_event_logs.
type EventLogger struct {
	db      *sql.DB
	service string
	newID   idgen.Generator
	logger  *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger writing rows tagged with service. The
// schema must already be applied (Init).
func NewEventLogger(db *sql.DB, service string, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:      db,
		service: service,
		newID:   idgen.Prefixed("evt_", idgen.Default),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged, never returned: a
// failing event store must not break a reply. A nil receiver is a no-op.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	if l == nil {
		return
	}
	if event.ServiceName == "" {
		event.ServiceName = l.service
	}
	var details sql.NullString
	if len(event.Details) > 0 {
		if b, err := json.Marshal(event.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			user_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.UserID, event.Action, details, event.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// Recent returns the latest events of eventType, newest first. An empty
// eventType matches all events.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]BusinessEvent, error) {
	q := `SELECT event_type, service_name, COALESCE(entity_type,''), COALESCE(entity_id,''),
		COALESCE(user_id,''), action, details, success, created_at
		FROM business_event_logs`
	args := []any{}
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, event_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var e BusinessEvent
		var details sql.NullString
		var created int64
		if err := rows.Scan(&e.EventType, &e.ServiceName, &e.EntityType, &e.EntityID,
			&e.UserID, &e.Action, &details, &e.Success, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		if details.Valid {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventLogsDays int
	MetricsDays   int
}

// Cleanup deletes records older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventLogsDays},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, t.query, now-int64(t.days*86400)); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	return nil
}
