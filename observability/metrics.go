// Package observability records what the bot does into its SQLite database:
// business events (searches, admin actions, broadcasts) and timeseries
// metrics.
//
// Persistence never blocks a reply. Events are written inline and their
// failures only logged; metrics are buffered and flushed in batches.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the bot.
const (
	MetricSearchDurationMs = "search_duration_ms"
	MetricBroadcastSent    = "broadcast_delivered_count"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "milliseconds", "count"
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []*Metric
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMetricsManager creates a manager that flushes when bufferSize metrics
// are queued or every flushInterval, whichever comes first.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric. A nil receiver is a no-op.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Query returns metrics named name, newest first. Empty name matches all.
func (mm *MetricsManager) Query(ctx context.Context, name string, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, COALESCE(unit,'') FROM metrics_timeseries"
	args := make([]any, 0, 2)
	if name != "" {
		q += " WHERE metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labelsJSON sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		if labelsJSON.Valid {
			json.Unmarshal([]byte(labelsJSON.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Flush writes buffered metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	mm.flushLocked()
	mm.mu.Unlock()
}

// Close flushes remaining metrics and stops the background goroutine.
func (mm *MetricsManager) Close() error {
	mm.once.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability metrics: begin tx", "error", err)
		return
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labelsJSON sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labelsJSON = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labelsJSON, m.Unit); err != nil {
			mm.logger.Error("observability metrics: insert", "error", err, "metric", m.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability metrics: commit", "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
