package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/itembot/dbopen"
	"github.com/hazyhaar/itembot/idgen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_Idempotent(t *testing.T) {
	db := setupObsDB(t)
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	for _, table := range []string{"business_event_logs", "metrics_timeseries"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

// ---------------------------------------------------------------------------
// EventLogger
// ---------------------------------------------------------------------------

func TestEventLogger_LogAndRecent(t *testing.T) {
	db := setupObsDB(t)
	l := NewEventLogger(db, "itembot", WithEventIDGenerator(idgen.Sequence("evt_")))
	ctx := context.Background()

	l.LogEvent(ctx, BusinessEvent{
		EventType: EventSearch, EntityType: "item", EntityID: "101",
		UserID: "42", Action: "found", Success: true,
		Details: map[string]any{"query": "heal", "image": true},
	})
	l.LogEvent(ctx, BusinessEvent{
		EventType: EventAdmin, UserID: "1", Action: "toggle", Success: true,
	})

	events, err := l.Recent(ctx, EventSearch, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d search events, want 1", len(events))
	}
	e := events[0]
	if e.ServiceName != "itembot" || e.EntityID != "101" || e.Action != "found" || !e.Success {
		t.Fatalf("event: %+v", e)
	}
	if e.Details["query"] != "heal" || e.Details["image"] != true {
		t.Fatalf("details: %+v", e.Details)
	}

	all, _ := l.Recent(ctx, "", 0)
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}
}

func TestEventLogger_NilIsNoop(t *testing.T) {
	var l *EventLogger
	l.LogEvent(context.Background(), BusinessEvent{EventType: EventSearch, Action: "x"})
}

func TestEventLogger_FailureDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t) // no schema
	l := NewEventLogger(db, "itembot")
	l.LogEvent(context.Background(), BusinessEvent{EventType: EventSearch, Action: "x"})
}

func TestCleanup(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()
	old := time.Now().Add(-10 * 24 * time.Hour).Unix()

	db.Exec(`INSERT INTO business_event_logs (event_id, event_type, service_name, action, created_at)
		VALUES ('old', 'search', 'itembot', 'found', ?), ('new', 'search', 'itembot', 'found', ?)`,
		old, time.Now().Unix())
	db.Exec(`INSERT INTO metrics_timeseries (metric_name, timestamp, value) VALUES ('m', ?, 1)`, old)

	if err := Cleanup(ctx, db, RetentionConfig{EventLogsDays: 7}); err != nil {
		t.Fatal(err)
	}

	var events, metrics int
	db.QueryRow(`SELECT COUNT(*) FROM business_event_logs`).Scan(&events)
	db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&metrics)
	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
	if metrics != 1 {
		t.Fatalf("metrics = %d, want 1 (retention 0 keeps all)", metrics)
	}
}

// ---------------------------------------------------------------------------
// MetricsManager
// ---------------------------------------------------------------------------

func TestMetrics_FlushOnClose(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)

	mm.Record(&Metric{
		Name: MetricSearchDurationMs, Value: 12, Unit: "milliseconds",
		Labels: map[string]string{"outcome": "found"},
	})
	mm.Close()
	mm.Close()

	got, err := mm.Query(context.Background(), MetricSearchDurationMs, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 12 || got[0].Labels["outcome"] != "found" {
		t.Fatalf("metrics: %+v", got)
	}
}

func TestMetrics_FlushOnBufferFull(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.Record(&Metric{Name: MetricBroadcastSent, Value: 1})
	mm.Record(&Metric{Name: MetricBroadcastSent, Value: 2})

	got, err := mm.Query(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d metrics, want 2 after buffer filled", len(got))
	}
}

func TestMetrics_NilRecordIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.Record(&Metric{Name: "x"})
}
