package materializer

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/cache"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	occurrencerepo "github.com/smallbiznis/studiobook/internal/occurrence/repository"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
)

func setupMaterializerTest(t *testing.T, horizonDays int) (*gorm.DB, *Materializer, *clock.Fixed) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recurring_series (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			weekday SMALLINT NOT NULL,
			start_minute INT NOT NULL,
			duration_minute INT NOT NULL,
			capacity INT,
			price_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			series_id BIGINT,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			capacity INT,
			booked_count INT NOT NULL DEFAULT 0,
			price_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL DEFAULT 'scheduled',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_occurrences_series_start ON occurrences (series_id, start_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			result JSON,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
			key TEXT PRIMARY KEY,
			tokens REAL NOT NULL,
			last_refill BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	// A Tuesday.
	clk := &clock.Fixed{Instant: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	m := New(
		db,
		zap.NewNop(),
		clk,
		node,
		occurrencerepo.NewWithCache(cache.NoopCache[snowflake.ID, occurrencedomain.Occurrence]{}),
		idempotency.NewStore(db, clk, 24*time.Hour),
		ratelimit.NewLimiter(db, zap.NewNop(), clk),
		horizonDays,
		time.Hour,
	)
	return db, m, clk
}

func insertSeries(t *testing.T, db *gorm.DB, id int64, weekday, startMinute int, active bool) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO recurring_series (id, tenant_id, title, weekday, start_minute, duration_minute,
		                               capacity, price_amount, currency, active)
		 VALUES (?, 1, 'evening class', ?, ?, 60, 12, 1500, 'USD', ?)`,
		id, weekday, startMinute, active,
	).Error; err != nil {
		t.Fatalf("insert series: %v", err)
	}
}

func occurrenceCount(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM occurrences`).Scan(&count).Error; err != nil {
		t.Fatalf("count occurrences: %v", err)
	}
	return count
}

func TestMaterializeExpandsWeeklySeries(t *testing.T) {
	db, m, _ := setupMaterializerTest(t, 14)
	// Friday 18:00 UTC.
	insertSeries(t, db, 7, 5, 18*60, true)

	generated, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	// Two Fridays fall inside a 14 day horizon from Tue Sep 1 2026.
	if generated != 2 {
		t.Fatalf("expected 2 occurrences generated, got %d", generated)
	}

	want := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)
	var matching int
	if err := db.Raw(`SELECT COUNT(1) FROM occurrences WHERE start_at = ?`, want).Scan(&matching).Error; err != nil {
		t.Fatalf("read first start: %v", err)
	}
	if matching != 1 {
		t.Fatalf("expected an occurrence at %v", want)
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	db, m, _ := setupMaterializerTest(t, 30)
	insertSeries(t, db, 7, 5, 18*60, true)

	first, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first == 0 {
		t.Fatal("expected first run to generate occurrences")
	}

	second, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected re-run to generate nothing, got %d", second)
	}
	if count := occurrenceCount(t, db); count != first {
		t.Fatalf("expected %d total occurrences, got %d", first, count)
	}
}

func TestMaterializeSkipsInactiveSeries(t *testing.T) {
	db, m, _ := setupMaterializerTest(t, 30)
	insertSeries(t, db, 7, 5, 18*60, false)

	generated, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if generated != 0 {
		t.Fatalf("expected inactive series skipped, got %d", generated)
	}
}

func TestMaterializeExtendsAfterClockAdvance(t *testing.T) {
	db, m, clk := setupMaterializerTest(t, 14)
	insertSeries(t, db, 7, 5, 18*60, true)

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := occurrenceCount(t, db)

	clk.Advance(7 * 24 * time.Hour)
	generated, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if generated == 0 {
		t.Fatal("expected new occurrences as the horizon moved forward")
	}
	if count := occurrenceCount(t, db); count != before+generated {
		t.Fatalf("expected %d occurrences, got %d", before+generated, count)
	}
}
