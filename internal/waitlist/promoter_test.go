package waitlist

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
	"github.com/smallbiznis/studiobook/internal/events"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	occurrencerepo "github.com/smallbiznis/studiobook/internal/occurrence/repository"
	registrationrepo "github.com/smallbiznis/studiobook/internal/registration/repository"
)

func setupPromoterTest(t *testing.T) (*gorm.DB, *Promoter, *clock.Fixed) {
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
		`CREATE TABLE IF NOT EXISTS registrations (
			id BIGINT PRIMARY KEY,
			occurrence_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			tenant_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			booked_at DATETIME NOT NULL,
			hold_expires_at DATETIME,
			cancel_reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS registration_status_history (
			id BIGINT PRIMARY KEY,
			registration_id BIGINT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT,
			actor_id BIGINT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS booking_events (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSON,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_booking_events_dedupe ON booking_events (dedupe_key)`,
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
	clk := &clock.Fixed{Instant: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	promoter := NewPromoter(
		db,
		zap.NewNop(),
		clk,
		occurrencerepo.NewWithCache(cache.NoopCache[snowflake.ID, occurrencedomain.Occurrence]{}),
		registrationrepo.Provide(node),
		events.NewOutbox(db, node),
		30*time.Second,
	)
	return db, promoter, clk
}

func insertOccurrenceRow(t *testing.T, db *gorm.DB, id int64, capacity, booked int) {
	t.Helper()
	start := time.Date(2026, 9, 7, 18, 0, 0, 0, time.UTC)
	if err := db.Exec(
		`INSERT INTO occurrences (id, tenant_id, start_at, end_at, capacity, booked_count, price_amount, currency, status)
		 VALUES (?, 1, ?, ?, ?, ?, 0, 'USD', 'scheduled')`,
		id, start, start.Add(time.Hour), capacity, booked,
	).Error; err != nil {
		t.Fatalf("insert occurrence: %v", err)
	}
}

func insertRegistrationRow(t *testing.T, db *gorm.DB, id, occurrenceID, customerID int64, status string, bookedAt time.Time, holdExpiresAt *time.Time) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO registrations (id, occurrence_id, customer_id, tenant_id, status, booked_at, hold_expires_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)`,
		id, occurrenceID, customerID, status, bookedAt, holdExpiresAt,
	).Error; err != nil {
		t.Fatalf("insert registration: %v", err)
	}
}

func registrationStatus(t *testing.T, db *gorm.DB, id int64) string {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM registrations WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

func TestPromoteFIFOOrder(t *testing.T) {
	db, promoter, clk := setupPromoterTest(t)
	insertOccurrenceRow(t, db, 100, 2, 2)
	base := clk.Now()
	// A joined the waitlist before B; one slot frees up.
	insertRegistrationRow(t, db, 201, 100, 41, "waitlisted", base.Add(-2*time.Hour), nil)
	insertRegistrationRow(t, db, 202, 100, 42, "waitlisted", base.Add(-1*time.Hour), nil)

	if err := db.Exec(`UPDATE occurrences SET booked_count = 1 WHERE id = 100`).Error; err != nil {
		t.Fatalf("free slot: %v", err)
	}

	promoted, expired, err := promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if promoted != 1 || expired != 0 {
		t.Fatalf("expected 1 promoted / 0 expired, got %d / %d", promoted, expired)
	}

	if status := registrationStatus(t, db, 201); status != "confirmed" {
		t.Fatalf("expected A (earlier booked_at) promoted first, got %s", status)
	}
	if status := registrationStatus(t, db, 202); status != "waitlisted" {
		t.Fatalf("expected B still waitlisted, got %s", status)
	}

	var count int
	if err := db.Raw(`SELECT booked_count FROM occurrences WHERE id = 100`).Scan(&count).Error; err != nil {
		t.Fatalf("read count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected booked_count back at capacity 2, got %d", count)
	}
}

func TestPromoteFillsAllFreeSlots(t *testing.T) {
	db, promoter, clk := setupPromoterTest(t)
	insertOccurrenceRow(t, db, 100, 3, 0)
	base := clk.Now()
	insertRegistrationRow(t, db, 201, 100, 41, "waitlisted", base.Add(-3*time.Hour), nil)
	insertRegistrationRow(t, db, 202, 100, 42, "waitlisted", base.Add(-2*time.Hour), nil)

	promoted, _, err := promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if promoted != 2 {
		t.Fatalf("expected both waitlisted promoted into 3 free slots, got %d", promoted)
	}

	// Overlapping or repeated runs find nothing left to do.
	promoted, _, err = promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if promoted != 0 {
		t.Fatalf("expected idempotent second pass, got %d promotions", promoted)
	}
}

func TestPromoteStopsAtCapacity(t *testing.T) {
	db, promoter, clk := setupPromoterTest(t)
	insertOccurrenceRow(t, db, 100, 1, 1)
	insertRegistrationRow(t, db, 201, 100, 41, "waitlisted", clk.Now(), nil)

	promoted, _, err := promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if promoted != 0 {
		t.Fatalf("expected no promotion into a full occurrence, got %d", promoted)
	}
	if status := registrationStatus(t, db, 201); status != "waitlisted" {
		t.Fatalf("expected registration left waitlisted, got %s", status)
	}
}

func TestExpiredHoldFreesSlotForWaitlist(t *testing.T) {
	db, promoter, clk := setupPromoterTest(t)
	insertOccurrenceRow(t, db, 100, 1, 1)
	base := clk.Now()
	lapsed := base.Add(-time.Minute)
	insertRegistrationRow(t, db, 201, 100, 41, "pending", base.Add(-30*time.Minute), &lapsed)
	insertRegistrationRow(t, db, 202, 100, 42, "waitlisted", base.Add(-20*time.Minute), nil)

	promoted, expired, err := promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired hold, got %d", expired)
	}
	if promoted != 1 {
		t.Fatalf("expected the freed slot promoted, got %d", promoted)
	}

	if status := registrationStatus(t, db, 201); status != "canceled" {
		t.Fatalf("expected lapsed hold canceled, got %s", status)
	}
	if status := registrationStatus(t, db, 202); status != "confirmed" {
		t.Fatalf("expected waitlisted promoted into freed slot, got %s", status)
	}

	var eventCount int64
	if err := db.Raw(
		`SELECT COUNT(1) FROM booking_events WHERE event_type = ?`, events.EventRegistrationPromoted,
	).Scan(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one promotion event, got %d", eventCount)
	}
}

func TestUnexpiredHoldUntouched(t *testing.T) {
	db, promoter, clk := setupPromoterTest(t)
	insertOccurrenceRow(t, db, 100, 1, 1)
	future := clk.Now().Add(10 * time.Minute)
	insertRegistrationRow(t, db, 201, 100, 41, "pending", clk.Now(), &future)

	_, expired, err := promoter.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expiry before hold_expires_at, got %d", expired)
	}
	if status := registrationStatus(t, db, 201); status != "pending" {
		t.Fatalf("expected pending hold untouched, got %s", status)
	}
}
