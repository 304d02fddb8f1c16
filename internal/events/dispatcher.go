package events

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notifier receives outbox events for downstream delivery. Delivery is
// at-least-once: an event may be handed over again after a crash between
// Notify and the published mark.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any) error
}

// LogNotifier writes events to the log. Stands in until a real delivery
// channel is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	n.Log.Info("outbox event", zap.String("event_type", eventType), zap.Any("payload", payload))
	return nil
}

type outboxRow struct {
	ID        snowflake.ID
	TenantID  snowflake.ID
	EventType string
	Payload   datatypes.JSONMap
}

// Dispatcher drains unpublished outbox rows on a timer.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	notifier Notifier
	interval time.Duration
	batch    int
}

func NewDispatcher(db *gorm.DB, log *zap.Logger, notifier Notifier, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		db:       db,
		log:      log.Named("events.dispatcher"),
		notifier: notifier,
		interval: interval,
		batch:    100,
	}
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil {
			d.log.Warn("outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce dispatches one batch of unpublished events, oldest first, and
// returns how many were published.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if d.db == nil || d.notifier == nil {
		return 0, errors.New("dispatcher_unavailable")
	}

	var rows []outboxRow
	if err := d.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, event_type, payload
		 FROM booking_events
		 WHERE published = false
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		d.batch,
	).Scan(&rows).Error; err != nil {
		return 0, err
	}

	published := 0
	for _, row := range rows {
		if err := d.notifier.Notify(ctx, row.EventType, row.Payload); err != nil {
			d.log.Warn("notify failed, will retry",
				zap.String("event_id", row.ID.String()),
				zap.String("event_type", row.EventType),
				zap.Error(err))
			continue
		}
		// The published guard makes overlapping dispatchers safe: only one
		// marks the row, duplicates are absorbed by at-least-once semantics.
		result := d.db.WithContext(ctx).Exec(
			`UPDATE booking_events SET published = true WHERE id = ? AND published = false`,
			row.ID,
		)
		if result.Error != nil {
			return published, result.Error
		}
		if result.RowsAffected > 0 {
			published++
		}
	}
	return published, nil
}
