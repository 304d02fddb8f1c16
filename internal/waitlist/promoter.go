package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/events"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
)

const workBatch = 100

// Promoter moves waitlisted registrations into capacity freed by
// cancellations and expired holds. Every move goes through the same guarded
// reserve statement bookings use, so the worker can overlap live traffic
// and other promoter runs without overbooking.
type Promoter struct {
	db            *gorm.DB
	log           *zap.Logger
	clk           clock.Clock
	occurrences   occurrencedomain.Repository
	registrations registrationdomain.Repository
	outbox        *events.Outbox
	interval      time.Duration
}

func NewPromoter(
	db *gorm.DB,
	log *zap.Logger,
	clk clock.Clock,
	occurrences occurrencedomain.Repository,
	registrations registrationdomain.Repository,
	outbox *events.Outbox,
	interval time.Duration,
) *Promoter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Promoter{
		db:            db,
		log:           log.Named("waitlist.promoter"),
		clk:           clk,
		occurrences:   occurrences,
		registrations: registrations,
		outbox:        outbox,
		interval:      interval,
	}
}

func (p *Promoter) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, _, err := p.RunOnce(ctx); err != nil {
			p.log.Warn("waitlist pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce expires stale holds, then fills freed capacity from the head of
// each waitlist. Returns (promoted, expired).
func (p *Promoter) RunOnce(ctx context.Context) (int, int, error) {
	expired, err := p.expireHolds(ctx)
	if err != nil {
		return 0, expired, err
	}
	promoted, err := p.promote(ctx)
	return promoted, expired, err
}

// expireHolds cancels pending registrations whose payment hold lapsed and
// hands their slots back.
func (p *Promoter) expireHolds(ctx context.Context) (int, error) {
	holds, err := p.registrations.ExpiredHolds(ctx, p.db, p.clk.Now().UTC(), workBatch)
	if err != nil {
		return 0, err
	}

	reason := "hold_expired"
	expired := 0
	for _, reg := range holds {
		moved, err := p.registrations.Transition(ctx, p.db, reg.ID, registrationdomain.StatusPending, registrationdomain.StatusCanceled, &reason, nil)
		if err != nil {
			p.log.Error("expire hold", zap.Int64("registration_id", int64(reg.ID)), zap.Error(err))
			continue
		}
		if !moved {
			// Lost the race: a webhook confirmed or failed it first.
			continue
		}
		if err := p.occurrences.Release(ctx, p.db, reg.OccurrenceID); err != nil {
			p.log.Error("release expired hold slot", zap.Int64("occurrence_id", int64(reg.OccurrenceID)), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// promote walks occurrences that have a waitlist and, while a slot can be
// reserved, confirms the oldest waitlisted registration. FIFO order comes
// from the OldestWaitlisted query; losing the reserve race just leaves the
// registration for the next pass.
func (p *Promoter) promote(ctx context.Context) (int, error) {
	occurrenceIDs, err := p.registrations.OccurrenceIDsWithWaitlist(ctx, p.db, workBatch)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, occurrenceID := range occurrenceIDs {
		for {
			head, err := p.registrations.OldestWaitlisted(ctx, p.db, occurrenceID)
			if err != nil {
				return promoted, err
			}
			if head == nil {
				break
			}

			reserved, _, err := p.occurrences.TryReserve(ctx, p.db, occurrenceID)
			if err != nil {
				return promoted, err
			}
			if !reserved {
				break
			}

			var moved bool
			err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				var err error
				moved, err = p.registrations.Transition(ctx, tx, head.ID, registrationdomain.StatusWaitlisted, registrationdomain.StatusConfirmed, nil, nil)
				if err != nil || !moved {
					return err
				}
				head.Status = registrationdomain.StatusConfirmed
				p.notifyPromoted(ctx, tx, head)
				return nil
			})
			if err != nil {
				p.releaseSlot(ctx, occurrenceID)
				return promoted, err
			}
			if !moved {
				// The head cancelled between the query and the move.
				p.releaseSlot(ctx, occurrenceID)
				continue
			}
			promoted++
		}
	}
	return promoted, nil
}

func (p *Promoter) releaseSlot(ctx context.Context, occurrenceID snowflake.ID) {
	if err := p.occurrences.Release(ctx, p.db, occurrenceID); err != nil {
		p.log.Error("release promotion slot", zap.Int64("occurrence_id", int64(occurrenceID)), zap.Error(err))
	}
}

func (p *Promoter) notifyPromoted(ctx context.Context, tx *gorm.DB, reg *registrationdomain.Registration) {
	err := p.outbox.PublishTx(ctx, tx, events.Event{
		TenantID: reg.TenantID,
		Type:     events.EventRegistrationPromoted,
		Payload: events.RegistrationPayload{
			RegistrationID: reg.ID.String(),
			OccurrenceID:   reg.OccurrenceID.String(),
			CustomerID:     reg.CustomerID.String(),
			Status:         string(reg.Status),
		}.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s", events.EventRegistrationPromoted, reg.ID),
	})
	if err != nil {
		p.log.Error("publish promotion event", zap.Int64("registration_id", int64(reg.ID)), zap.Error(err))
	}
}
