package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/events"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
)

const provider = "stripe"

var (
	ErrUnknownEvent    = errors.New("unknown_webhook_event")
	ErrPaymentUnmapped = errors.New("webhook_payment_unmapped")
)

// delivery is the payload shape the payment provider sends. The payment is
// addressed either by our payment id (echoed from intent metadata) or by
// the provider's reference.
type delivery struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentID   string `json:"payment_id"`
		ExternalRef string `json:"external_ref"`
	} `json:"data"`
}

// Reconciler applies asynchronous payment outcomes to the booking state.
// Every delivery is persisted before processing and deduplicated on the
// provider event id, so provider retries are acknowledged without
// reapplying effects.
type Reconciler struct {
	db            *gorm.DB
	log           *zap.Logger
	clk           clock.Clock
	genID         *snowflake.Node
	secret        string
	tolerance     time.Duration
	payments      paymentdomain.Repository
	registrations registrationdomain.Repository
	occurrences   occurrencedomain.Repository
	outbox        *events.Outbox
}

func NewReconciler(
	db *gorm.DB,
	log *zap.Logger,
	clk clock.Clock,
	genID *snowflake.Node,
	cfg config.Config,
	payments paymentdomain.Repository,
	registrations registrationdomain.Repository,
	occurrences occurrencedomain.Repository,
	outbox *events.Outbox,
) *Reconciler {
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Reconciler{
		db:            db,
		log:           log.Named("webhook.reconciler"),
		clk:           clk,
		genID:         genID,
		secret:        cfg.WebhookSecret,
		tolerance:     tolerance,
		payments:      payments,
		registrations: registrations,
		occurrences:   occurrences,
		outbox:        outbox,
	}
}

func (r *Reconciler) Handle(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if err := VerifySignature(r.secret, signatureHeader, rawBody, r.tolerance, r.clk.Now()); err != nil {
		return err
	}

	var event delivery
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return ErrUnknownEvent
	}

	unprocessed, deliveryID, err := r.persistDelivery(ctx, event.ID, rawBody, signatureHeader)
	if err != nil {
		return err
	}
	if !unprocessed {
		// Provider retry of an already processed delivery.
		return nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := r.resolvePayment(ctx, tx, event)
		if err != nil {
			return err
		}

		switch event.Type {
		case events.EventPaymentSucceeded:
			return r.applySucceeded(ctx, tx, payment)
		case events.EventPaymentFailed:
			return r.applyFailed(ctx, tx, payment)
		case events.EventPaymentRefunded:
			return r.applyRefunded(ctx, tx, payment)
		default:
			return ErrUnknownEvent
		}
	})
	if err != nil {
		return err
	}

	return r.markProcessed(ctx, deliveryID)
}

// persistDelivery stores the raw body keyed by the provider's event id.
// Reports whether this delivery still needs processing: a brand new event
// does, and so does a provider retry of an event whose first attempt died
// before markProcessed. Only retries of processed deliveries are dropped.
func (r *Reconciler) persistDelivery(ctx context.Context, providerEventID string, rawBody []byte, signature string) (bool, snowflake.ID, error) {
	id := r.genID.Generate()
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO webhook_deliveries (id, provider, provider_event_id, raw_body, signature, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		id,
		provider,
		providerEventID,
		rawBody,
		signature,
		r.clk.Now().UTC(),
	)
	if result.Error != nil {
		return false, 0, result.Error
	}
	if result.RowsAffected > 0 {
		return true, id, nil
	}

	var existing struct {
		ID          snowflake.ID
		ProcessedAt sql.NullTime
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, processed_at FROM webhook_deliveries WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&existing).Error
	if err != nil {
		return false, 0, err
	}
	return !existing.ProcessedAt.Valid, existing.ID, nil
}

func (r *Reconciler) markProcessed(ctx context.Context, deliveryID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE webhook_deliveries SET processed_at = ? WHERE id = ?`,
		r.clk.Now().UTC(),
		deliveryID,
	).Error
}

func (r *Reconciler) resolvePayment(ctx context.Context, tx *gorm.DB, event delivery) (*paymentdomain.Payment, error) {
	if event.Data.PaymentID != "" {
		id, err := strconv.ParseInt(event.Data.PaymentID, 10, 64)
		if err != nil {
			return nil, ErrPaymentUnmapped
		}
		return r.payments.FindByID(ctx, tx, snowflake.ID(id))
	}
	if event.Data.ExternalRef != "" {
		return r.payments.FindByExternalRef(ctx, tx, event.Data.ExternalRef)
	}
	return nil, ErrPaymentUnmapped
}

func (r *Reconciler) applySucceeded(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	moved, err := r.payments.UpdateStatus(ctx, tx, payment.ID, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusSucceeded)
	if err != nil {
		return err
	}
	if !moved {
		// Already settled by an earlier delivery or the synchronous path.
		return nil
	}

	reg, err := r.registrations.FindByID(ctx, tx, payment.RegistrationID)
	if err != nil {
		return err
	}
	confirmed, err := r.registrations.Transition(ctx, tx, reg.ID, registrationdomain.StatusPending, registrationdomain.StatusConfirmed, nil, nil)
	if err != nil {
		return err
	}
	if confirmed {
		reg.Status = registrationdomain.StatusConfirmed
		r.publishRegistration(ctx, tx, events.EventBookingConfirmed, reg)
	} else if reg.Status != registrationdomain.StatusConfirmed {
		// The hold expired (or the registration was canceled) before the
		// provider settled: money captured, no seat. Record the refund owed
		// so follow-up can return it.
		refundRow := &paymentdomain.Payment{
			ID:             r.genID.Generate(),
			RegistrationID: payment.RegistrationID,
			TenantID:       payment.TenantID,
			Rail:           payment.Rail,
			Amount:         -payment.Amount,
			Currency:       payment.Currency,
			Status:         paymentdomain.PaymentStatusPending,
			ExternalRef:    payment.ExternalRef,
		}
		if err := r.payments.Create(ctx, tx, refundRow); err != nil {
			return err
		}
		r.publishPayment(ctx, tx, events.EventRefundPending, refundRow)
	}

	r.publishPayment(ctx, tx, events.EventPaymentSucceeded, payment)
	return nil
}

// applyFailed cancels the registration and returns the slot. Works for
// both pending holds and registrations confirmed before the provider made
// up its mind.
func (r *Reconciler) applyFailed(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	moved, err := r.payments.UpdateStatus(ctx, tx, payment.ID, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	reg, err := r.registrations.FindByID(ctx, tx, payment.RegistrationID)
	if err != nil {
		return err
	}

	reason := "payment_failed"
	canceled, err := r.registrations.Transition(ctx, tx, reg.ID, registrationdomain.StatusPending, registrationdomain.StatusCanceled, &reason, nil)
	if err != nil {
		return err
	}
	if !canceled {
		canceled, err = r.registrations.Transition(ctx, tx, reg.ID, registrationdomain.StatusConfirmed, registrationdomain.StatusCanceled, &reason, nil)
		if err != nil {
			return err
		}
	}
	if canceled {
		if err := r.occurrences.Release(ctx, tx, reg.OccurrenceID); err != nil {
			return err
		}
	}

	r.publishPayment(ctx, tx, events.EventPaymentFailed, payment)
	return nil
}

// applyRefunded records the refund as its own negative row; the original
// payment row is never edited beyond its status.
func (r *Reconciler) applyRefunded(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	moved, err := r.payments.UpdateStatus(ctx, tx, payment.ID, paymentdomain.PaymentStatusSucceeded, paymentdomain.PaymentStatusRefunded)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	refundRow := &paymentdomain.Payment{
		ID:             r.genID.Generate(),
		RegistrationID: payment.RegistrationID,
		TenantID:       payment.TenantID,
		Rail:           payment.Rail,
		Amount:         -payment.Amount,
		Currency:       payment.Currency,
		Status:         paymentdomain.PaymentStatusSucceeded,
		ExternalRef:    payment.ExternalRef,
	}
	if err := r.payments.Create(ctx, tx, refundRow); err != nil {
		return err
	}

	r.publishPayment(ctx, tx, events.EventPaymentRefunded, refundRow)
	return nil
}

func (r *Reconciler) publishRegistration(ctx context.Context, tx *gorm.DB, eventType string, reg *registrationdomain.Registration) {
	err := r.outbox.PublishTx(ctx, tx, events.Event{
		TenantID: reg.TenantID,
		Type:     eventType,
		Payload: events.RegistrationPayload{
			RegistrationID: reg.ID.String(),
			OccurrenceID:   reg.OccurrenceID.String(),
			CustomerID:     reg.CustomerID.String(),
			Status:         string(reg.Status),
		}.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s", eventType, reg.ID),
	})
	if err != nil {
		r.log.Error("publish registration event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (r *Reconciler) publishPayment(ctx context.Context, tx *gorm.DB, eventType string, payment *paymentdomain.Payment) {
	err := r.outbox.PublishTx(ctx, tx, events.Event{
		TenantID: payment.TenantID,
		Type:     eventType,
		Payload: events.PaymentPayload{
			PaymentID:      payment.ID.String(),
			RegistrationID: payment.RegistrationID.String(),
			Rail:           payment.Rail,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
		}.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s", eventType, payment.ID),
	})
	if err != nil {
		r.log.Error("publish payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}
