package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/events"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
	"github.com/smallbiznis/studiobook/internal/payment/rails"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clk           clock.Clock
	Cfg           config.Config
	Idem          *idempotency.Store
	Limiter       *ratelimit.Limiter
	Occurrences   occurrencedomain.Repository
	Registrations registrationdomain.Repository
	Payments      paymentdomain.Repository
	Rails         *rails.Registry
	Outbox        *events.Outbox
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clk           clock.Clock
	cfg           config.Config
	idem          *idempotency.Store
	limiter       *ratelimit.Limiter
	occurrences   occurrencedomain.Repository
	registrations registrationdomain.Repository
	payments      paymentdomain.Repository
	rails         *rails.Registry
	outbox        *events.Outbox
}

func NewService(p Params) bookingdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("booking.service"),
		genID:         p.GenID,
		clk:           p.Clk,
		cfg:           p.Cfg,
		idem:          p.Idem,
		limiter:       p.Limiter,
		occurrences:   p.Occurrences,
		registrations: p.Registrations,
		payments:      p.Payments,
		rails:         p.Rails,
		outbox:        p.Outbox,
	}
}

// storedOutcome is what goes under the idempotency key. A payment decline
// is a real outcome: the replay must see the same failure, not retry the
// charge.
type storedOutcome struct {
	Booking   *bookingdomain.BookResult `json:"booking,omitempty"`
	ErrorCode string                    `json:"error_code,omitempty"`
}

func (s *Service) Book(ctx context.Context, req bookingdomain.BookRequest) (*bookingdomain.BookResult, error) {
	isNew, existing, err := s.idem.GetOrReserve(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !isNew {
		var outcome storedOutcome
		if err := json.Unmarshal(existing, &outcome); err != nil {
			return nil, fmt.Errorf("decode stored booking outcome: %w", err)
		}
		if outcome.ErrorCode != "" {
			return nil, bookingdomain.ErrPaymentFailed
		}
		outcome.Booking.Replayed = true
		return outcome.Booking, nil
	}

	result, err := s.book(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, bookingdomain.ErrPaymentFailed):
			// Terminal outcome: pin it so the replay fails the same way.
			if cerr := s.idem.Complete(ctx, req.IdempotencyKey, storedOutcome{ErrorCode: "payment_failed"}); cerr != nil {
				s.log.Error("record declined booking outcome", zap.String("key", req.IdempotencyKey), zap.Error(cerr))
			}
		default:
			// Not an outcome of this request; free the key so a retry can run.
			if rerr := s.idem.Release(ctx, req.IdempotencyKey); rerr != nil {
				s.log.Error("release idempotency key", zap.String("key", req.IdempotencyKey), zap.Error(rerr))
			}
		}
		return nil, err
	}

	if err := s.idem.Complete(ctx, req.IdempotencyKey, storedOutcome{Booking: result}); err != nil {
		s.log.Error("record booking outcome", zap.String("key", req.IdempotencyKey), zap.Error(err))
	}
	return result, nil
}

func (s *Service) book(ctx context.Context, req bookingdomain.BookRequest) (*bookingdomain.BookResult, error) {
	if !s.limiter.Consume(ctx, "book:ip:"+req.ClientIP, 1, s.cfg.BookPerIPRate, s.cfg.BookPerIPBurst) {
		return nil, bookingdomain.ErrRateLimited
	}
	if !s.limiter.Consume(ctx, "book:customer:"+req.CustomerID.String(), 1, s.cfg.BookPerCustomerRate, s.cfg.BookPerCustomerBurst) {
		return nil, bookingdomain.ErrRateLimited
	}

	occ, err := s.occurrences.FindByID(ctx, s.db, req.OccurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Status != occurrencedomain.OccurrenceStatusScheduled {
		return nil, occurrencedomain.ErrNotScheduled
	}

	active, err := s.registrations.HasActive(ctx, s.db, req.OccurrenceID, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, registrationdomain.ErrAlreadyRegistered
	}

	rail := req.Rail
	if rail == "" {
		rail = paymentdomain.RailWallet
	}
	if occ.PriceAmount > 0 {
		if _, err := s.rails.Get(rail); err != nil {
			return nil, err
		}
	}

	reserved, _, err := s.occurrences.TryReserve(ctx, s.db, req.OccurrenceID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		// The reserve statement rejects full AND non-scheduled occurrences;
		// only a full scheduled one earns a waitlist spot. The cached
		// lookup above may predate a cancellation, so re-read status.
		status, err := s.occurrences.StatusByID(ctx, s.db, req.OccurrenceID)
		if err != nil {
			return nil, err
		}
		if status != occurrencedomain.OccurrenceStatusScheduled {
			return nil, occurrencedomain.ErrNotScheduled
		}
		return s.joinWaitlist(ctx, req, occ)
	}

	return s.confirmReserved(ctx, req, occ, rail)
}

func (s *Service) joinWaitlist(ctx context.Context, req bookingdomain.BookRequest, occ *occurrencedomain.Occurrence) (*bookingdomain.BookResult, error) {
	reg := &registrationdomain.Registration{
		ID:           s.genID.Generate(),
		OccurrenceID: req.OccurrenceID,
		CustomerID:   req.CustomerID,
		TenantID:     occ.TenantID,
		Status:       registrationdomain.StatusWaitlisted,
		BookedAt:     s.clk.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.registrations.CreateIfNoActive(ctx, tx, reg)
		if err != nil {
			return err
		}
		if !created {
			return registrationdomain.ErrAlreadyRegistered
		}
		s.publishRegistrationEvent(ctx, tx, events.EventBookingWaitlisted, reg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &bookingdomain.BookResult{
		RegistrationID: reg.ID.String(),
		OccurrenceID:   req.OccurrenceID.String(),
		Status:         string(registrationdomain.StatusWaitlisted),
	}, nil
}

func (s *Service) confirmReserved(ctx context.Context, req bookingdomain.BookRequest, occ *occurrencedomain.Occurrence, railKind string) (*bookingdomain.BookResult, error) {
	now := s.clk.Now().UTC()
	status := registrationdomain.StatusConfirmed
	var holdExpiresAt *time.Time
	if occ.PriceAmount > 0 {
		// Priced bookings start pending with a hold; the charge outcome or
		// the hold expiry decides what happens to the slot.
		status = registrationdomain.StatusPending
		expires := now.Add(s.cfg.HoldTTL)
		holdExpiresAt = &expires
	}

	reg := &registrationdomain.Registration{
		ID:            s.genID.Generate(),
		OccurrenceID:  req.OccurrenceID,
		CustomerID:    req.CustomerID,
		TenantID:      occ.TenantID,
		Status:        status,
		BookedAt:      now,
		HoldExpiresAt: holdExpiresAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.registrations.CreateIfNoActive(ctx, tx, reg)
		if err != nil {
			return err
		}
		if !created {
			return registrationdomain.ErrAlreadyRegistered
		}
		if occ.PriceAmount == 0 {
			s.publishRegistrationEvent(ctx, tx, events.EventBookingConfirmed, reg)
		}
		return nil
	})
	if err != nil {
		s.releaseSlot(ctx, req.OccurrenceID)
		return nil, err
	}

	if occ.PriceAmount == 0 {
		return &bookingdomain.BookResult{
			RegistrationID: reg.ID.String(),
			OccurrenceID:   req.OccurrenceID.String(),
			Status:         string(registrationdomain.StatusConfirmed),
		}, nil
	}

	return s.charge(ctx, reg, occ, railKind, req.RailData)
}

func (s *Service) charge(ctx context.Context, reg *registrationdomain.Registration, occ *occurrencedomain.Occurrence, railKind string, railData map[string]string) (*bookingdomain.BookResult, error) {
	rail, err := s.rails.Get(railKind)
	if err != nil {
		s.compensate(ctx, reg, 0, "unknown_rail")
		return nil, err
	}

	payment := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		RegistrationID: reg.ID,
		TenantID:       reg.TenantID,
		Rail:           railKind,
		Amount:         occ.PriceAmount,
		Currency:       occ.Currency,
		Status:         paymentdomain.PaymentStatusPending,
	}
	if len(railData) > 0 {
		raw, err := json.Marshal(railData)
		if err != nil {
			s.compensate(ctx, reg, 0, "invalid_rail_data")
			return nil, fmt.Errorf("encode rail data: %w", err)
		}
		payment.Metadata = datatypes.JSON(raw)
	}
	if err := s.payments.Create(ctx, s.db, payment); err != nil {
		s.compensate(ctx, reg, 0, "payment_row_failed")
		return nil, err
	}

	chargeResult, err := rail.Charge(ctx, s.db, paymentdomain.ChargeRequest{
		TenantID:       reg.TenantID,
		CustomerID:     reg.CustomerID,
		RegistrationID: reg.ID,
		PaymentID:      payment.ID,
		Amount:         occ.PriceAmount,
		Currency:       occ.Currency,
		RailData:       railData,
	})
	if err != nil {
		// Unknown gateway outcome. Give the slot back and surface the
		// failure; a later webhook for this payment id still reconciles
		// safely.
		s.compensate(ctx, reg, payment.ID, "charge_errored")
		return nil, fmt.Errorf("%w: %v", bookingdomain.ErrPaymentFailed, err)
	}

	if chargeResult.ExternalRef != "" {
		if err := s.payments.AttachExternalRef(ctx, s.db, payment.ID, chargeResult.ExternalRef); err != nil {
			s.log.Error("attach external ref", zap.Int64("payment_id", int64(payment.ID)), zap.Error(err))
		}
	}

	descriptor := &bookingdomain.PaymentDescriptor{
		PaymentID:    payment.ID.String(),
		Rail:         railKind,
		Amount:       occ.PriceAmount,
		Currency:     occ.Currency,
		ClientSecret: chargeResult.ClientSecret,
	}

	switch chargeResult.Status {
	case paymentdomain.PaymentStatusSucceeded:
		// The money moved; a storage hiccup here must not unwind the
		// booking. Log and let the hold machinery settle any leftover.
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.payments.UpdateStatus(ctx, tx, payment.ID, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusSucceeded); err != nil {
				return err
			}
			if _, err := s.registrations.Transition(ctx, tx, reg.ID, registrationdomain.StatusPending, registrationdomain.StatusConfirmed, nil, nil); err != nil {
				return err
			}
			reg.Status = registrationdomain.StatusConfirmed
			s.publishRegistrationEvent(ctx, tx, events.EventBookingConfirmed, reg)
			s.publishPaymentEvent(ctx, tx, events.EventPaymentSucceeded, payment)
			return nil
		})
		if txErr != nil {
			s.log.Error("settle succeeded charge", zap.Int64("payment_id", int64(payment.ID)), zap.Error(txErr))
		}
		descriptor.Status = string(paymentdomain.PaymentStatusSucceeded)
		return &bookingdomain.BookResult{
			RegistrationID: reg.ID.String(),
			OccurrenceID:   reg.OccurrenceID.String(),
			Status:         string(registrationdomain.StatusConfirmed),
			Payment:        descriptor,
		}, nil

	case paymentdomain.PaymentStatusPending:
		descriptor.Status = string(paymentdomain.PaymentStatusPending)
		return &bookingdomain.BookResult{
			RegistrationID: reg.ID.String(),
			OccurrenceID:   reg.OccurrenceID.String(),
			Status:         string(registrationdomain.StatusPending),
			Payment:        descriptor,
		}, nil

	default:
		s.compensate(ctx, reg, payment.ID, chargeResult.FailureReason)
		s.publishPaymentEvent(ctx, s.db, events.EventPaymentFailed, payment)
		return nil, bookingdomain.ErrPaymentFailed
	}
}

// compensate unwinds a reserved slot after the charge could not complete:
// payment marked failed, registration canceled, capacity handed back.
// Failures here are logged and left for operators, never panicked on.
func (s *Service) compensate(ctx context.Context, reg *registrationdomain.Registration, paymentID snowflake.ID, reason string) {
	if paymentID != 0 {
		if _, err := s.payments.UpdateStatus(ctx, s.db, paymentID, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusFailed); err != nil {
			s.log.Error("mark payment failed", zap.Int64("payment_id", int64(paymentID)), zap.Error(err))
		}
	}
	if _, err := s.registrations.Transition(ctx, s.db, reg.ID, reg.Status, registrationdomain.StatusCanceled, &reason, nil); err != nil {
		s.log.Error("cancel registration after failed charge", zap.Int64("registration_id", int64(reg.ID)), zap.Error(err))
	}
	s.releaseSlot(ctx, reg.OccurrenceID)
}

func (s *Service) releaseSlot(ctx context.Context, occurrenceID snowflake.ID) {
	if err := s.occurrences.Release(ctx, s.db, occurrenceID); err != nil {
		s.log.Error("release occurrence slot", zap.Int64("occurrence_id", int64(occurrenceID)), zap.Error(err))
	}
}

func (s *Service) Cancel(ctx context.Context, req bookingdomain.CancelRequest) (*bookingdomain.CancelResult, error) {
	if !s.limiter.Consume(ctx, "cancel:ip:"+req.ClientIP, 1, s.cfg.CancelPerIPRate, s.cfg.CancelPerIPBurst) {
		return nil, bookingdomain.ErrRateLimited
	}

	reg, err := s.registrations.FindByID(ctx, s.db, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg.Status != registrationdomain.StatusConfirmed {
		return nil, registrationdomain.ErrInvalidState
	}

	occ, err := s.occurrences.FindByID(ctx, s.db, reg.OccurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.StartAt.Before(s.clk.Now().UTC().Add(s.cfg.CancelCutoff)) {
		return nil, bookingdomain.ErrCancelCutoff
	}

	reason := req.Reason
	if reason == "" {
		reason = "customer_canceled"
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.registrations.Transition(ctx, tx, reg.ID, registrationdomain.StatusConfirmed, registrationdomain.StatusCanceled, &reason, req.ActorID)
		if err != nil {
			return err
		}
		if !moved {
			return registrationdomain.ErrInvalidState
		}
		if err := s.occurrences.Release(ctx, tx, reg.OccurrenceID); err != nil {
			return err
		}
		reg.Status = registrationdomain.StatusCanceled
		s.publishRegistrationEvent(ctx, tx, events.EventRegistrationCanceled, reg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	refund := s.refund(ctx, reg)
	return &bookingdomain.CancelResult{
		RegistrationID: reg.ID.String(),
		Status:         "cancelled",
		Refund:         refund,
	}, nil
}

// refund runs after the cancellation committed and never reverts it. A rail
// failure leaves a pending refund row for follow-up.
func (s *Service) refund(ctx context.Context, reg *registrationdomain.Registration) string {
	original, err := s.payments.LatestCharge(ctx, s.db, reg.ID)
	if err == paymentdomain.ErrPaymentNotFound {
		return bookingdomain.RefundStateNone
	}
	if err != nil {
		s.log.Error("load payment for refund", zap.Int64("registration_id", int64(reg.ID)), zap.Error(err))
		return bookingdomain.RefundStatePending
	}
	if original.Status != paymentdomain.PaymentStatusSucceeded && original.Status != paymentdomain.PaymentStatusPending {
		return bookingdomain.RefundStateNone
	}

	rail, err := s.rails.Get(original.Rail)
	if err != nil {
		s.log.Error("resolve refund rail", zap.String("rail", original.Rail), zap.Error(err))
		return bookingdomain.RefundStatePending
	}

	refundRow := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		RegistrationID: reg.ID,
		TenantID:       reg.TenantID,
		Rail:           original.Rail,
		Amount:         -original.Amount,
		Currency:       original.Currency,
		Status:         paymentdomain.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, s.db, refundRow); err != nil {
		s.log.Error("record refund row", zap.Int64("registration_id", int64(reg.ID)), zap.Error(err))
		return bookingdomain.RefundStatePending
	}

	if err := rail.Refund(ctx, s.db, original); err != nil {
		s.log.Warn("refund deferred",
			zap.Int64("payment_id", int64(original.ID)),
			zap.String("rail", original.Rail),
			zap.Error(err),
		)
		return bookingdomain.RefundStatePending
	}

	if _, err := s.payments.UpdateStatus(ctx, s.db, refundRow.ID, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusSucceeded); err != nil {
		s.log.Error("mark refund succeeded", zap.Int64("payment_id", int64(refundRow.ID)), zap.Error(err))
	}
	if _, err := s.payments.UpdateStatus(ctx, s.db, original.ID, original.Status, paymentdomain.PaymentStatusRefunded); err != nil {
		s.log.Error("mark original refunded", zap.Int64("payment_id", int64(original.ID)), zap.Error(err))
	}
	s.publishPaymentEvent(ctx, s.db, events.EventPaymentRefunded, refundRow)
	return bookingdomain.RefundStateCompleted
}

func (s *Service) publishRegistrationEvent(ctx context.Context, db *gorm.DB, eventType string, reg *registrationdomain.Registration) {
	err := s.outbox.PublishTx(ctx, db, events.Event{
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
		s.log.Error("publish registration event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *Service) publishPaymentEvent(ctx context.Context, db *gorm.DB, eventType string, payment *paymentdomain.Payment) {
	err := s.outbox.PublishTx(ctx, db, events.Event{
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
		s.log.Error("publish payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}

var _ bookingdomain.Service = (*Service)(nil)
