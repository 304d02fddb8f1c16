package rails

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/config"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
)

const stripeCallTimeout = 10 * time.Second

// CardRail creates a Stripe PaymentIntent and reports pending; settlement
// arrives later over the webhook. The client secret goes back to the caller
// so the frontend can confirm the intent.
type CardRail struct{}

func NewCardRail(cfg config.Config) *CardRail {
	stripe.Key = cfg.StripeAPIKey
	return &CardRail{}
}

func (r *CardRail) Kind() string { return paymentdomain.RailCard }

func (r *CardRail) Charge(ctx context.Context, _ *gorm.DB, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, stripeCallTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"payment_id":      req.PaymentID.String(),
			"registration_id": req.RegistrationID.String(),
		},
	}
	for key, value := range req.RailData {
		if _, reserved := params.Metadata[key]; !reserved {
			params.Metadata[key] = value
		}
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return &paymentdomain.ChargeResult{
			Status:        paymentdomain.PaymentStatusFailed,
			ExternalRef:   pi.ID,
			FailureReason: "intent_canceled",
		}, nil
	case stripe.PaymentIntentStatusSucceeded:
		return &paymentdomain.ChargeResult{
			Status:      paymentdomain.PaymentStatusSucceeded,
			ExternalRef: pi.ID,
		}, nil
	default:
		return &paymentdomain.ChargeResult{
			Status:       paymentdomain.PaymentStatusPending,
			ExternalRef:  pi.ID,
			ClientSecret: pi.ClientSecret,
		}, nil
	}
}

func (r *CardRail) Refund(ctx context.Context, _ *gorm.DB, original *paymentdomain.Payment) error {
	if original.ExternalRef == nil {
		return paymentdomain.ErrPaymentNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, stripeCallTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(*original.ExternalRef),
		Amount:        stripe.Int64(original.Amount),
	}
	params.Context = ctx
	_, err := refund.New(params)
	return err
}

var _ paymentdomain.Rail = (*CardRail)(nil)
