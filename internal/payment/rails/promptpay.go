package rails

import (
	"context"

	"gorm.io/gorm"

	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
)

// PromptPayRail is registered so the rail kind validates, but charging is
// not wired up yet.
// TODO: issue a PromptPay QR via the Stripe sources API once the tenant
// onboarding flow collects Thai bank details.
type PromptPayRail struct{}

func NewPromptPayRail() *PromptPayRail { return &PromptPayRail{} }

func (r *PromptPayRail) Kind() string { return paymentdomain.RailPromptPay }

func (r *PromptPayRail) Charge(ctx context.Context, _ *gorm.DB, _ paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	return nil, paymentdomain.ErrNotImplemented
}

func (r *PromptPayRail) Refund(ctx context.Context, _ *gorm.DB, _ *paymentdomain.Payment) error {
	return paymentdomain.ErrNotImplemented
}

var _ paymentdomain.Rail = (*PromptPayRail)(nil)
