package rails

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	invoicedomain "github.com/smallbiznis/studiobook/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
)

// InvoiceRail defers collection: the booking confirms immediately and an
// invoice with tax is issued for later settlement.
type InvoiceRail struct {
	invoices invoicedomain.Repository
}

func NewInvoiceRail(invoices invoicedomain.Repository) *InvoiceRail {
	return &InvoiceRail{invoices: invoices}
}

func (r *InvoiceRail) Kind() string { return paymentdomain.RailInvoice }

func (r *InvoiceRail) Charge(ctx context.Context, db *gorm.DB, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	inv, err := r.invoices.Issue(ctx, db, req.TenantID, req.RegistrationID, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.ChargeResult{
		Status:      paymentdomain.PaymentStatusPending,
		ExternalRef: strconv.FormatInt(int64(inv.ID), 10),
	}, nil
}

func (r *InvoiceRail) Refund(ctx context.Context, db *gorm.DB, original *paymentdomain.Payment) error {
	inv, err := r.invoices.FindByRegistration(ctx, db, original.RegistrationID)
	if err != nil {
		return err
	}
	_, err = r.invoices.Cancel(ctx, db, inv.ID)
	return err
}

var _ paymentdomain.Rail = (*InvoiceRail)(nil)
