package rails

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
	walletdomain "github.com/smallbiznis/studiobook/internal/wallet/domain"
)

// WalletRail settles synchronously against the customer's stored balance.
// A short balance is a declined charge, not an error, so the booking flow
// can record the failure and release the slot.
type WalletRail struct {
	wallets walletdomain.Repository
}

func NewWalletRail(wallets walletdomain.Repository) *WalletRail {
	return &WalletRail{wallets: wallets}
}

func (r *WalletRail) Kind() string { return paymentdomain.RailWallet }

func (r *WalletRail) Charge(ctx context.Context, db *gorm.DB, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	err := r.wallets.Debit(ctx, db, req.TenantID, req.CustomerID, req.Amount, req.Currency, walletdomain.SourceTypePayment, req.PaymentID)
	switch err {
	case nil:
		return &paymentdomain.ChargeResult{Status: paymentdomain.PaymentStatusSucceeded}, nil
	case walletdomain.ErrInsufficientFunds:
		return &paymentdomain.ChargeResult{
			Status:        paymentdomain.PaymentStatusFailed,
			FailureReason: "insufficient_funds",
		}, nil
	default:
		return nil, err
	}
}

func (r *WalletRail) Refund(ctx context.Context, db *gorm.DB, original *paymentdomain.Payment) error {
	// The payment row links back to the customer through the registration.
	var customerID int64
	err := db.WithContext(ctx).Raw(
		`SELECT customer_id FROM registrations WHERE id = ?`, original.RegistrationID,
	).Scan(&customerID).Error
	if err != nil {
		return err
	}
	return r.wallets.Credit(ctx, db, original.TenantID, snowflake.ID(customerID), original.Amount, original.Currency, walletdomain.SourceTypeRefund, original.ID)
}

var _ paymentdomain.Rail = (*WalletRail)(nil)
