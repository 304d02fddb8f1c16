package rails

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	invoicedomain "github.com/smallbiznis/studiobook/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/studiobook/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
	walletrepo "github.com/smallbiznis/studiobook/internal/wallet/repository"
)

func setupRailsTestDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE IF NOT EXISTS wallet_ledger_entries (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id BIGINT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			registration_id BIGINT NOT NULL,
			due_at DATETIME NOT NULL,
			subtotal_amount BIGINT NOT NULL,
			tax_amount BIGINT NOT NULL,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
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
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func TestRegistryUnknownRail(t *testing.T) {
	registry := NewRegistry(NewPromptPayRail())

	if _, err := registry.Get("barter"); err != paymentdomain.ErrUnknownRail {
		t.Fatalf("expected ErrUnknownRail, got %v", err)
	}
	if _, err := registry.Get(paymentdomain.RailPromptPay); err != nil {
		t.Fatalf("expected promptpay rail to resolve, got %v", err)
	}
}

func TestWalletRailChargeAndDecline(t *testing.T) {
	db := setupRailsTestDB(t)
	wallets := walletrepo.Provide(newNode(t))
	rail := NewWalletRail(wallets)
	ctx := context.Background()

	if err := wallets.Credit(ctx, db, 1, 42, 500, "USD", "topup", 900); err != nil {
		t.Fatalf("credit: %v", err)
	}

	req := paymentdomain.ChargeRequest{
		TenantID: 1, CustomerID: 42, RegistrationID: 500, PaymentID: 910,
		Amount: 1000, Currency: "USD",
	}
	result, err := rail.Charge(ctx, db, req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Status != paymentdomain.PaymentStatusFailed {
		t.Fatalf("expected declined charge for 1000 against 500, got %s", result.Status)
	}
	if result.FailureReason != "insufficient_funds" {
		t.Fatalf("expected insufficient_funds reason, got %q", result.FailureReason)
	}

	req.Amount = 500
	result, err = rail.Charge(ctx, db, req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Status != paymentdomain.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded charge, got %s", result.Status)
	}

	balance, err := wallets.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0 after charge, got %d", balance)
	}
}

func TestWalletRailRefundCreditsCustomer(t *testing.T) {
	db := setupRailsTestDB(t)
	wallets := walletrepo.Provide(newNode(t))
	rail := NewWalletRail(wallets)
	ctx := context.Background()

	if err := db.Exec(
		`INSERT INTO registrations (id, occurrence_id, customer_id, tenant_id, status, booked_at)
		 VALUES (500, 100, 42, 1, 'canceled', ?)`,
		time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert registration: %v", err)
	}

	original := &paymentdomain.Payment{
		ID: 910, RegistrationID: 500, TenantID: 1,
		Rail: paymentdomain.RailWallet, Amount: 750, Currency: "USD",
		Status: paymentdomain.PaymentStatusSucceeded,
	}
	if err := rail.Refund(ctx, db, original); err != nil {
		t.Fatalf("refund: %v", err)
	}

	balance, err := wallets.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 750 {
		t.Fatalf("expected refunded balance 750, got %d", balance)
	}
}

func TestPromptPayRailNotImplemented(t *testing.T) {
	rail := NewPromptPayRail()

	if _, err := rail.Charge(context.Background(), nil, paymentdomain.ChargeRequest{}); err != paymentdomain.ErrNotImplemented {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestInvoiceRailIssuesAndCancels(t *testing.T) {
	db := setupRailsTestDB(t)
	invoices := invoicerepo.New(newNode(t), &clock.Fixed{Instant: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}, 810, 14)
	rail := NewInvoiceRail(invoices)
	ctx := context.Background()

	req := paymentdomain.ChargeRequest{
		TenantID: 1, CustomerID: 42, RegistrationID: 500, PaymentID: 910,
		Amount: 10000, Currency: "USD",
	}
	result, err := rail.Charge(ctx, db, req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Status != paymentdomain.PaymentStatusPending {
		t.Fatalf("expected pending charge, got %s", result.Status)
	}

	inv, err := invoices.FindByRegistration(ctx, db, 500)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if inv.TotalAmount != 10810 {
		t.Fatalf("expected invoice total 10810, got %d", inv.TotalAmount)
	}

	original := &paymentdomain.Payment{
		ID: 910, RegistrationID: 500, TenantID: 1,
		Rail: paymentdomain.RailInvoice, Amount: 10000, Currency: "USD",
		Status: paymentdomain.PaymentStatusPending,
	}
	if err := rail.Refund(ctx, db, original); err != nil {
		t.Fatalf("refund: %v", err)
	}

	inv, err = invoices.FindByRegistration(ctx, db, 500)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if inv.Status != invoicedomain.InvoiceStatusCanceled {
		t.Fatalf("expected canceled invoice, got %s", inv.Status)
	}
}
