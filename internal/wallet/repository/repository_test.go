package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	walletdomain "github.com/smallbiznis/studiobook/internal/wallet/domain"
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
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
	if err := db.Exec(
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
	).Error; err != nil {
		t.Fatalf("create wallet_ledger_entries: %v", err)
	}
	return db
}

func newWalletRepo(t *testing.T) walletdomain.Repository {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return Provide(node)
}

func TestCreditThenBalance(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Credit(ctx, db, 1, 42, 5000, "USD", walletdomain.SourceTypeTopUp, 900); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := repo.Credit(ctx, db, 1, 42, 1500, "USD", walletdomain.SourceTypeTopUp, 901); err != nil {
		t.Fatalf("credit: %v", err)
	}

	balance, err := repo.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 6500 {
		t.Fatalf("expected balance 6500, got %d", balance)
	}
}

func TestDebitRejectsShortBalance(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Credit(ctx, db, 1, 42, 500, "USD", walletdomain.SourceTypeTopUp, 900); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := repo.Debit(ctx, db, 1, 42, 1000, "USD", walletdomain.SourceTypePayment, 910)
	if err != walletdomain.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, err := repo.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance untouched at 500, got %d", balance)
	}
}

func TestDebitExactBalance(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Credit(ctx, db, 1, 42, 1000, "USD", walletdomain.SourceTypeTopUp, 900); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := repo.Debit(ctx, db, 1, 42, 1000, "USD", walletdomain.SourceTypePayment, 910); err != nil {
		t.Fatalf("debit: %v", err)
	}

	balance, err := repo.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestConcurrentDebitsCannotOverdraw(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Credit(ctx, db, 1, 42, 1000, "USD", walletdomain.SourceTypeTopUp, 900); err != nil {
		t.Fatalf("credit: %v", err)
	}

	const debits = 6
	var wg sync.WaitGroup
	outcomes := make(chan error, debits)
	for i := 0; i < debits; i++ {
		wg.Add(1)
		go func(sourceID int64) {
			defer wg.Done()
			outcomes <- repo.Debit(ctx, db, 1, 42, 700, "USD", walletdomain.SourceTypePayment, snowflake.ID(sourceID))
		}(int64(910 + i))
	}
	wg.Wait()
	close(outcomes)

	succeeded := 0
	for err := range outcomes {
		switch err {
		case nil:
			succeeded++
		case walletdomain.ErrInsufficientFunds:
		default:
			t.Fatalf("debit: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one 700 debit against a 1000 balance, got %d", succeeded)
	}

	balance, err := repo.Balance(ctx, db, 1, 42, "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 300 {
		t.Fatalf("expected balance 300, got %d", balance)
	}
}

func TestBalancesScopedByCurrencyAndCustomer(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Credit(ctx, db, 1, 42, 1000, "USD", walletdomain.SourceTypeTopUp, 900); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := repo.Credit(ctx, db, 1, 42, 2000, "THB", walletdomain.SourceTypeTopUp, 901); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := repo.Credit(ctx, db, 1, 43, 3000, "USD", walletdomain.SourceTypeTopUp, 902); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := repo.Debit(ctx, db, 1, 42, 1500, "USD", walletdomain.SourceTypePayment, 910); err != walletdomain.ErrInsufficientFunds {
		t.Fatalf("expected THB funds to not cover a USD debit, got %v", err)
	}

	balance, err := repo.Balance(ctx, db, 1, 42, "THB")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2000 {
		t.Fatalf("expected THB balance 2000, got %d", balance)
	}
}

func TestDebitValidatesInput(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := newWalletRepo(t)
	ctx := context.Background()

	if err := repo.Debit(ctx, db, 1, 42, 0, "USD", walletdomain.SourceTypePayment, 910); err != walletdomain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := repo.Credit(ctx, db, 1, 42, 100, "", walletdomain.SourceTypeTopUp, 900); err != walletdomain.ErrInvalidCurrency {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}
