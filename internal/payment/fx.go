package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/config"
	invoicedomain "github.com/smallbiznis/studiobook/internal/invoice/domain"
	"github.com/smallbiznis/studiobook/internal/payment/rails"
	"github.com/smallbiznis/studiobook/internal/payment/repository"
	walletdomain "github.com/smallbiznis/studiobook/internal/wallet/domain"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, wallets walletdomain.Repository, invoices invoicedomain.Repository) *rails.Registry {
		return rails.NewRegistry(
			rails.NewWalletRail(wallets),
			rails.NewCardRail(cfg),
			rails.NewPromptPayRail(),
			rails.NewInvoiceRail(invoices),
		)
	}),
)
