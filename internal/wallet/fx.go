package wallet

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/wallet/repository"
)

var Module = fx.Module("wallet",
	fx.Provide(repository.Provide),
)
