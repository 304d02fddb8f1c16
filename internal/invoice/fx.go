package invoice

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/invoice/repository"
)

var Module = fx.Module("invoice",
	fx.Provide(repository.Provide),
)
