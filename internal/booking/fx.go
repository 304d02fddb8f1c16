package booking

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/booking/service"
)

var Module = fx.Module("booking",
	fx.Provide(service.NewService),
)
