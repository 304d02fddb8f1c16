package registration

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/registration/repository"
)

var Module = fx.Module("registration",
	fx.Provide(repository.Provide),
)
