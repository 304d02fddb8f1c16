package occurrence

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/occurrence/repository"
)

var Module = fx.Module("occurrence",
	fx.Provide(repository.Provide),
)
