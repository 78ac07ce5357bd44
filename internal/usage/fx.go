package usage

import (
	"github.com/smallbiznis/creditledger/internal/usage/liveevents"
	"github.com/smallbiznis/creditledger/internal/usage/repository"
	"github.com/smallbiznis/creditledger/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(liveevents.NewHub),
	fx.Provide(service.New),
)
