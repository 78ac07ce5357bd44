package cachesync

import (
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("cachesync",
	fx.Provide(NewRepository),
	fx.Provide(NewClient),
	fx.Provide(NewPropagator),
	fx.Provide(func(p *Propagator) ledgerdomain.BalancePropagator { return p }),
	fx.Provide(NewReconciler),
)
