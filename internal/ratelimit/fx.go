package ratelimit

import "go.uber.org/fx"

var Module = fx.Module("rate.limit",
	fx.Provide(NewBackend),
	fx.Provide(NewUsageReportLimiter),
	fx.Provide(NewReconcileLocker),
)
