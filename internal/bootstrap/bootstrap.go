// Package bootstrap holds the fx wiring shared by every binary.
package bootstrap

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/observability"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
)

// Core provides config, observability, ids and the clock.
var Core = fx.Options(
	config.Module,
	observability.Module,
	clock.Module,
	fx.Provide(NewSnowflake),
)

// Storage adds the ledger database on top of Core.
var Storage = fx.Options(
	Core,
	db.Module,
)

func NewSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeNumber)
}
