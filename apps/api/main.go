package main

import (
	"github.com/smallbiznis/creditledger/internal/bootstrap"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Storage,
		migration.Module,
		server.Module,
	)
	app.Run()
}
