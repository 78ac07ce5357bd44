package main

import (
	"github.com/smallbiznis/creditledger/internal/bootstrap"
	"github.com/smallbiznis/creditledger/internal/cacheproxy"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Core,
		cacheproxy.Module,
	)
	app.Run()
}
