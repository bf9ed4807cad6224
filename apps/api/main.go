package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	"github.com/jijenga/referral/internal/migration"
	"github.com/jijenga/referral/internal/observability"
	"github.com/jijenga/referral/internal/server"
	"github.com/jijenga/referral/pkg/db"
	"go.uber.org/fx"
)

// API-only deployment. Pair with apps/scheduler when running more than
// one replica so batch jobs stay off the request path.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
