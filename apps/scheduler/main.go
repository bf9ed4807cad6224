package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	"github.com/jijenga/referral/internal/earning"
	"github.com/jijenga/referral/internal/invitation"
	"github.com/jijenga/referral/internal/observability"
	"github.com/jijenga/referral/internal/payment"
	"github.com/jijenga/referral/internal/providers/email"
	"github.com/jijenga/referral/internal/providers/mpesa"
	"github.com/jijenga/referral/internal/ratelimit"
	"github.com/jijenga/referral/internal/scheduler"
	"github.com/jijenga/referral/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only deployment. No HTTP server; the redis job locks keep
// concurrent replicas from double-running a job.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		earning.Module,
		payment.Module,
		invitation.Module,
		email.Module,
		mpesa.Module,
		ratelimit.Module,

		scheduler.Module,
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
