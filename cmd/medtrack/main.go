package main

import (
	"github.com/MMatviiuk/medtrack/internal/adherence"
	"github.com/MMatviiuk/medtrack/internal/cache"
	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	"github.com/MMatviiuk/medtrack/internal/daystatus"
	"github.com/MMatviiuk/medtrack/internal/doseevent"
	"github.com/MMatviiuk/medtrack/internal/medication"
	"github.com/MMatviiuk/medtrack/internal/migration"
	"github.com/MMatviiuk/medtrack/internal/observability"
	"github.com/MMatviiuk/medtrack/internal/scheduler"
	"github.com/MMatviiuk/medtrack/internal/server"
	"github.com/MMatviiuk/medtrack/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,

		// Functional Domains
		doseevent.Module,
		daystatus.Module,
		medication.Module,
		adherence.Module,

		scheduler.Module,
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
