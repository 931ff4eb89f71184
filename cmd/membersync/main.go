package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/cineclub/membersync/internal/clock"
	"github.com/cineclub/membersync/internal/config"
	"github.com/cineclub/membersync/internal/migration"
	"github.com/cineclub/membersync/internal/observability"
	"github.com/cineclub/membersync/internal/server"
	"github.com/cineclub/membersync/pkg/db"
	"go.uber.org/fx"
)

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
