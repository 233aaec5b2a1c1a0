package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cloudkitty/internal/clock"
	collectorprom "github.com/smallbiznis/cloudkitty/internal/collector/prometheus"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"github.com/smallbiznis/cloudkitty/internal/coordination"
	"github.com/smallbiznis/cloudkitty/internal/fetcher"
	"github.com/smallbiznis/cloudkitty/internal/messaging"
	"github.com/smallbiznis/cloudkitty/internal/migration"
	"github.com/smallbiznis/cloudkitty/internal/observability"
	"github.com/smallbiznis/cloudkitty/internal/orchestrator"
	"github.com/smallbiznis/cloudkitty/internal/ratedexport"
	"github.com/smallbiznis/cloudkitty/internal/rating"
	"github.com/smallbiznis/cloudkitty/internal/redisclient"
	"github.com/smallbiznis/cloudkitty/internal/reprocessing"
	"github.com/smallbiznis/cloudkitty/internal/scope"
	"github.com/smallbiznis/cloudkitty/internal/server"
	"github.com/smallbiznis/cloudkitty/internal/storage"
	"github.com/smallbiznis/cloudkitty/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,

		// Shared state and collaborators
		coordination.Module,
		messaging.Module,
		scope.Module,
		reprocessing.Module,
		rating.Module,
		storage.Module,
		collectorprom.Module,
		fetcher.Module,
		ratedexport.Module,

		orchestrator.Module,
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
