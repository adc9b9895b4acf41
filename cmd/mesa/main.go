package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mesaops/mesa/internal/audit"
	"github.com/mesaops/mesa/internal/config"
	"github.com/mesaops/mesa/internal/logger"
	"github.com/mesaops/mesa/internal/migration"
	obsmetrics "github.com/mesaops/mesa/internal/observability/metrics"
	"github.com/mesaops/mesa/internal/payment"
	"github.com/mesaops/mesa/internal/providers/email"
	"github.com/mesaops/mesa/internal/server"
	"github.com/mesaops/mesa/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		obsmetrics.Module,

		audit.Module,
		email.Module,
		payment.Module,
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
