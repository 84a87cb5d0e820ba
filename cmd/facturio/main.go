// Command facturio runs the whole ingestion pipeline in one process:
// scheduled discovery, the extraction worker pool, and schema migrations.
// The split binaries under apps/ exist for deployments that scale the
// discovery and extraction sides independently.
package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/facturio/internal/account"
	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/extract"
	"github.com/smallbiznis/facturio/internal/ingest"
	"github.com/smallbiznis/facturio/internal/invoice"
	"github.com/smallbiznis/facturio/internal/ledger"
	"github.com/smallbiznis/facturio/internal/migration"
	"github.com/smallbiznis/facturio/internal/observability"
	"github.com/smallbiznis/facturio/internal/queue"
	"github.com/smallbiznis/facturio/internal/quota"
	"github.com/smallbiznis/facturio/internal/scheduler"
	"github.com/smallbiznis/facturio/internal/upload"
	"github.com/smallbiznis/facturio/internal/worker"
	"github.com/smallbiznis/facturio/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Pipeline domains
		account.Module,
		ledger.Module,
		invoice.Module,
		queue.Module,
		quota.Module,
		extract.Module,
		ingest.Module,
		upload.Module,
		scheduler.Module,
		worker.Module,
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
