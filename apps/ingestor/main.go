// Command ingestor runs the discovery side only: scheduled mailbox scans,
// claiming, and enqueueing. Extraction is left to the worker binary.
package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/facturio/internal/account"
	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/ingest"
	"github.com/smallbiznis/facturio/internal/ledger"
	"github.com/smallbiznis/facturio/internal/migration"
	"github.com/smallbiznis/facturio/internal/observability"
	"github.com/smallbiznis/facturio/internal/queue"
	"github.com/smallbiznis/facturio/internal/scheduler"
	"github.com/smallbiznis/facturio/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		account.Module,
		ledger.Module,
		queue.Module,
		ingest.Module,
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
