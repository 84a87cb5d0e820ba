package upload

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	ledgerrepo "github.com/smallbiznis/facturio/internal/ledger/repository"
	"github.com/smallbiznis/facturio/internal/queue"
	"github.com/smallbiznis/facturio/internal/upload/repository"
	"github.com/smallbiznis/facturio/internal/upload/service"
)

// Module wires the manual upload path.
var Module = fx.Module("upload",
	fx.Provide(
		repository.NewRepository,
		ProvideService,
	),
)

func ProvideService(repo *repository.Repository, ledger *ledgerrepo.Ledger, q *queue.Queue, clk clock.Clock, log *zap.Logger) *service.Service {
	return service.NewService(repo, ledger, q, clk, log)
}
