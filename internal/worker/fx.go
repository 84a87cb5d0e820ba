package worker

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	accountrepo "github.com/smallbiznis/facturio/internal/account/repository"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/extract"
	ledgerrepo "github.com/smallbiznis/facturio/internal/ledger/repository"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/queue"
	uploadrepo "github.com/smallbiznis/facturio/internal/upload/repository"
)

// Module wires the extraction worker pool.
var Module = fx.Module("worker",
	fx.Provide(
		ProvideFetcher,
		ProvidePool,
	),
	fx.Invoke(RunPool),
)

func ProvideFetcher(accounts *accountrepo.Repository, manager *mailbox.Manager, blobs *uploadrepo.Repository) *PayloadFetcher {
	return NewPayloadFetcher(accounts, manager, blobs)
}

func ProvidePool(cfg config.Config, q *queue.Queue, ledger *ledgerrepo.Ledger, engine *extract.Engine, fetcher *PayloadFetcher, log *zap.Logger) *Pool {
	return NewPool(Config{Workers: cfg.WorkerCount}, q, ledger, engine, fetcher, log)
}

// RunPool ties the pool to the application lifecycle.
func RunPool(lc fx.Lifecycle, pool *Pool) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				pool.Run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
