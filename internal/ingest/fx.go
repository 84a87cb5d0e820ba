package ingest

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	accountrepo "github.com/smallbiznis/facturio/internal/account/repository"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/discovery"
	"github.com/smallbiznis/facturio/internal/dispatch"
	ledgerrepo "github.com/smallbiznis/facturio/internal/ledger/repository"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/queue"
)

// Module wires the discovery run orchestration: connection pools, the scan
// engine, the dispatcher and the runner itself.
var Module = fx.Module("ingest",
	fx.Provide(
		NewSessionManager,
		NewDiscoveryEngine,
		NewDispatcher,
		NewLocker,
		ProvideRunner,
	),
)

func NewSessionManager(lc fx.Lifecycle, log *zap.Logger) *mailbox.Manager {
	manager := mailbox.NewManager(mailbox.DialIMAP, mailbox.Config{}, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			manager.Close()
			return nil
		},
	})
	return manager
}

func NewDiscoveryEngine(log *zap.Logger) *discovery.Engine {
	return discovery.NewEngine(log)
}

func NewDispatcher(ledger *ledgerrepo.Ledger, q *queue.Queue, log *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(ledger, q, log)
}

func NewLocker(cfg config.Config, client *redis.Client) Locker {
	return NewRedisLocker(client, cfg.DiscoveryInterval*3)
}

func ProvideRunner(
	cfg config.Config,
	accounts *accountrepo.Repository,
	manager *mailbox.Manager,
	discoveryEngine *discovery.Engine,
	dispatcher *dispatch.Dispatcher,
	locker Locker,
	log *zap.Logger,
) *Runner {
	return NewRunner(Config{
		GlobalRunCap:       cfg.GlobalRunCap,
		PerAccountCap:      cfg.PerAccountCap,
		ManualLimitCeiling: cfg.ManualLimitCeiling,
	}, accounts, manager, discoveryEngine, dispatcher, locker, log)
}
