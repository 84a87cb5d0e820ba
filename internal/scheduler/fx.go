package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/ingest"
	ledgerrepo "github.com/smallbiznis/facturio/internal/ledger/repository"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideScheduler),
	fx.Invoke(RunScheduler),
)

func ProvideScheduler(cfg config.Config, runner *ingest.Runner, ledger *ledgerrepo.Ledger, clk clock.Clock, log *zap.Logger) *Scheduler {
	return New(Config{RunInterval: cfg.DiscoveryInterval}, runner, ledger, clk, log)
}

func RunScheduler(lc fx.Lifecycle, sched *Scheduler) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
