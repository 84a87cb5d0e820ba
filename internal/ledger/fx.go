package ledger

import (
	"github.com/smallbiznis/facturio/internal/config"
	"github.com/smallbiznis/facturio/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(ProvideConfig),
	fx.Provide(repository.NewLedger),
)

func ProvideConfig(cfg config.Config) repository.Config {
	return repository.Config{
		LeaseTTL:    cfg.LeaseTTL,
		MaxAttempts: cfg.MaxAttempts,
	}
}
