package quota

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/facturio/internal/clock"
	"go.uber.org/fx"
)

const defaultMonthlyAllowance = 100

var Module = fx.Module("quota",
	fx.Provide(func(client *redis.Client, clk clock.Clock) Service {
		return NewRedisService(client, clk, defaultMonthlyAllowance)
	}),
)
