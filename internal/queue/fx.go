package queue

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/facturio/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(NewRedisClient),
	fx.Provide(ProvideQueue),
)

func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func ProvideQueue(client *redis.Client, cfg config.Config) *Queue {
	return New(client, cfg.QueueName)
}
