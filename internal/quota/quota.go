// Package quota meters AI-vision extraction against each tenant's monthly
// allowance. The pipeline only reads and decrements through this interface;
// allowance ownership lives with subscription logic elsewhere.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/facturio/internal/clock"
)

// Service exposes the tenant AI extraction budget.
type Service interface {
	Remaining(ctx context.Context, tenantID snowflake.ID) (int, error)
	Consume(ctx context.Context, tenantID snowflake.ID, n int) error
}

const (
	usedKeyFormat    = "facturio:quota:used:%s:%s"
	allowanceHashKey = "facturio:quota:allowance"
)

// RedisService tracks per-tenant monthly usage in redis. Allowance overrides
// live in a hash maintained by the billing side; absent tenants fall back to
// the default allowance.
type RedisService struct {
	client           *redis.Client
	clock            clock.Clock
	defaultAllowance int
}

func NewRedisService(client *redis.Client, clk clock.Clock, defaultAllowance int) *RedisService {
	return &RedisService{
		client:           client,
		clock:            clk,
		defaultAllowance: defaultAllowance,
	}
}

func (s *RedisService) Remaining(ctx context.Context, tenantID snowflake.ID) (int, error) {
	allowance, err := s.allowance(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	used, err := s.client.Get(ctx, s.usedKey(tenantID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}

	remaining := allowance - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *RedisService) Consume(ctx context.Context, tenantID snowflake.ID, n int) error {
	if n <= 0 {
		return nil
	}
	key := s.usedKey(tenantID)
	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(n))
	// Usage counters expire well after the period ends; the period is part
	// of the key, so stale counters are never misread.
	pipe.Expire(ctx, key, 40*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisService) allowance(ctx context.Context, tenantID snowflake.ID) (int, error) {
	raw, err := s.client.HGet(ctx, allowanceHashKey, tenantID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return s.defaultAllowance, nil
	}
	if err != nil {
		return 0, err
	}
	allowance, err := strconv.Atoi(raw)
	if err != nil {
		return s.defaultAllowance, nil
	}
	return allowance, nil
}

func (s *RedisService) usedKey(tenantID snowflake.ID) string {
	return fmt.Sprintf(usedKeyFormat, tenantID, PeriodKey(s.clock.Now()))
}

// PeriodKey names the monthly quota window for a point in time.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
