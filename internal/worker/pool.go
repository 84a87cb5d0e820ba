// Package worker drains the extraction queue with a fixed pool of
// goroutines. Each item is moved to processing under its claim before any
// bytes are fetched, so a crashed worker leaves a lease for the sweep to
// reclaim instead of a lost document.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/extract"
	leddomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/queue"
)

// Source is the queue surface the pool consumes.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Item, error)
}

// Ledger is the slice of the processing ledger the pool needs.
type Ledger interface {
	MarkProcessing(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string) error
	Finalize(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string, outcome leddomain.Outcome, lastError string) error
}

// Processor runs the extraction tiers for one task.
type Processor interface {
	Process(ctx context.Context, task extract.Task) error
}

// Fetcher resolves an item's payload.
type Fetcher interface {
	Fetch(ctx context.Context, item queue.Item) (*extract.Payload, error)
}

// Config sizes the pool.
type Config struct {
	Workers     int
	PollTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	return c
}

type Pool struct {
	cfg     Config
	source  Source
	ledger  Ledger
	engine  Processor
	fetcher Fetcher
	log     *zap.Logger
}

func NewPool(cfg Config, source Source, ledger Ledger, engine Processor, fetcher Fetcher, log *zap.Logger) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		source:  source,
		ledger:  ledger,
		engine:  engine,
		fetcher: fetcher,
		log:     log.Named("worker"),
	}
}

// Run blocks until ctx is cancelled, consuming items on Workers goroutines.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) {
	log := p.log.With(zap.Int("worker", n))
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := p.source.Dequeue(ctx, p.cfg.PollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", zap.Error(err))
			continue
		}
		p.handle(ctx, log, *item)
	}
}

func (p *Pool) handle(ctx context.Context, log *zap.Logger, item queue.Item) {
	// The claim must still be live. Losing this race to the lease sweep
	// means another worker owns the document now.
	if err := p.ledger.MarkProcessing(ctx, item.TenantID, item.SourceID, item.Claimant); err != nil {
		if errors.Is(err, leddomain.ErrNotClaimed) {
			log.Info("stale queue item, claim reassigned", zap.String("source_id", item.SourceID))
			return
		}
		log.Error("mark processing failed", zap.String("source_id", item.SourceID), zap.Error(err))
		return
	}

	payload, err := p.fetcher.Fetch(ctx, item)
	if err != nil {
		outcome := leddomain.OutcomeRetryRequested
		if errors.Is(err, extract.ErrEmptyPayload) || errors.Is(err, mailbox.ErrAuthentication) {
			outcome = leddomain.OutcomeFailed
		}
		log.Warn("payload fetch failed",
			zap.String("source_id", item.SourceID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		if finErr := p.ledger.Finalize(ctx, item.TenantID, item.SourceID, item.Claimant, outcome, err.Error()); finErr != nil {
			log.Error("finalize after fetch failure failed", zap.Error(finErr))
		}
		return
	}

	if err := p.engine.Process(ctx, extract.Task{
		TenantID: item.TenantID,
		SourceID: item.SourceID,
		Claimant: item.Claimant,
		Payload:  payload,
	}); err != nil {
		// The engine already finalized the ledger record; this is
		// operator visibility only.
		log.Warn("extraction unsuccessful", zap.String("source_id", item.SourceID), zap.Error(err))
	}
}
