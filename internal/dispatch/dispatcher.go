// Package dispatch turns discovered candidates into claimed, enqueued work
// items, enforcing the run's global cap and a per-account cap so one noisy
// mailbox cannot starve its siblings.
package dispatch

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facturio/internal/discovery"
	ledgerdomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/facturio/internal/observability/metrics"
	"github.com/smallbiznis/facturio/internal/queue"
	"go.uber.org/zap"
)

// Result tells the caller why a candidate did or did not enqueue.
type Result string

const (
	ResultEnqueued      Result = "enqueued"
	ResultAlreadyOwned  Result = "already_owned"
	ResultGlobalCapHit  Result = "global_cap"
	ResultAccountCapHit Result = "account_cap"
)

// Claimer is the ledger surface the dispatcher depends on.
type Claimer interface {
	TryClaim(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string) (ledgerdomain.ClaimStatus, error)
}

// Enqueuer is the queue surface the dispatcher depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) error
}

type Dispatcher struct {
	ledger Claimer
	queue  Enqueuer
	log    *zap.Logger
}

func NewDispatcher(ledger Claimer, q Enqueuer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ledger: ledger,
		queue:  q,
		log:    log.Named("dispatch"),
	}
}

// AccountBudget is the per-account counter for one run. It lives on the
// goroutine scanning that account, so it needs no synchronization; the
// shared global budget lives in Caps.
type AccountBudget struct {
	Cap      int
	Enqueued int
}

// Exhausted reports whether this account used up its share of the run.
func (b *AccountBudget) Exhausted() bool {
	return b.Cap > 0 && b.Enqueued >= b.Cap
}

// Dispatch claims one candidate and, on success, enqueues it. The global
// budget counts enqueued items: a contended claim refunds its unit. Claims
// already committed are never rolled back when a cap stops the run.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	candidate discovery.SourceCandidate,
	mode string,
	claimant string,
	caps *Caps,
	budget *AccountBudget,
) (Result, error) {
	if budget != nil && budget.Exhausted() {
		return ResultAccountCapHit, nil
	}
	if !caps.TryAcquire() {
		return ResultGlobalCapHit, nil
	}

	pipeMetrics := obsmetrics.Pipeline()
	status, err := d.ledger.TryClaim(ctx, candidate.TenantID, candidate.SourceID, claimant)
	if err != nil {
		caps.Release()
		return "", err
	}
	if status == ledgerdomain.ClaimAlreadyOwned {
		// Expected contention: another trigger path won. Not an error.
		caps.Release()
		pipeMetrics.IncClaimContended(mode)
		return ResultAlreadyOwned, nil
	}
	pipeMetrics.IncClaimGranted(mode)

	item := queue.Item{
		TenantID:   candidate.TenantID,
		SourceID:   candidate.SourceID,
		AccountID:  candidate.AccountID,
		UID:        candidate.UID,
		Kind:       queue.KindMailboxMessage,
		Claimant:   claimant,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		// The claim stands; the lease sweep will recover it if no retry
		// path picks it up first.
		d.log.Error("enqueue failed after claim",
			zap.String("source_id", candidate.SourceID),
			zap.Error(err),
		)
		return "", err
	}

	if budget != nil {
		budget.Enqueued++
	}
	pipeMetrics.IncItemEnqueued(mode)
	return ResultEnqueued, nil
}
