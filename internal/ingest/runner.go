// Package ingest orchestrates one discovery run: resolve the mailbox
// accounts in scope, scan each on its own goroutine, and hand every match to
// the dispatcher under the run's caps. Both trigger paths, the scheduler
// tick and the manual request, converge here and behave identically past
// the entry point.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/discovery"
	"github.com/smallbiznis/facturio/internal/dispatch"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/matcher"
	obsmetrics "github.com/smallbiznis/facturio/internal/observability/metrics"
)

// TriggerMode names which path started the run.
type TriggerMode string

const (
	TriggerScheduled TriggerMode = "scheduled"
	TriggerManual    TriggerMode = "manual"
)

// ErrRunInProgress means a scheduled run is already holding the run lock.
var ErrRunInProgress = errors.New("discovery_run_in_progress")

// AccountDirectory is the account storage surface the runner needs.
type AccountDirectory interface {
	ListEnabled(ctx context.Context, tenantID snowflake.ID, accountIDs []snowflake.ID) ([]accountdomain.MailboxAccount, error)
	RulesForTenant(ctx context.Context, tenantID snowflake.ID) (matcher.Rules, error)
}

// SessionProvider hands out the connection pool for an account.
type SessionProvider interface {
	PoolFor(account accountdomain.MailboxAccount) *mailbox.Pool
}

// RunRequest scopes one discovery run. A zero TenantID with no AccountIDs
// means every enabled account, which is what the scheduler asks for.
type RunRequest struct {
	TenantID   snowflake.ID
	AccountIDs []snowflake.ID
	Trigger    TriggerMode
	Mode       mailbox.ScanMode
	Window     *mailbox.Window
	Limit      int
}

// AccountError is a per-account failure that did not stop the run.
type AccountError struct {
	AccountID snowflake.ID
	Err       error
}

// RunSummary is what a run reports back.
type RunSummary struct {
	RunID        string
	Accounts     int
	Enqueued     int
	AlreadyOwned int
	Errors       []AccountError
}

// Config bounds every run.
type Config struct {
	GlobalRunCap       int
	PerAccountCap      int
	ManualLimitCeiling int
}

func (c Config) withDefaults() Config {
	if c.ManualLimitCeiling <= 0 {
		c.ManualLimitCeiling = 200
	}
	return c
}

type Runner struct {
	cfg        Config
	accounts   AccountDirectory
	sessions   SessionProvider
	discovery  *discovery.Engine
	dispatcher *dispatch.Dispatcher
	locker     Locker
	log        *zap.Logger
}

func NewRunner(
	cfg Config,
	accounts AccountDirectory,
	sessions SessionProvider,
	discoveryEngine *discovery.Engine,
	dispatcher *dispatch.Dispatcher,
	locker Locker,
	log *zap.Logger,
) *Runner {
	return &Runner{
		cfg:        cfg.withDefaults(),
		accounts:   accounts,
		sessions:   sessions,
		discovery:  discoveryEngine,
		dispatcher: dispatcher,
		locker:     locker,
		log:        log.Named("ingest"),
	}
}

// RunDiscovery executes one run. Scheduled runs are serialized through the
// run lock; manual runs are not, they only race through the claim ledger.
func (r *Runner) RunDiscovery(ctx context.Context, req RunRequest) (RunSummary, error) {
	runID := uuid.NewString()
	summary := RunSummary{RunID: runID}

	if req.Trigger == TriggerScheduled && r.locker != nil {
		acquired, err := r.locker.Acquire(ctx, runID)
		if err != nil {
			return summary, err
		}
		if !acquired {
			return summary, ErrRunInProgress
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), runID); err != nil {
				r.log.Warn("run lock release failed", zap.String("run_id", runID), zap.Error(err))
			}
		}()
	}

	accounts, err := r.accounts.ListEnabled(ctx, req.TenantID, req.AccountIDs)
	if err != nil {
		return summary, err
	}
	summary.Accounts = len(accounts)
	if len(accounts) == 0 {
		return summary, nil
	}

	caps := dispatch.NewCaps(r.capFor(req))
	claimant := "ingest:" + runID

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, account := range accounts {
		wg.Add(1)
		go func(account accountdomain.MailboxAccount) {
			defer wg.Done()
			enqueued, owned, err := r.scanAccount(ctx, account, req, caps, claimant)
			mu.Lock()
			summary.Enqueued += enqueued
			summary.AlreadyOwned += owned
			if err != nil {
				summary.Errors = append(summary.Errors, AccountError{AccountID: account.ID, Err: err})
			}
			mu.Unlock()
		}(account)
	}
	wg.Wait()

	r.log.Info("discovery run finished",
		zap.String("run_id", runID),
		zap.String("trigger", string(req.Trigger)),
		zap.Int("accounts", summary.Accounts),
		zap.Int("enqueued", summary.Enqueued),
		zap.Int("already_owned", summary.AlreadyOwned),
		zap.Int("account_errors", len(summary.Errors)),
	)
	return summary, nil
}

// capFor picks the run's global budget. Manual limits are a courtesy to the
// caller and never exceed the ceiling.
func (r *Runner) capFor(req RunRequest) int {
	if req.Trigger == TriggerManual {
		limit := req.Limit
		if limit <= 0 || limit > r.cfg.ManualLimitCeiling {
			limit = r.cfg.ManualLimitCeiling
		}
		return limit
	}
	return r.cfg.GlobalRunCap
}

// scanAccount runs discovery for one account. Failures here are isolated:
// they land in the run summary without touching other accounts.
func (r *Runner) scanAccount(
	ctx context.Context,
	account accountdomain.MailboxAccount,
	req RunRequest,
	caps *dispatch.Caps,
	claimant string,
) (enqueued, alreadyOwned int, err error) {
	rules, err := r.accounts.RulesForTenant(ctx, account.TenantID)
	if err != nil {
		return 0, 0, err
	}

	pool := r.sessions.PoolFor(account)
	session, err := pool.Acquire(ctx)
	if err != nil {
		obsmetrics.Pipeline().IncDiscoveryError(errorClass(err))
		return 0, 0, err
	}
	healthy := true
	defer func() { pool.Release(session, healthy) }()

	budget := &dispatch.AccountBudget{Cap: r.cfg.PerAccountCap}
	scanErr := r.discovery.Discover(ctx, session, account, rules, req.Mode, req.Window, func(candidate discovery.SourceCandidate) bool {
		result, dispatchErr := r.dispatcher.Dispatch(ctx, candidate, string(req.Trigger), claimant, caps, budget)
		if dispatchErr != nil {
			if err == nil {
				err = dispatchErr
			}
			return true
		}
		switch result {
		case dispatch.ResultAlreadyOwned:
			alreadyOwned++
		case dispatch.ResultGlobalCapHit, dispatch.ResultAccountCapHit:
			return false
		}
		return true
	})
	enqueued = budget.Enqueued
	if scanErr != nil {
		healthy = !errors.Is(scanErr, mailbox.ErrTransientIO) && !errors.Is(scanErr, mailbox.ErrConnectionUnavailable)
		obsmetrics.Pipeline().IncDiscoveryError(errorClass(scanErr))
		return enqueued, alreadyOwned, scanErr
	}
	return enqueued, alreadyOwned, err
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, mailbox.ErrAuthentication):
		return "auth"
	case errors.Is(err, mailbox.ErrConnectionUnavailable):
		return "connection"
	case errors.Is(err, mailbox.ErrTransientIO):
		return "io"
	default:
		return "other"
	}
}
