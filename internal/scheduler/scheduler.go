// Package scheduler drives the pipeline's periodic work: the scheduled
// discovery tick and the lease reclamation sweep. Each tick runs every job
// with its own timeout; one slow or failing job never starves the others.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/ingest"
	"github.com/smallbiznis/facturio/internal/mailbox"
	obsmetrics "github.com/smallbiznis/facturio/internal/observability/metrics"
)

// DiscoveryRunner starts a full scheduled discovery run.
type DiscoveryRunner interface {
	RunDiscovery(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error)
}

// LeaseSweeper requeues records whose claim lease expired.
type LeaseSweeper interface {
	ReclaimExpired(ctx context.Context, limit int) (int64, error)
}

type Scheduler struct {
	cfg    Config
	runner DiscoveryRunner
	ledger LeaseSweeper
	clock  clock.Clock
	log    *zap.Logger
}

func New(cfg Config, runner DiscoveryRunner, ledger LeaseSweeper, clk clock.Clock, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		runner: runner,
		ledger: ledger,
		clock:  clk,
		log:    log.Named("scheduler"),
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	if err == nil {
		log.Debug("job finished", zap.Duration("elapsed", elapsed))
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", timeout))
		return err
	}
	log.Warn("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	return err
}

// DiscoveryJob runs one scheduled discovery pass over every enabled
// account. A run already in progress elsewhere is not an error.
func (s *Scheduler) DiscoveryJob(ctx context.Context) error {
	summary, err := s.runner.RunDiscovery(ctx, ingest.RunRequest{
		Trigger: ingest.TriggerScheduled,
		Mode:    mailbox.ScanUnseen,
	})
	if errors.Is(err, ingest.ErrRunInProgress) {
		s.log.Info("discovery skipped, previous run still holds the lock")
		return nil
	}
	if err != nil {
		return err
	}
	for _, accountErr := range summary.Errors {
		s.log.Warn("account scan failed during scheduled run",
			zap.String("run_id", summary.RunID),
			zap.String("account_id", accountErr.AccountID.String()),
			zap.Error(accountErr.Err))
	}
	return nil
}

// ReclaimJob sweeps expired leases back into the claimable pool.
func (s *Scheduler) ReclaimJob(ctx context.Context) error {
	reclaimed, err := s.ledger.ReclaimExpired(ctx, s.cfg.ReclaimBatchSize)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		pipeMetrics := obsmetrics.Pipeline()
		for i := int64(0); i < reclaimed; i++ {
			pipeMetrics.IncLeaseReclaimed()
		}
		s.log.Info("expired leases reclaimed", zap.Int64("count", reclaimed))
	}
	return nil
}

// RunOnce executes every enabled job for one tick.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"discovery", s.cfg.DiscoveryTimeout, s.DiscoveryJob},
		{"reclaim_leases", s.cfg.ReclaimTimeout, s.ReclaimJob},
	}
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
		}
	}
	return err
}

// RunForever ticks until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler tick had failures", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	for _, disabled := range s.cfg.DisabledJobs {
		if disabled == name {
			return false
		}
	}
	return true
}
