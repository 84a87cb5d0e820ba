// Package repository implements the idempotency ledger over gorm. Every
// mutation is a single conditional write, so two callers racing on the same
// (tenant, source) can never both win.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facturio/internal/clock"
	"github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/pkg/db"
	"gorm.io/gorm"
)

// Config bounds lease lifetime and the retry budget. One policy applies to
// every trigger path.
type Config struct {
	LeaseTTL    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		LeaseTTL:    15 * time.Minute,
		MaxAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	return c
}

type Ledger struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
	cfg   Config
}

func NewLedger(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock, cfg Config) *Ledger {
	return &Ledger{
		db:    conn,
		genID: genID,
		clock: clk,
		cfg:   cfg.withDefaults(),
	}
}

// TryClaim performs the atomic claim protocol. A claim is granted when no
// record exists, when the record sits in a claimable state, or when a prior
// claim's lease has expired. Everything else observes AlreadyOwned.
func (l *Ledger) TryClaim(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string) (domain.ClaimStatus, error) {
	now := l.clock.Now()
	leaseCutoff := now.Add(-l.cfg.LeaseTTL)

	res := l.db.WithContext(ctx).Exec(
		`UPDATE processing_records
		 SET state = ?, claimant = ?, claimed_at = ?, last_error = '', updated_at = ?
		 WHERE tenant_id = ? AND source_id = ?
		   AND attempt_count < ?
		   AND (
		     state IN ?
		     OR (state IN ? AND claimed_at IS NOT NULL AND claimed_at <= ?)
		   )`,
		domain.StateClaimed, claimant, now, now,
		tenantID, sourceID,
		l.cfg.MaxAttempts,
		claimableStateStrings(),
		[]string{string(domain.StateClaimed), string(domain.StateProcessing)},
		leaseCutoff,
	)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return domain.ClaimGranted, nil
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&domain.ProcessingRecord{}).
		Where("tenant_id = ? AND source_id = ?", tenantID, sourceID).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return domain.ClaimAlreadyOwned, nil
	}

	record := domain.ProcessingRecord{
		ID:        l.genID.Generate(),
		TenantID:  tenantID,
		SourceID:  sourceID,
		State:     domain.StateClaimed,
		Claimant:  claimant,
		ClaimedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost the insert race. The winner holds the claim.
			return domain.ClaimAlreadyOwned, nil
		}
		return "", err
	}
	return domain.ClaimGranted, nil
}

// MarkProcessing transitions claimed -> processing for the holding claimant.
func (l *Ledger) MarkProcessing(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string) error {
	res := l.db.WithContext(ctx).Exec(
		`UPDATE processing_records
		 SET state = ?, updated_at = ?
		 WHERE tenant_id = ? AND source_id = ? AND state = ? AND claimant = ?`,
		domain.StateProcessing, l.clock.Now(),
		tenantID, sourceID, domain.StateClaimed, claimant,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

// Finalize settles a live claim. A retry request that exhausts the attempt
// budget lands in failed instead. Quota skips do not consume the budget;
// they are a deliberate non-error outcome.
func (l *Ledger) Finalize(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string, outcome domain.Outcome, lastError string) error {
	finalState, ok := finalStateFor(outcome)
	if !ok {
		return domain.ErrInvalidOutcome
	}
	now := l.clock.Now()

	res := l.db.WithContext(ctx).Exec(
		`UPDATE processing_records
		 SET state = CASE
		       WHEN ? = 'retry_requested' AND attempt_count + 1 >= ? THEN 'failed'
		       ELSE ?
		     END,
		     attempt_count = attempt_count + CASE WHEN ? = 'skipped_quota' THEN 0 ELSE 1 END,
		     completed_at = CASE WHEN ? = 'completed' THEN ? ELSE completed_at END,
		     last_error = ?,
		     updated_at = ?
		 WHERE tenant_id = ? AND source_id = ? AND claimant = ? AND state IN ?`,
		string(outcome), l.cfg.MaxAttempts, string(finalState),
		string(outcome),
		string(outcome), now,
		lastError,
		now,
		tenantID, sourceID, claimant,
		[]string{string(domain.StateClaimed), string(domain.StateProcessing)},
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

// ReclaimExpired force-releases claims held past the lease TTL. An abandoned
// worker is treated the same as a crashed one: the record returns to the
// claimable set without consuming retry budget.
func (l *Ledger) ReclaimExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := l.clock.Now().Add(-l.cfg.LeaseTTL)

	res := l.db.WithContext(ctx).Exec(
		`UPDATE processing_records
		 SET state = ?, claimant = '', last_error = 'lease expired', updated_at = ?
		 WHERE id IN (
		   SELECT id FROM processing_records
		   WHERE state IN ? AND claimed_at IS NOT NULL AND claimed_at <= ?
		   LIMIT ?
		 )`,
		domain.StateRetryRequested, l.clock.Now(),
		[]string{string(domain.StateClaimed), string(domain.StateProcessing)},
		cutoff,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Get loads one record for operator inspection.
func (l *Ledger) Get(ctx context.Context, tenantID snowflake.ID, sourceID string) (*domain.ProcessingRecord, error) {
	var record domain.ProcessingRecord
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantID, sourceID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByState returns records in the given state, oldest first.
func (l *Ledger) ListByState(ctx context.Context, tenantID snowflake.ID, state domain.RecordState, limit int) ([]domain.ProcessingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []domain.ProcessingRecord
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND state = ?", tenantID, state).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func claimableStateStrings() []string {
	states := domain.ClaimableStates()
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func finalStateFor(outcome domain.Outcome) (domain.RecordState, bool) {
	switch outcome {
	case domain.OutcomeCompleted:
		return domain.StateCompleted, true
	case domain.OutcomeFailed:
		return domain.StateFailed, true
	case domain.OutcomeSkippedQuota:
		return domain.StateSkippedQuota, true
	case domain.OutcomeRetryRequested:
		return domain.StateRetryRequested, true
	default:
		return "", false
	}
}
