// Package domain holds the processing ledger state machine. One record per
// (tenant, source) is the single source of truth for whether a document has
// already been handled, regardless of which trigger path saw it first.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RecordState is a ProcessingRecord lifecycle state.
type RecordState string

const (
	StateDiscovered     RecordState = "discovered"
	StateClaimed        RecordState = "claimed"
	StateProcessing     RecordState = "processing"
	StateCompleted      RecordState = "completed"
	StateFailed         RecordState = "failed"
	StateSkippedQuota   RecordState = "skipped_quota"
	StateRetryRequested RecordState = "retry_requested"
)

// ClaimableStates are the states a new claim may be granted from. A record
// in claimed or processing is only re-claimable once its lease expires.
func ClaimableStates() []RecordState {
	return []RecordState{StateDiscovered, StateSkippedQuota, StateRetryRequested}
}

// ClaimStatus is the result of a claim attempt. Contention is an expected
// concurrency outcome, not an error.
type ClaimStatus string

const (
	ClaimGranted      ClaimStatus = "claimed"
	ClaimAlreadyOwned ClaimStatus = "already_owned"
)

// Outcome is a finalization verdict for a claimed record.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeSkippedQuota   Outcome = "skipped_quota"
	OutcomeRetryRequested Outcome = "retry_requested"
)

// ProcessingRecord is the ledger's unit of truth. Records are never deleted;
// terminal rows double as duplicate-suppression history.
type ProcessingRecord struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"not null;uniqueIndex:ux_processing_tenant_source"`
	SourceID     string       `gorm:"type:text;not null;uniqueIndex:ux_processing_tenant_source"`
	State        RecordState  `gorm:"type:text;not null;index"`
	Claimant     string       `gorm:"type:text"`
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	AttemptCount int    `gorm:"not null;default:0"`
	LastError    string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName sets the database table name.
func (ProcessingRecord) TableName() string { return "processing_records" }

var (
	ErrRecordNotFound = errors.New("processing_record_not_found")
	ErrNotClaimed     = errors.New("record_not_in_claimed_state")
	ErrInvalidOutcome = errors.New("invalid_finalize_outcome")
)
