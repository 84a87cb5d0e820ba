// Package discovery performs the cheap metadata-only scan over a mailbox.
// It reads and yields; all side effects happen downstream in the ledger.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/matcher"
	obsmetrics "github.com/smallbiznis/facturio/internal/observability/metrics"
	"go.uber.org/zap"
)

// SourceCandidate is a message tentatively identified as an invoice carrier.
// It is a transient discovery artifact, never persisted; the ledger row is
// created only by a successful claim.
type SourceCandidate struct {
	TenantID    snowflake.ID
	AccountID   snowflake.ID
	SourceID    string
	UID         uint32
	Subject     string
	Sender      string
	ReceivedAt  time.Time
	MatchSource matcher.MatchSource
	MatchTerm   string
}

// SourceIDFor derives the stable source identifier for a mailbox message:
// mailbox identity plus protocol UID.
func SourceIDFor(accountID snowflake.ID, uid uint32) string {
	return fmt.Sprintf("imap:%s:%d", accountID, uid)
}

// YieldFunc receives candidates as they are found. Returning false stops the
// scan early (e.g. when a dispatch cap is reached).
type YieldFunc func(SourceCandidate) bool

type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log.Named("discovery")}
}

// Discover scans one mailbox with protocol-level metadata only, applies the
// matcher, and yields a candidate per match. It never fetches full bodies
// and never mutates persisted state.
func (e *Engine) Discover(
	ctx context.Context,
	session mailbox.Session,
	account accountdomain.MailboxAccount,
	rules matcher.Rules,
	mode mailbox.ScanMode,
	window *mailbox.Window,
	yield YieldFunc,
) error {
	metas, err := session.FetchMetadata(ctx, mode, window)
	if err != nil {
		return err
	}

	pipeMetrics := obsmetrics.Pipeline()
	matched := 0
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		match, ok := matcher.Matches(meta, rules)
		if !ok {
			continue
		}
		matched++
		pipeMetrics.IncCandidateDiscovered(string(match.Source))

		candidate := SourceCandidate{
			TenantID:    account.TenantID,
			AccountID:   account.ID,
			SourceID:    SourceIDFor(account.ID, meta.UID),
			UID:         meta.UID,
			Subject:     meta.Subject,
			Sender:      meta.SenderAddress,
			ReceivedAt:  meta.ReceivedAt,
			MatchSource: match.Source,
			MatchTerm:   match.Term,
		}
		if !yield(candidate) {
			break
		}
	}

	e.log.Debug("scan finished",
		zap.String("account_id", account.ID.String()),
		zap.String("mode", string(mode)),
		zap.Int("scanned", len(metas)),
		zap.Int("matched", matched),
	)
	return nil
}
