package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/discovery"
	"github.com/smallbiznis/facturio/internal/dispatch"
	ledgerdomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/mailbox"
	"github.com/smallbiznis/facturio/internal/matcher"
	"github.com/smallbiznis/facturio/internal/queue"
)

type stubSession struct {
	metas []matcher.MessageMetadata
	err   error
}

func (s *stubSession) FetchMetadata(context.Context, mailbox.ScanMode, *mailbox.Window) ([]matcher.MessageMetadata, error) {
	return s.metas, s.err
}
func (s *stubSession) FetchRaw(context.Context, uint32) ([]byte, error) {
	return nil, fmt.Errorf("discovery must not fetch bodies")
}
func (s *stubSession) Check(context.Context) error { return nil }
func (s *stubSession) Close() error                { return nil }

type stubDirectory struct {
	accounts []accountdomain.MailboxAccount
	rules    matcher.Rules
	err      error
}

func (d *stubDirectory) ListEnabled(_ context.Context, tenantID snowflake.ID, accountIDs []snowflake.ID) ([]accountdomain.MailboxAccount, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.accounts, nil
}

func (d *stubDirectory) RulesForTenant(context.Context, snowflake.ID) (matcher.Rules, error) {
	return d.rules, nil
}

type memoryLedger struct {
	mu     sync.Mutex
	claims map[string]bool
}

func (l *memoryLedger) TryClaim(_ context.Context, tenantID snowflake.ID, sourceID, _ string) (ledgerdomain.ClaimStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claims == nil {
		l.claims = make(map[string]bool)
	}
	key := tenantID.String() + "/" + sourceID
	if l.claims[key] {
		return ledgerdomain.ClaimAlreadyOwned, nil
	}
	l.claims[key] = true
	return ledgerdomain.ClaimGranted, nil
}

type memoryQueue struct {
	mu    sync.Mutex
	items []queue.Item
}

func (q *memoryQueue) Enqueue(_ context.Context, item queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type memoryLocker struct {
	mu     sync.Mutex
	holder string
}

func (l *memoryLocker) Acquire(_ context.Context, runID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false, nil
	}
	l.holder = runID
	return true, nil
}

func (l *memoryLocker) Release(_ context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == runID {
		l.holder = ""
	}
	return nil
}

func invoiceMetas(n int) []matcher.MessageMetadata {
	metas := make([]matcher.MessageMetadata, n)
	for i := range metas {
		metas[i] = matcher.MessageMetadata{
			UID:           uint32(i + 1),
			Subject:       fmt.Sprintf("Factura electronica %d", i+1),
			SenderAddress: "billing@proveedor.com",
			ReceivedAt:    time.Now(),
		}
	}
	return metas
}

type fixture struct {
	runner *Runner
	ledger *memoryLedger
	queue  *memoryQueue
	locker *memoryLocker
}

func newFixture(t *testing.T, cfg Config, dir *stubDirectory, sessions map[snowflake.ID]*stubSession) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	dial := func(_ context.Context, account accountdomain.MailboxAccount) (mailbox.Session, error) {
		s, ok := sessions[account.ID]
		if !ok {
			return nil, mailbox.ErrConnectionUnavailable
		}
		return s, nil
	}

	f := &fixture{
		ledger: &memoryLedger{},
		queue:  &memoryQueue{},
		locker: &memoryLocker{},
	}
	f.runner = NewRunner(cfg, dir,
		mailbox.NewManager(dial, mailbox.Config{Size: 2}, log),
		discovery.NewEngine(log),
		dispatch.NewDispatcher(f.ledger, f.queue, log),
		f.locker, log)
	return f
}

func account(id, tenant int64) accountdomain.MailboxAccount {
	return accountdomain.MailboxAccount{ID: snowflake.ID(id), TenantID: snowflake.ID(tenant), Enabled: true}
}

func TestManualRunEnqueuesMatches(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	f := newFixture(t, Config{GlobalRunCap: 100, PerAccountCap: 50}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(3)}})

	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{
		TenantID: 10, Trigger: TriggerManual, Mode: mailbox.ScanUnseen,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Enqueued)
	assert.Zero(t, summary.AlreadyOwned)
	assert.Len(t, f.queue.items, 3)
	assert.Equal(t, "imap:1:1", f.queue.items[0].SourceID)
}

func TestSecondRunSkipsClaimedSources(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	f := newFixture(t, Config{GlobalRunCap: 100, PerAccountCap: 50}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(3)}})

	_, err := f.runner.RunDiscovery(context.Background(), RunRequest{TenantID: 10, Trigger: TriggerManual})
	require.NoError(t, err)

	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{TenantID: 10, Trigger: TriggerManual})
	require.NoError(t, err)
	assert.Zero(t, summary.Enqueued)
	assert.Equal(t, 3, summary.AlreadyOwned)
	assert.Len(t, f.queue.items, 3, "no duplicates enqueued")
}

func TestManualLimitClampedToCeiling(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	f := newFixture(t, Config{GlobalRunCap: 500, PerAccountCap: 0, ManualLimitCeiling: 4}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(10)}})

	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{
		TenantID: 10, Trigger: TriggerManual, Limit: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Enqueued)
}

func TestAccountFailureIsIsolated(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10), account(2, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	// Account 2 has no session: every dial fails.
	f := newFixture(t, Config{GlobalRunCap: 100, PerAccountCap: 50}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(2)}})

	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{TenantID: 10, Trigger: TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Enqueued, "healthy account unaffected")
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, snowflake.ID(2), summary.Errors[0].AccountID)
}

func TestScheduledRunsSerializeThroughLock(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	f := newFixture(t, Config{GlobalRunCap: 100, PerAccountCap: 50}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(1)}})

	f.locker.holder = "someone-else"

	_, err := f.runner.RunDiscovery(context.Background(), RunRequest{Trigger: TriggerScheduled})
	assert.ErrorIs(t, err, ErrRunInProgress)

	f.locker.holder = ""
	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{Trigger: TriggerScheduled})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Empty(t, f.locker.holder, "lock released after the run")
}

func TestManualRunsDoNotTakeTheLock(t *testing.T) {
	dir := &stubDirectory{
		accounts: []accountdomain.MailboxAccount{account(1, 10)},
		rules:    matcher.Rules{Terms: []string{"factura"}},
	}
	f := newFixture(t, Config{GlobalRunCap: 100, PerAccountCap: 50}, dir,
		map[snowflake.ID]*stubSession{1: {metas: invoiceMetas(1)}})
	f.locker.holder = "scheduled-run"

	summary, err := f.runner.RunDiscovery(context.Background(), RunRequest{TenantID: 10, Trigger: TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enqueued)
}
