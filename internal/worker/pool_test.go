package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smallbiznis/facturio/internal/extract"
	leddomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/queue"
)

type chanSource struct {
	items chan queue.Item
}

func (s *chanSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Item, error) {
	select {
	case item := <-s.items:
		return &item, nil
	case <-time.After(10 * time.Millisecond):
		return nil, queue.ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingLedger struct {
	mu         sync.Mutex
	markErr    error
	processing []string
	finalized  map[string]leddomain.Outcome
}

func (l *recordingLedger) MarkProcessing(_ context.Context, _ snowflake.ID, sourceID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	l.processing = append(l.processing, sourceID)
	return nil
}

func (l *recordingLedger) Finalize(_ context.Context, _ snowflake.ID, sourceID, _ string, outcome leddomain.Outcome, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized == nil {
		l.finalized = make(map[string]leddomain.Outcome)
	}
	l.finalized[sourceID] = outcome
	return nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	tasks []extract.Task
}

func (p *recordingProcessor) Process(_ context.Context, task extract.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

type stubFetcher struct {
	payload *extract.Payload
	err     error
}

func (f *stubFetcher) Fetch(context.Context, queue.Item) (*extract.Payload, error) {
	return f.payload, f.err
}

func runPoolFor(t *testing.T, pool *Pool, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	pool.Run(ctx)
}

func item(sourceID string) queue.Item {
	return queue.Item{TenantID: 7, SourceID: sourceID, Kind: queue.KindUploadedFile, Claimant: "c1"}
}

func TestPoolProcessesItems(t *testing.T) {
	source := &chanSource{items: make(chan queue.Item, 8)}
	ledger := &recordingLedger{}
	processor := &recordingProcessor{}
	fetcher := &stubFetcher{payload: &extract.Payload{BodyText: "x"}}
	pool := NewPool(Config{Workers: 3, PollTimeout: 10 * time.Millisecond}, source, ledger, processor, fetcher, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		source.items <- item("upload:" + string(rune('a'+i)))
	}
	runPoolFor(t, pool, 300*time.Millisecond)

	assert.Equal(t, 5, processor.count())
	assert.Len(t, ledger.processing, 5, "every task moved to processing before extraction")
}

func TestStaleClaimIsDropped(t *testing.T) {
	source := &chanSource{items: make(chan queue.Item, 1)}
	ledger := &recordingLedger{markErr: leddomain.ErrNotClaimed}
	processor := &recordingProcessor{}
	pool := NewPool(Config{Workers: 1, PollTimeout: 10 * time.Millisecond}, source, ledger, processor,
		&stubFetcher{payload: &extract.Payload{BodyText: "x"}}, zaptest.NewLogger(t))

	source.items <- item("upload:stale")
	runPoolFor(t, pool, 150*time.Millisecond)

	assert.Zero(t, processor.count(), "reassigned claims are never processed")
	assert.Empty(t, ledger.finalized)
}

func TestFetchFailureRequestsRetry(t *testing.T) {
	source := &chanSource{items: make(chan queue.Item, 1)}
	ledger := &recordingLedger{}
	processor := &recordingProcessor{}
	pool := NewPool(Config{Workers: 1, PollTimeout: 10 * time.Millisecond}, source, ledger, processor,
		&stubFetcher{err: errors.New("imap unreachable")}, zaptest.NewLogger(t))

	source.items <- item("imap:1:9")
	runPoolFor(t, pool, 150*time.Millisecond)

	assert.Zero(t, processor.count())
	require.Contains(t, ledger.finalized, "imap:1:9")
	assert.Equal(t, leddomain.OutcomeRetryRequested, ledger.finalized["imap:1:9"])
}

func TestEmptyPayloadFailsPermanently(t *testing.T) {
	source := &chanSource{items: make(chan queue.Item, 1)}
	ledger := &recordingLedger{}
	pool := NewPool(Config{Workers: 1, PollTimeout: 10 * time.Millisecond}, source, ledger, &recordingProcessor{},
		&stubFetcher{err: extract.ErrEmptyPayload}, zaptest.NewLogger(t))

	source.items <- item("upload:empty")
	runPoolFor(t, pool, 150*time.Millisecond)

	assert.Equal(t, leddomain.OutcomeFailed, ledger.finalized["upload:empty"])
}
