package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smallbiznis/facturio/internal/clock"
	ledgerdomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/queue"
	"github.com/smallbiznis/facturio/internal/upload/domain"
)

type memStore struct {
	docs map[string]*domain.StoredDocument
}

func (s *memStore) Save(_ context.Context, doc *domain.StoredDocument) error {
	if s.docs == nil {
		s.docs = make(map[string]*domain.StoredDocument)
	}
	s.docs[doc.SourceID] = doc
	return nil
}

type memClaimer struct {
	claims map[string]bool
}

func (c *memClaimer) TryClaim(_ context.Context, _ snowflake.ID, sourceID, _ string) (ledgerdomain.ClaimStatus, error) {
	if c.claims == nil {
		c.claims = make(map[string]bool)
	}
	if c.claims[sourceID] {
		return ledgerdomain.ClaimAlreadyOwned, nil
	}
	c.claims[sourceID] = true
	return ledgerdomain.ClaimGranted, nil
}

type memEnqueuer struct {
	items []queue.Item
}

func (e *memEnqueuer) Enqueue(_ context.Context, item queue.Item) error {
	e.items = append(e.items, item)
	return nil
}

func newService(t *testing.T) (*Service, *memStore, *memClaimer, *memEnqueuer) {
	store := &memStore{}
	claimer := &memClaimer{}
	enqueuer := &memEnqueuer{}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	return NewService(store, claimer, enqueuer, clk, zaptest.NewLogger(t)), store, claimer, enqueuer
}

func TestSubmitQueuesNewDocument(t *testing.T) {
	svc, store, _, enqueuer := newService(t)

	receipt, err := svc.Submit(context.Background(), 7, Upload{
		Filename: "factura.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7 contents"),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, receipt.Status)
	assert.Equal(t, SourceIDFor([]byte("%PDF-1.7 contents")), receipt.SourceID)
	require.Len(t, enqueuer.items, 1)
	assert.Equal(t, queue.KindUploadedFile, enqueuer.items[0].Kind)
	assert.Equal(t, receipt.SourceID, enqueuer.items[0].SourceID)

	stored := store.docs[receipt.SourceID]
	require.NotNil(t, stored)
	assert.Equal(t, int64(len("%PDF-1.7 contents")), stored.SizeBytes)
}

func TestResubmitSameBytesIsDuplicate(t *testing.T) {
	svc, _, _, enqueuer := newService(t)
	data := []byte("%PDF-1.7 contents")

	first, err := svc.Submit(context.Background(), 7, Upload{Filename: "a.pdf", Data: data})
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), 7, Upload{Filename: "renamed.pdf", Data: data})
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.SourceID, second.SourceID, "identity follows bytes, not filenames")
	assert.Len(t, enqueuer.items, 1)
}

func TestSubmitRejectsEmptyFile(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Submit(context.Background(), 7, Upload{Filename: "vacio.pdf"})
	assert.ErrorIs(t, err, domain.ErrEmptyUpload)
}

func TestSourceIDIsContentAddressed(t *testing.T) {
	assert.Equal(t, SourceIDFor([]byte("x")), SourceIDFor([]byte("x")))
	assert.NotEqual(t, SourceIDFor([]byte("x")), SourceIDFor([]byte("y")))
	assert.Contains(t, SourceIDFor([]byte("x")), "upload:")
}
