// Package service accepts manual document uploads and routes them into the
// same claim-then-enqueue flow the mailbox path uses. The only differences
// are the source id shape and where the worker later finds the bytes.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturio/internal/clock"
	ledgerdomain "github.com/smallbiznis/facturio/internal/ledger/domain"
	"github.com/smallbiznis/facturio/internal/queue"
	"github.com/smallbiznis/facturio/internal/upload/domain"
)

// Status tells the uploader what happened to their file.
type Status string

const (
	// StatusQueued means the document was accepted and will be extracted.
	StatusQueued Status = "queued"
	// StatusDuplicate means the pipeline has already seen this document,
	// through any path. Nothing further will happen.
	StatusDuplicate Status = "duplicate"
)

// Upload is one submitted file.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Receipt is the synchronous answer to an upload.
type Receipt struct {
	SourceID string
	Status   Status
}

// Claimer is the ledger surface the upload path needs.
type Claimer interface {
	TryClaim(ctx context.Context, tenantID snowflake.ID, sourceID, claimant string) (ledgerdomain.ClaimStatus, error)
}

// Enqueuer hands accepted uploads to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) error
}

// Store persists the uploaded bytes for the worker.
type Store interface {
	Save(ctx context.Context, doc *domain.StoredDocument) error
}

type Service struct {
	store  Store
	ledger Claimer
	queue  Enqueuer
	clock  clock.Clock
	log    *zap.Logger
}

func NewService(store Store, ledger Claimer, q Enqueuer, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		queue:  q,
		clock:  clk,
		log:    log.Named("upload"),
	}
}

// SourceIDFor derives the content-addressed source id for uploaded bytes.
func SourceIDFor(data []byte) string {
	sum := sha256.Sum256(data)
	return "upload:" + hex.EncodeToString(sum[:])
}

// Submit stores the document, claims it, and enqueues it. Re-submitting the
// same bytes, or uploading a document the mailbox path already ingested,
// reports a duplicate instead of producing a second extraction.
func (s *Service) Submit(ctx context.Context, tenantID snowflake.ID, up Upload) (*Receipt, error) {
	if len(up.Data) == 0 {
		return nil, domain.ErrEmptyUpload
	}

	sourceID := SourceIDFor(up.Data)
	sum := sha256.Sum256(up.Data)
	if err := s.store.Save(ctx, &domain.StoredDocument{
		TenantID:    tenantID,
		SourceID:    sourceID,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		SHA256:      hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(up.Data)),
		Data:        up.Data,
	}); err != nil {
		return nil, err
	}

	claimant := "upload:" + uuid.NewString()
	status, err := s.ledger.TryClaim(ctx, tenantID, sourceID, claimant)
	if err != nil {
		return nil, err
	}
	if status == ledgerdomain.ClaimAlreadyOwned {
		s.log.Info("upload is a duplicate",
			zap.String("source_id", sourceID),
			zap.String("filename", up.Filename))
		return &Receipt{SourceID: sourceID, Status: StatusDuplicate}, nil
	}

	if err := s.queue.Enqueue(ctx, queue.Item{
		TenantID:   tenantID,
		SourceID:   sourceID,
		Kind:       queue.KindUploadedFile,
		Claimant:   claimant,
		EnqueuedAt: s.clock.Now(),
	}); err != nil {
		// The claim stands; the lease sweep requeues it later.
		return nil, err
	}

	s.log.Info("upload queued",
		zap.String("source_id", sourceID),
		zap.String("filename", up.Filename),
		zap.Int("size_bytes", len(up.Data)))
	return &Receipt{SourceID: sourceID, Status: StatusQueued}, nil
}
