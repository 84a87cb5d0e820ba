package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturio/internal/upload/domain"
	"github.com/smallbiznis/facturio/pkg/db"
)

// Repository stores uploaded document blobs.
type Repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(conn *gorm.DB, genID *snowflake.Node) *Repository {
	return &Repository{db: conn, genID: genID}
}

// Save persists an uploaded blob. Saving the same (tenant, source) twice is
// a no-op: the bytes are identical by construction of the source id.
func (r *Repository) Save(ctx context.Context, doc *domain.StoredDocument) error {
	if doc.ID == 0 {
		doc.ID = r.genID.Generate()
	}
	err := r.db.WithContext(ctx).Create(doc).Error
	if db.IsDuplicateKeyErr(err) {
		return nil
	}
	return err
}

// GetBySourceID loads the blob a worker needs to process an uploaded item.
func (r *Repository) GetBySourceID(ctx context.Context, tenantID snowflake.ID, sourceID string) (*domain.StoredDocument, error) {
	var doc domain.StoredDocument
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantID, sourceID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
