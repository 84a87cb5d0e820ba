// Package repository persists canonical invoices with dedup-keyed upsert
// semantics: a second ingestion of the same document overwrites fields and
// replaces line items instead of inserting a duplicate row.
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facturio/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(conn *gorm.DB, genID *snowflake.Node) *Repository {
	return &Repository{db: conn, genID: genID}
}

// Upsert writes the invoice keyed by (tenant_id, dedup_key). On conflict the
// document fields are updated in place; line items from the previous
// extraction are dropped and rewritten, since they have no identity of
// their own.
func (r *Repository) Upsert(ctx context.Context, invoice *domain.CanonicalInvoice) error {
	if strings.TrimSpace(invoice.DedupKey) == "" {
		return domain.ErrMissingDedupKey
	}
	if invoice.ID == 0 {
		invoice.ID = r.genID.Generate()
	}

	lineItems := invoice.LineItems
	invoice.LineItems = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "dedup_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"issuer_id", "receiver_id", "document_number", "issue_date", "currency",
				"total_exempt_amount", "total_net_amount_min_rate", "total_net_amount_basic_rate",
				"total_tax_amount_min_rate", "total_tax_amount_basic_rate",
				"total_discount_amount", "total_advance_amount", "total_grand_total",
				"extraction_method", "source_id", "metadata", "updated_at",
			}),
		}
		if err := tx.Clauses(conflict).Create(invoice).Error; err != nil {
			return err
		}

		// The conflict path keeps the original row id; re-read it so the
		// line items attach to the surviving invoice.
		var existing domain.CanonicalInvoice
		if err := tx.Select("id").
			Where("tenant_id = ? AND dedup_key = ?", invoice.TenantID, invoice.DedupKey).
			First(&existing).Error; err != nil {
			return err
		}
		invoice.ID = existing.ID

		if err := tx.Where("invoice_id = ?", invoice.ID).
			Delete(&domain.LineItem{}).Error; err != nil {
			return err
		}
		for i := range lineItems {
			lineItems[i].ID = r.genID.Generate()
			lineItems[i].InvoiceID = invoice.ID
		}
		if len(lineItems) > 0 {
			if err := tx.Create(&lineItems).Error; err != nil {
				return err
			}
		}
		invoice.LineItems = lineItems
		return nil
	})
}

// GetByDedupKey loads an invoice and its line items.
func (r *Repository) GetByDedupKey(ctx context.Context, tenantID snowflake.ID, dedupKey string) (*domain.CanonicalInvoice, error) {
	var invoice domain.CanonicalInvoice
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("tenant_id = ? AND dedup_key = ?", tenantID, dedupKey).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// CountByTenant reports how many canonical invoices a tenant holds.
func (r *Repository) CountByTenant(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.CanonicalInvoice{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}
