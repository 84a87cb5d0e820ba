// Package domain contains the canonical invoice model produced by the
// extraction pipeline. Identity is the document's own control code, never
// the delivery channel, so a resend through a second channel updates the
// existing row instead of duplicating it.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ExtractionMethod names the tier that produced the record.
type ExtractionMethod string

const (
	MethodNativeStructured ExtractionMethod = "native_structured"
	MethodAIVision         ExtractionMethod = "ai_vision"
	MethodLinkCrawl        ExtractionMethod = "link_crawl"
)

// Totals carries the monetary breakdown in minor units (cents).
type Totals struct {
	ExemptAmount       int64 `gorm:"not null;default:0"`
	NetAmountMinRate   int64 `gorm:"not null;default:0"`
	NetAmountBasicRate int64 `gorm:"not null;default:0"`
	TaxAmountMinRate   int64 `gorm:"not null;default:0"`
	TaxAmountBasicRate int64 `gorm:"not null;default:0"`
	DiscountAmount     int64 `gorm:"not null;default:0"`
	AdvanceAmount      int64 `gorm:"not null;default:0"`
	GrandTotal         int64 `gorm:"not null;default:0"`
}

// CanonicalInvoice is the extracted business entity, upserted by dedup key.
type CanonicalInvoice struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	TenantID         snowflake.ID     `gorm:"not null;uniqueIndex:ux_invoices_tenant_dedup"`
	DedupKey         string           `gorm:"type:text;not null;uniqueIndex:ux_invoices_tenant_dedup"`
	IssuerID         string           `gorm:"type:text"`
	ReceiverID       string           `gorm:"type:text"`
	DocumentNumber   string           `gorm:"type:text"`
	IssueDate        time.Time        `gorm:""`
	Currency         string           `gorm:"type:text"`
	Totals           Totals           `gorm:"embedded;embeddedPrefix:total_"`
	ExtractionMethod ExtractionMethod `gorm:"type:text;not null"`
	SourceID         string           `gorm:"type:text;not null"`
	Metadata         datatypes.JSONMap
	LineItems        []LineItem `gorm:"foreignKey:InvoiceID"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName sets the database table name.
func (CanonicalInvoice) TableName() string { return "canonical_invoices" }

// LineItem is owned by exactly one invoice; its lifetime is bound to the
// parent and it is replaced wholesale on re-ingestion.
type LineItem struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	Description string       `gorm:"type:text"`
	Quantity    float64      `gorm:"not null;default:0"`
	UnitPrice   int64        `gorm:"not null;default:0"`
	TaxRateCode string       `gorm:"type:text"`
	LineTotal   int64        `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "canonical_invoice_line_items" }

var (
	ErrMissingDedupKey = errors.New("missing_dedup_key")
	ErrInvoiceNotFound = errors.New("invoice_not_found")
)
