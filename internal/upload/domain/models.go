// Package domain models manually uploaded documents. An upload's identity
// is the hash of its bytes, so submitting the same file twice, or uploading
// a document the mailbox path already handled, converges in the ledger.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// StoredDocument keeps the raw uploaded bytes until a worker picks the item
// up. Unlike mailbox messages there is no server to re-fetch from.
type StoredDocument struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TenantID    snowflake.ID `gorm:"not null;uniqueIndex:ux_stored_documents_tenant_source"`
	SourceID    string       `gorm:"type:text;not null;uniqueIndex:ux_stored_documents_tenant_source"`
	Filename    string       `gorm:"type:text"`
	ContentType string       `gorm:"type:text"`
	SHA256      string       `gorm:"column:sha256;type:text;not null"`
	SizeBytes   int64        `gorm:"not null"`
	Data        []byte       `gorm:"not null"`
	CreatedAt   time.Time
}

// TableName sets the database table name.
func (StoredDocument) TableName() string { return "stored_documents" }

var (
	ErrEmptyUpload      = errors.New("empty_upload")
	ErrDocumentNotFound = errors.New("stored_document_not_found")
)
