// Package domain holds mailbox account and match rule configuration rows.
package domain

import (
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MailboxAccount is one monitored IMAP mailbox for a tenant.
type MailboxAccount struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index"`
	Host     string       `gorm:"type:text;not null"`
	Port     int          `gorm:"not null;default:993"`
	Username string       `gorm:"type:text;not null"`
	Password string       `gorm:"type:text;not null"`
	Folder   string       `gorm:"type:text;not null;default:'INBOX'"`
	UseTLS   bool         `gorm:"not null;default:true"`
	PoolSize int          `gorm:"not null;default:2"`
	Enabled  bool         `gorm:"not null;default:true;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the database table name.
func (MailboxAccount) TableName() string { return "mailbox_accounts" }

// Address returns the host:port dial target.
func (a MailboxAccount) Address() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// MatchRuleSet is the per-tenant matching configuration: base terms, synonym
// vocabulary and fallback flags. A tenant has at most one active set.
type MatchRuleSet struct {
	ID                 snowflake.ID                `gorm:"primaryKey"`
	TenantID           snowflake.ID                `gorm:"not null;uniqueIndex"`
	Terms              datatypes.JSONSlice[string] `gorm:"not null"`
	Synonyms           datatypes.JSONType[map[string]string]
	SenderFallback     bool `gorm:"not null;default:false"`
	AttachmentFallback bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the database table name.
func (MatchRuleSet) TableName() string { return "match_rule_sets" }

var (
	ErrAccountNotFound = errors.New("mailbox_account_not_found")
	ErrRulesNotFound   = errors.New("match_rules_not_found")
)
