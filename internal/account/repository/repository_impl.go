package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facturio/internal/account/domain"
	"github.com/smallbiznis/facturio/internal/matcher"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// ListEnabled returns the enabled mailbox accounts, optionally filtered to
// a tenant and an explicit account id set.
func (r *Repository) ListEnabled(ctx context.Context, tenantID snowflake.ID, accountIDs []snowflake.ID) ([]domain.MailboxAccount, error) {
	query := r.db.WithContext(ctx).Where("enabled = ?", true)
	if tenantID != 0 {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if len(accountIDs) > 0 {
		query = query.Where("id IN ?", accountIDs)
	}

	var accounts []domain.MailboxAccount
	if err := query.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Get loads one account by id.
func (r *Repository) Get(ctx context.Context, id snowflake.ID) (*domain.MailboxAccount, error) {
	var account domain.MailboxAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// RulesForTenant loads the tenant's match rule set and compiles it into the
// matcher's runtime form.
func (r *Repository) RulesForTenant(ctx context.Context, tenantID snowflake.ID) (matcher.Rules, error) {
	var row domain.MatchRuleSet
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return matcher.Rules{}, domain.ErrRulesNotFound
	}
	if err != nil {
		return matcher.Rules{}, err
	}

	return matcher.Rules{
		Terms:              row.Terms,
		Synonyms:           row.Synonyms.Data(),
		SenderFallback:     row.SenderFallback,
		AttachmentFallback: row.AttachmentFallback,
	}, nil
}

// SaveRules upserts the tenant's rule set.
func (r *Repository) SaveRules(ctx context.Context, row *domain.MatchRuleSet) error {
	var existing domain.MatchRuleSet
	err := r.db.WithContext(ctx).Where("tenant_id = ?", row.TenantID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(row).Error
	case err != nil:
		return err
	default:
		row.ID = existing.ID
		return r.db.WithContext(ctx).Save(row).Error
	}
}
