package repository

import (
	"context"

	"github.com/amirphl/Susanoo/models"
	"github.com/amirphl/Susanoo/utils"
	"gorm.io/gorm"
)

// CRMAccountRepositoryImpl implements CRMAccountRepository interface
type CRMAccountRepositoryImpl struct {
	*BaseRepository[models.CRMAccount, models.CRMAccountFilter]
}

// NewCRMAccountRepository creates a new account repository
func NewCRMAccountRepository(db *gorm.DB) CRMAccountRepository {
	return &CRMAccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CRMAccount, models.CRMAccountFilter](db),
	}
}

// ByAccountID returns the active account with the given external id, or nil when none exists
func (r *CRMAccountRepositoryImpl) ByAccountID(ctx context.Context, accountID string) (*models.CRMAccount, error) {
	filter := models.CRMAccountFilter{AccountID: &accountID, IsActive: utils.ToPtr(true)}
	items, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// SetActive toggles an account. Inactive accounts are not resolvable by ByAccountID.
func (r *CRMAccountRepositoryImpl) SetActive(ctx context.Context, accountID string, active bool) error {
	res := r.getDB(ctx).Model(&models.CRMAccount{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"is_active": active, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// applyFilter applies filter criteria to a GORM query
func (r *CRMAccountRepositoryImpl) applyFilter(query *gorm.DB, filter models.CRMAccountFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	return query
}

// ByFilter retrieves accounts based on filter criteria
func (r *CRMAccountRepositoryImpl) ByFilter(ctx context.Context, filter models.CRMAccountFilter, orderBy string, limit, offset int) ([]*models.CRMAccount, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CRMAccount{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var accounts []*models.CRMAccount
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Count returns the number of accounts matching the filter
func (r *CRMAccountRepositoryImpl) Count(ctx context.Context, filter models.CRMAccountFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CRMAccount{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any account matching the filter exists
func (r *CRMAccountRepositoryImpl) Exists(ctx context.Context, filter models.CRMAccountFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
