package repository

import (
	"context"

	"github.com/amirphl/Susanoo/models"
	"gorm.io/gorm"
)

// JobRunRepositoryImpl implements JobRunRepository
type JobRunRepositoryImpl struct {
	*BaseRepository[models.JobRun, models.JobRunFilter]
}

func NewJobRunRepository(db *gorm.DB) JobRunRepository {
	return &JobRunRepositoryImpl{BaseRepository: NewBaseRepository[models.JobRun, models.JobRunFilter](db)}
}

// LatestByJobKey returns the most recent archived run for a key, or nil
func (r *JobRunRepositoryImpl) LatestByJobKey(ctx context.Context, jobKey string) (*models.JobRun, error) {
	rows, err := r.ByFilter(ctx, models.JobRunFilter{JobKey: &jobKey}, "created_at DESC, id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *JobRunRepositoryImpl) applyFilter(query *gorm.DB, filter models.JobRunFilter) *gorm.DB {
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.JobKey != nil {
		query = query.Where("job_key = ?", *filter.JobKey)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

func (r *JobRunRepositoryImpl) ByFilter(ctx context.Context, filter models.JobRunFilter, orderBy string, limit, offset int) ([]*models.JobRun, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.JobRun{}), filter)
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
	var rows []*models.JobRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *JobRunRepositoryImpl) Count(ctx context.Context, filter models.JobRunFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.JobRun{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *JobRunRepositoryImpl) Exists(ctx context.Context, filter models.JobRunFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
