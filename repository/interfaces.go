package repository

import (
	"context"

	"github.com/amirphl/Susanoo/models"
)

type Repository[T any, F any] interface {
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// CRMAccountRepository defines operations for connected CRM accounts
type CRMAccountRepository interface {
	Repository[models.CRMAccount, models.CRMAccountFilter]
	ByAccountID(ctx context.Context, accountID string) (*models.CRMAccount, error)
	SetActive(ctx context.Context, accountID string, active bool) error
}

// JobRunRepository defines operations for archived job runs
type JobRunRepository interface {
	Repository[models.JobRun, models.JobRunFilter]
	LatestByJobKey(ctx context.Context, jobKey string) (*models.JobRun, error)
}
