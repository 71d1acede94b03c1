package businessflow

import (
	"context"
	"errors"
	"strings"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/models"
	"github.com/amirphl/Susanoo/repository"
	"github.com/amirphl/Susanoo/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AccountFlow defines operations for connecting CRM accounts
type AccountFlow interface {
	RegisterAccount(ctx context.Context, req *dto.RegisterAccountRequest, metadata *ClientMetadata) (*dto.AccountResponse, error)
	ListAccounts(ctx context.Context) (*dto.ListAccountsResponse, error)
	GetAccount(ctx context.Context, accountID string) (*dto.AccountResponse, error)
	DeactivateAccount(ctx context.Context, accountID string, metadata *ClientMetadata) error
}

// AccountFlowImpl implements AccountFlow
type AccountFlowImpl struct {
	repo   repository.CRMAccountRepository
	sealer *utils.SecretSealer
	tokens services.TokenProvider
	logger zerolog.Logger
}

func NewAccountFlow(repo repository.CRMAccountRepository, sealer *utils.SecretSealer, tokens services.TokenProvider, logger zerolog.Logger) AccountFlow {
	return &AccountFlowImpl{
		repo:   repo,
		sealer: sealer,
		tokens: tokens,
		logger: logger.With().Str("component", "account_flow").Logger(),
	}
}

func (f *AccountFlowImpl) RegisterAccount(ctx context.Context, req *dto.RegisterAccountRequest, metadata *ClientMetadata) (*dto.AccountResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	exists, err := f.repo.Exists(ctx, models.CRMAccountFilter{AccountID: &accountID})
	if err != nil {
		return nil, NewBusinessError("FETCH_ACCOUNT_FAILED", "Failed to check account", err)
	}
	if exists {
		return nil, ErrAccountAlreadyExists
	}

	// Seal secrets before they touch the database
	secret, err := f.sealer.Seal(req.ClientSecret)
	if err != nil {
		return nil, NewBusinessError("SEAL_SECRET_FAILED", "Failed to seal client secret", err)
	}
	refresh, err := f.sealer.Seal(req.RefreshToken)
	if err != nil {
		return nil, NewBusinessError("SEAL_SECRET_FAILED", "Failed to seal refresh token", err)
	}

	account := models.CRMAccount{
		AccountID:     accountID,
		DisplayName:   strings.TrimSpace(req.DisplayName),
		ClientID:      strings.TrimSpace(req.ClientID),
		ClientSecret:  secret,
		RefreshToken:  refresh,
		AccountsURL:   req.AccountsURL,
		FromAddresses: utils.NormalizeItems(req.FromAddresses),
		IsActive:      utils.ToPtr(true),
	}
	if err := f.repo.Save(ctx, &account); err != nil {
		return nil, NewBusinessError("CREATE_ACCOUNT_FAILED", "Failed to create account", err)
	}

	metadata.attach(f.logger.Info()).Str("account_id", accountID).Msg("account registered")
	resp := toAccountResponse(&account)
	return &resp, nil
}

func (f *AccountFlowImpl) ListAccounts(ctx context.Context) (*dto.ListAccountsResponse, error) {
	rows, err := f.repo.ByFilter(ctx, models.CRMAccountFilter{}, "account_id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("FETCH_ACCOUNTS_FAILED", "Failed to list accounts", err)
	}
	out := &dto.ListAccountsResponse{Accounts: make([]dto.AccountResponse, 0, len(rows)), Total: int64(len(rows))}
	for _, row := range rows {
		out.Accounts = append(out.Accounts, toAccountResponse(row))
	}
	return out, nil
}

func (f *AccountFlowImpl) GetAccount(ctx context.Context, accountID string) (*dto.AccountResponse, error) {
	accountID = strings.TrimSpace(accountID)
	rows, err := f.repo.ByFilter(ctx, models.CRMAccountFilter{AccountID: &accountID}, "", 1, 0)
	if err != nil {
		return nil, NewBusinessError("FETCH_ACCOUNT_FAILED", "Failed to fetch account", err)
	}
	if len(rows) == 0 {
		return nil, ErrAccountNotFound
	}
	resp := toAccountResponse(rows[0])
	return &resp, nil
}

// DeactivateAccount makes the account unresolvable; running jobs fail on their next item
func (f *AccountFlowImpl) DeactivateAccount(ctx context.Context, accountID string, metadata *ClientMetadata) error {
	accountID = strings.TrimSpace(accountID)
	if err := f.repo.SetActive(ctx, accountID, false); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return NewBusinessError("UPDATE_ACCOUNT_FAILED", "Failed to deactivate account", err)
	}
	if f.tokens != nil {
		f.tokens.Invalidate(ctx, accountID)
	}
	metadata.attach(f.logger.Info()).Str("account_id", accountID).Msg("account deactivated")
	return nil
}

func toAccountResponse(a *models.CRMAccount) dto.AccountResponse {
	return dto.AccountResponse{
		AccountID:     a.AccountID,
		DisplayName:   a.DisplayName,
		ClientID:      a.ClientID,
		AccountsURL:   a.AccountsURL,
		FromAddresses: append([]string{}, a.FromAddresses...),
		IsActive:      utils.IsTrue(a.IsActive),
		CreatedAt:     formatTime(a.CreatedAt),
	}
}
