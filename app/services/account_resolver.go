package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/Susanoo/models"
	"github.com/amirphl/Susanoo/repository"
	"github.com/amirphl/Susanoo/utils"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is a connected CRM tenant with its secrets unsealed
type Account struct {
	AccountID     string
	DisplayName   string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	AccountsURL   string
	FromAddresses []string
}

// HasFromAddress reports whether addr is one of the account's verified senders
func (a *Account) HasFromAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	for _, f := range a.FromAddresses {
		if strings.EqualFold(strings.TrimSpace(f), addr) {
			return true
		}
	}
	return false
}

// AccountResolver loads account credentials by external id
type AccountResolver interface {
	ResolveAccount(ctx context.Context, accountID string) (*Account, error)
}

type accountResolver struct {
	repo               repository.CRMAccountRepository
	sealer             *utils.SecretSealer
	defaultAccountsURL string
}

// NewAccountResolver creates a resolver backed by the account repository
func NewAccountResolver(repo repository.CRMAccountRepository, sealer *utils.SecretSealer, defaultAccountsURL string) AccountResolver {
	return &accountResolver{repo: repo, sealer: sealer, defaultAccountsURL: defaultAccountsURL}
}

func (r *accountResolver) ResolveAccount(ctx context.Context, accountID string) (*Account, error) {
	row, err := r.repo.ByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return r.unseal(row)
}

func (r *accountResolver) unseal(row *models.CRMAccount) (*Account, error) {
	secret, err := r.sealer.Open(row.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open client secret of %s: %w", row.AccountID, err)
	}
	refresh, err := r.sealer.Open(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open refresh token of %s: %w", row.AccountID, err)
	}
	accountsURL := r.defaultAccountsURL
	if row.AccountsURL != nil && *row.AccountsURL != "" {
		accountsURL = *row.AccountsURL
	}
	return &Account{
		AccountID:     row.AccountID,
		DisplayName:   row.DisplayName,
		ClientID:      row.ClientID,
		ClientSecret:  secret,
		RefreshToken:  refresh,
		AccountsURL:   strings.TrimRight(accountsURL, "/"),
		FromAddresses: append([]string(nil), row.FromAddresses...),
	}, nil
}
