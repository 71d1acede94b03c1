package dto

// RegisterAccountRequest represents the request to connect a CRM account
type RegisterAccountRequest struct {
	AccountID     string   `json:"account_id" validate:"required,max=64"`
	DisplayName   string   `json:"display_name" validate:"omitempty,max=255"`
	ClientID      string   `json:"client_id" validate:"required,max=255"`
	ClientSecret  string   `json:"client_secret" validate:"required"`
	RefreshToken  string   `json:"refresh_token" validate:"required"`
	AccountsURL   *string  `json:"accounts_url,omitempty" validate:"omitempty,url"`
	FromAddresses []string `json:"from_addresses,omitempty" validate:"omitempty,dive,email"`
}

// AccountResponse is a connected account without its secrets
type AccountResponse struct {
	AccountID     string   `json:"account_id"`
	DisplayName   string   `json:"display_name"`
	ClientID      string   `json:"client_id"`
	AccountsURL   *string  `json:"accounts_url,omitempty"`
	FromAddresses []string `json:"from_addresses"`
	IsActive      bool     `json:"is_active"`
	CreatedAt     string   `json:"created_at"`
}

// ListAccountsResponse represents the list of connected accounts
type ListAccountsResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Total    int64             `json:"total"`
}
