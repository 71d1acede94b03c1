// Package models contains persisted entities for CRM accounts and archived dispatch runs
package models

import (
	"time"

	"github.com/lib/pq"
)

// CRMAccount holds the OAuth client registration of one connected CRM tenant.
// ClientSecret and RefreshToken are stored sealed; see utils.SecretSealer.
// Table: crm_accounts
// Unique by AccountID
type CRMAccount struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID string `gorm:"size:64;not null;uniqueIndex:uk_crm_accounts_account_id" json:"account_id"`

	DisplayName  string `gorm:"size:255" json:"display_name"`
	ClientID     string `gorm:"size:255;not null" json:"client_id"`
	ClientSecret string `gorm:"type:text;not null" json:"-"`
	RefreshToken string `gorm:"type:text;not null" json:"-"`

	// Optional accounts host override for tenants outside the default data centre
	AccountsURL *string `gorm:"size:255" json:"accounts_url,omitempty"`

	FromAddresses pq.StringArray `gorm:"type:text[]" json:"from_addresses"`

	IsActive  *bool     `gorm:"default:true;index:idx_crm_accounts_is_active" json:"is_active"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (CRMAccount) TableName() string {
	return "crm_accounts"
}

// CRMAccountFilter represents filter criteria for account queries
type CRMAccountFilter struct {
	ID        *uint
	AccountID *string
	IsActive  *bool
}
