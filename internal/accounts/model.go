package accounts

import (
	"time"

	"github.com/sentinel-iam/sentinel/internal/cloud"
)

// Account is a connected cloud account. Credentials never leave the server:
// they are excluded from JSON and only handed to the platform adapter.
type Account struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"-"`
	Name           string         `json:"name"`
	Platform       string         `json:"platform"`
	IsActive       bool           `json:"is_active"`
	LastSyncStatus bool           `json:"last_sync_status"`
	LastSyncAt     *time.Time     `json:"last_sync_at"`
	AccessKey      string         `json:"-"`
	SecretKey      string         `json:"-"`
	Extra          map[string]any `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Credentials packages the account's secrets for the platform adapter.
func (a Account) Credentials() cloud.Credentials {
	return cloud.Credentials{
		Platform:  a.Platform,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Extra:     a.Extra,
	}
}
