package accounts

// CreateAccountRequest carries a new account with its credentials.
type CreateAccountRequest struct {
	Name      string         `json:"name" validate:"required,max=120"`
	Platform  string         `json:"platform" validate:"required,oneof=aws azure gcp"`
	AccessKey string         `json:"access_key" validate:"required"`
	SecretKey string         `json:"secret_key" validate:"required"`
	Extra     map[string]any `json:"extra"`
	IsActive  *bool          `json:"is_active"`
}

// UpdateAccountRequest carries a partial update. Credential fields rotate the
// stored secrets only when both halves are present.
type UpdateAccountRequest struct {
	Name      *string        `json:"name" validate:"omitempty,max=120"`
	IsActive  *bool          `json:"is_active"`
	AccessKey *string        `json:"access_key"`
	SecretKey *string        `json:"secret_key"`
	Extra     map[string]any `json:"extra"`
}

// SyncAccepted is the response for a queued sync run.
type SyncAccepted struct {
	TaskID string `json:"task_id"`
}
