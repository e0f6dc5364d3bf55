package inventory

import "time"

// Entity is an IAM principal discovered in a cloud account. ArnOrID is the
// natural key the syncer reconciles on.
type Entity struct {
	ID             int64      `json:"id"`
	CloudAccountID int64      `json:"cloud_account_id"`
	Name           string     `json:"name"`
	ArnOrID        string     `json:"arn_or_id"`
	EntityType     string     `json:"entity_type"`
	CloudCreatedAt *time.Time `json:"cloud_created_at"`
	LastUsed       *time.Time `json:"last_used"`
}

// Policy is a permission document attached to an entity, together with the
// latest scan verdict. (entity_id, name) is the natural key.
type Policy struct {
	ID           int64          `json:"id"`
	EntityID     int64          `json:"entity_id"`
	Name         string         `json:"name"`
	ArnOrID      string         `json:"arn_or_id"`
	Document     map[string]any `json:"document"`
	RiskScore    int            `json:"risk_score"`
	IsVulnerable bool           `json:"is_vulnerable"`
	Findings     []string       `json:"findings"`
	Context      map[string]any `json:"context,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PolicyContext is a policy joined with the account it ultimately belongs
// to. The mutation pipeline needs the platform and credentials to reach the
// remote side before touching the local row.
type PolicyContext struct {
	Policy    Policy
	AccountID int64
	UserID    int64
	Platform  string
	AccessKey string
	SecretKey string
	Extra     map[string]any
}
