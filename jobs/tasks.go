package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIAMSync pulls one cloud account's IAM state into the inventory.
	TaskIAMSync = "iam:sync"
)

// IAMSyncPayload identifies the account to sync.
type IAMSyncPayload struct {
	AccountID int64 `json:"account_id"`
}

// NewIAMSyncTask constructs an Asynq task for a single account sync.
func NewIAMSyncTask(accountID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IAMSyncPayload{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIAMSync, data, asynq.Queue(QueueDefault)), nil
}
