package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sentinel-iam/sentinel/internal/jobs"
	"github.com/sentinel-iam/sentinel/internal/syncer"
)

// AccountSyncer runs a full sync pass for one account.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID int64) (syncer.Summary, error)
}

// IAMSyncJob handles iam:sync tasks.
type IAMSyncJob struct {
	Syncer  AccountSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIAMSyncJob initialises the sync handler.
func NewIAMSyncJob(accountSyncer AccountSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *IAMSyncJob {
	return &IAMSyncJob{
		Syncer:  accountSyncer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sync pass. A malformed payload is dropped instead of
// retried; a red pass is reported as a failure but the task is not requeued
// because the enqueue side sets MaxRetry(0).
func (j *IAMSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("iam sync: handler not configured")
	}
	var payload IAMSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.AccountID <= 0 {
		return asynq.SkipRetry
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskIAMSync)
	logger := j.Logger.With(slog.Int64("account_id", payload.AccountID))
	logger.Info("starting iam sync")

	summary, err := j.Syncer.SyncAccount(ctx, payload.AccountID)
	if err != nil {
		logger.Error("iam sync finished red", slog.Any("error", err))
		return tracker.End(err)
	}

	j.Metrics.AddVulnerablePolicies(summary.Platform, summary.Vulnerable)
	logger.Info("iam sync complete",
		slog.String("platform", summary.Platform),
		slog.Int("identities", summary.Identities),
		slog.Int("policies", summary.Policies),
		slog.Int("vulnerable", summary.Vulnerable),
		slog.Duration("elapsed", j.clock().Sub(start)),
	)
	return tracker.End(nil)
}
