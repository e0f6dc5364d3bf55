package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sentinel-iam/sentinel/internal/accounts"
	"github.com/sentinel-iam/sentinel/internal/cloud"
	"github.com/sentinel-iam/sentinel/internal/inventory"
	"github.com/sentinel-iam/sentinel/internal/observability"
	"github.com/sentinel-iam/sentinel/internal/scanner"
)

// AccountStore is the slice of the accounts repository the syncer needs.
type AccountStore interface {
	GetForSync(ctx context.Context, id int64) (accounts.Account, error)
	MarkSyncResult(ctx context.Context, id int64, healthy bool, at *time.Time) error
}

// Store is the reconciliation side of the inventory repository.
type Store interface {
	UpsertEntity(ctx context.Context, entity inventory.Entity) (int64, error)
	UpsertPolicy(ctx context.Context, policy inventory.Policy) (int64, error)
}

// Syncer pulls the remote IAM state of one account into the local
// inventory and scans every policy document on the way in. Runs for the
// same account are collapsed through singleflight; different accounts sync
// concurrently.
type Syncer struct {
	logger   *slog.Logger
	accounts AccountStore
	store    Store
	factory  cloud.Factory
	metrics  *observability.Metrics
	clock    func() time.Time

	group singleflight.Group
}

func New(logger *slog.Logger, accountStore AccountStore, store Store, factory cloud.Factory, metrics *observability.Metrics) *Syncer {
	return &Syncer{
		logger:   logger,
		accounts: accountStore,
		store:    store,
		factory:  factory,
		metrics:  metrics,
		clock:    time.Now,
	}
}

// Summary describes what a sync pass touched.
type Summary struct {
	Platform   string
	Identities int
	Policies   int
	Vulnerable int
}

// SyncAccount runs one full pass. Every failure past account resolution
// leaves the account red with its timestamp untouched; rows upserted before
// the failure stay committed. Only a pass with zero failures goes green and
// advances last_sync_at.
func (s *Syncer) SyncAccount(ctx context.Context, accountID int64) (Summary, error) {
	v, err, _ := s.group.Do(strconv.FormatInt(accountID, 10), func() (any, error) {
		return s.syncOnce(ctx, accountID)
	})
	summary, _ := v.(Summary)
	return summary, err
}

func (s *Syncer) syncOnce(ctx context.Context, accountID int64) (Summary, error) {
	started := s.clock()

	account, err := s.accounts.GetForSync(ctx, accountID)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve account %d: %w", accountID, err)
	}
	logger := s.logger.With(slog.Int64("account_id", accountID), slog.String("platform", account.Platform))

	summary := Summary{Platform: account.Platform}

	provider, err := s.factory(ctx, logger, account.Credentials())
	if err != nil {
		s.finish(ctx, account, false, started, 0)
		return summary, fmt.Errorf("build provider: %w", err)
	}

	identities, listErr := provider.ListIdentities(ctx)
	if listErr != nil {
		logger.Error("identity enumeration failed", slog.Any("error", listErr))
	}

	failures := 0
	scanned := 0
	for _, identity := range identities {
		entityID, err := s.store.UpsertEntity(ctx, inventory.Entity{
			CloudAccountID: accountID,
			Name:           identity.Name,
			ArnOrID:        identity.ExternalID,
			EntityType:     identity.Type,
			CloudCreatedAt: identity.CreatedAt,
			LastUsed:       identity.LastUsed,
		})
		if err != nil {
			logger.Error("upsert entity failed", slog.String("entity", identity.Name), slog.Any("error", err))
			failures++
			continue
		}

		docs, err := provider.ListPolicyDocuments(ctx, identity)
		if err != nil {
			logger.Warn("policy enumeration failed", slog.String("entity", identity.Name), slog.Any("error", err))
			failures++
			continue
		}

		for _, doc := range docs {
			result := scanner.Scan(account.Platform, doc.Document)
			findings := result.Findings
			if findings == nil {
				findings = []string{}
			}
			if _, err := s.store.UpsertPolicy(ctx, inventory.Policy{
				EntityID:     entityID,
				Name:         doc.Name,
				ArnOrID:      doc.ExternalID,
				Document:     doc.Document,
				RiskScore:    result.Score,
				IsVulnerable: result.Vulnerable(),
				Findings:     findings,
			}); err != nil {
				logger.Error("upsert policy failed", slog.String("policy", doc.Name), slog.Any("error", err))
				failures++
				continue
			}
			scanned++
			if result.Vulnerable() {
				summary.Vulnerable++
			}
		}
	}

	summary.Identities = len(identities)
	summary.Policies = scanned

	healthy := listErr == nil && failures == 0
	s.finish(ctx, account, healthy, started, scanned)

	if !healthy {
		return summary, fmt.Errorf("sync of account %d finished red (list error: %v, failures: %d)", accountID, listErr, failures)
	}
	logger.Info("sync complete", slog.Int("identities", len(identities)), slog.Int("policies", scanned))
	return summary, nil
}

func (s *Syncer) finish(ctx context.Context, account accounts.Account, healthy bool, started time.Time, scanned int) {
	var at *time.Time
	if healthy {
		t := s.clock()
		at = &t
	}
	if err := s.accounts.MarkSyncResult(ctx, account.ID, healthy, at); err != nil {
		s.logger.Error("record sync result failed", slog.Int64("account_id", account.ID), slog.Any("error", err))
	}
	s.metrics.ObserveSyncPass(account.Platform, healthy, s.clock().Sub(started))
	if scanned > 0 {
		s.metrics.AddPoliciesScanned(account.Platform, scanned)
	}
}
