package policies

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sentinel-iam/sentinel/internal/cloud"
	"github.com/sentinel-iam/sentinel/internal/inventory"
	"github.com/sentinel-iam/sentinel/internal/scanner"
	"github.com/sentinel-iam/sentinel/internal/shared"
)

// Auditor records policy mutations. Satisfied by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the mutation pipeline: the remote side is written first and
// the local row only changes after the remote write succeeded.
type Service struct {
	logger  *slog.Logger
	repo    inventory.Repository
	factory cloud.Factory
	audit   Auditor
}

func NewService(logger *slog.Logger, repo inventory.Repository, factory cloud.Factory, audit Auditor) *Service {
	return &Service{logger: logger, repo: repo, factory: factory, audit: audit}
}

func (s *Service) Get(ctx context.Context, userID, policyID int64) (inventory.Policy, error) {
	return s.repo.GetPolicy(ctx, userID, policyID)
}

// Apply pushes the new document to the cloud, then re-scans it and commits
// document, score, findings and the derived flag in one update. A rejected
// remote write leaves the local row untouched. No retries.
func (s *Service) Apply(ctx context.Context, userID, policyID int64, newDoc map[string]any) (inventory.Policy, error) {
	pc, err := s.repo.GetPolicyContext(ctx, userID, policyID)
	if err != nil {
		return inventory.Policy{}, err
	}

	provider, err := s.factory(ctx, s.logger, cloud.Credentials{
		Platform:  pc.Platform,
		AccessKey: pc.AccessKey,
		SecretKey: pc.SecretKey,
		Extra:     pc.Extra,
	})
	if err != nil {
		return inventory.Policy{}, fmt.Errorf("build provider: %w", err)
	}

	if err := provider.WritePolicy(ctx, pc.Policy.ArnOrID, newDoc); err != nil {
		return inventory.Policy{}, err
	}

	result := scanner.Scan(pc.Platform, newDoc)
	findings := result.Findings
	if findings == nil {
		findings = []string{}
	}
	if err := s.repo.UpdatePolicyScan(ctx, policyID, newDoc, result.Score, result.Vulnerable(), findings); err != nil {
		// The remote side already holds the new document; surface the split
		// state instead of hiding it.
		return inventory.Policy{}, fmt.Errorf("remote updated but local commit failed: %w", err)
	}

	s.recordAudit(ctx, userID, "policy.apply", policyID, map[string]any{
		"risk_score":    result.Score,
		"is_vulnerable": result.Vulnerable(),
	})
	return s.repo.GetPolicy(ctx, userID, policyID)
}

// Delete removes the policy remotely first; the local row is deleted only
// after the remote delete succeeded.
func (s *Service) Delete(ctx context.Context, userID, policyID int64) error {
	pc, err := s.repo.GetPolicyContext(ctx, userID, policyID)
	if err != nil {
		return err
	}

	provider, err := s.factory(ctx, s.logger, cloud.Credentials{
		Platform:  pc.Platform,
		AccessKey: pc.AccessKey,
		SecretKey: pc.SecretKey,
		Extra:     pc.Extra,
	})
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	if err := provider.DeletePolicy(ctx, pc.Policy.ArnOrID); err != nil {
		return err
	}

	if err := s.repo.DeletePolicy(ctx, policyID); err != nil {
		return fmt.Errorf("remote deleted but local delete failed: %w", err)
	}

	s.recordAudit(ctx, userID, "policy.delete", policyID, map[string]any{
		"name": pc.Policy.Name,
	})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action string, policyID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "iam_policy",
		EntityID: strconv.FormatInt(policyID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
