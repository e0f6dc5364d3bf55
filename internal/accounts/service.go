package accounts

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

// Auditor records account mutations. Satisfied by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  Auditor
}

func NewService(logger *slog.Logger, repo Repository, audit Auditor) *Service {
	return &Service{logger: logger, repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, userID int64) ([]Account, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id int64) (Account, error) {
	return s.repo.Get(ctx, userID, id)
}

func (s *Service) Create(ctx context.Context, userID int64, req CreateAccountRequest) (Account, error) {
	account := Account{
		UserID:    userID,
		Name:      req.Name,
		Platform:  req.Platform,
		IsActive:  true,
		AccessKey: req.AccessKey,
		SecretKey: req.SecretKey,
		Extra:     req.Extra,
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}

	created, err := s.repo.Create(ctx, account)
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, userID, "account.create", created.ID, map[string]any{"platform": created.Platform})
	return created, nil
}

func (s *Service) Update(ctx context.Context, userID, id int64, req UpdateAccountRequest) (Account, error) {
	account, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return Account{}, err
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.AccessKey != nil && req.SecretKey != nil {
		account.AccessKey = *req.AccessKey
		account.SecretKey = *req.SecretKey
	}
	if req.Extra != nil {
		account.Extra = req.Extra
	}

	if err := s.repo.Update(ctx, account); err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, userID, "account.update", id, nil)
	return s.repo.Get(ctx, userID, id)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, userID, "account.delete", id, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action string, accountID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "cloud_account",
		EntityID: strconv.FormatInt(accountID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
