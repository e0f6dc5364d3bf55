package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

type Repository interface {
	UpsertEntity(ctx context.Context, entity Entity) (int64, error)
	UpsertPolicy(ctx context.Context, policy Policy) (int64, error)
	ListEntities(ctx context.Context, userID, accountID int64) ([]Entity, error)
	ListPolicies(ctx context.Context, userID, entityID int64) ([]Policy, error)
	GetPolicy(ctx context.Context, userID, policyID int64) (Policy, error)
	GetPolicyContext(ctx context.Context, userID, policyID int64) (PolicyContext, error)
	UpdatePolicyScan(ctx context.Context, policyID int64, document map[string]any, score int, vulnerable bool, findings []string) error
	DeletePolicy(ctx context.Context, policyID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// UpsertEntity reconciles on arn_or_id: a re-sync of the same principal
// updates the row in place, a renamed principal overwrites the old name.
func (r *repository) UpsertEntity(ctx context.Context, entity Entity) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO iam_entities (cloud_account_id, name, arn_or_id, entity_type, cloud_created_at, last_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (arn_or_id) DO UPDATE
		SET name = EXCLUDED.name,
		    entity_type = EXCLUDED.entity_type,
		    cloud_created_at = EXCLUDED.cloud_created_at,
		    last_used = EXCLUDED.last_used,
		    updated_at = NOW()
		RETURNING id`,
		entity.CloudAccountID, entity.Name, entity.ArnOrID, entity.EntityType,
		entity.CloudCreatedAt, entity.LastUsed,
	).Scan(&id)
	return id, err
}

// UpsertPolicy reconciles on (entity_id, name) and replaces the document and
// scan verdict wholesale.
func (r *repository) UpsertPolicy(ctx context.Context, policy Policy) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO iam_policies (entity_id, name, arn_or_id, document, risk_score, is_vulnerable, findings, context, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (entity_id, name) DO UPDATE
		SET arn_or_id = EXCLUDED.arn_or_id,
		    document = EXCLUDED.document,
		    risk_score = EXCLUDED.risk_score,
		    is_vulnerable = EXCLUDED.is_vulnerable,
		    findings = EXCLUDED.findings,
		    context = EXCLUDED.context,
		    updated_at = NOW()
		RETURNING id`,
		policy.EntityID, policy.Name, policy.ArnOrID, policy.Document,
		policy.RiskScore, policy.IsVulnerable, policy.Findings, policy.Context,
	).Scan(&id)
	return id, err
}

func (r *repository) ListEntities(ctx context.Context, userID, accountID int64) ([]Entity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.cloud_account_id, e.name, e.arn_or_id, e.entity_type, e.cloud_created_at, e.last_used
		FROM iam_entities e
		JOIN cloud_accounts a ON a.id = e.cloud_account_id
		WHERE e.cloud_account_id = $1 AND a.user_id = $2
		ORDER BY e.name`, accountID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.CloudAccountID, &e.Name, &e.ArnOrID, &e.EntityType, &e.CloudCreatedAt, &e.LastUsed); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (r *repository) ListPolicies(ctx context.Context, userID, entityID int64) ([]Policy, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.entity_id, p.name, p.arn_or_id, p.document, p.risk_score, p.is_vulnerable, p.findings, p.context, p.updated_at
		FROM iam_policies p
		JOIN iam_entities e ON e.id = p.entity_id
		JOIN cloud_accounts a ON a.id = e.cloud_account_id
		WHERE p.entity_id = $1 AND a.user_id = $2
		ORDER BY p.name`, entityID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.EntityID, &p.Name, &p.ArnOrID, &p.Document, &p.RiskScore, &p.IsVulnerable, &p.Findings, &p.Context, &p.UpdatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (r *repository) GetPolicy(ctx context.Context, userID, policyID int64) (Policy, error) {
	var p Policy
	err := r.db.QueryRow(ctx, `
		SELECT p.id, p.entity_id, p.name, p.arn_or_id, p.document, p.risk_score, p.is_vulnerable, p.findings, p.context, p.updated_at
		FROM iam_policies p
		JOIN iam_entities e ON e.id = p.entity_id
		JOIN cloud_accounts a ON a.id = e.cloud_account_id
		WHERE p.id = $1 AND a.user_id = $2`, policyID, userID,
	).Scan(&p.ID, &p.EntityID, &p.Name, &p.ArnOrID, &p.Document, &p.RiskScore, &p.IsVulnerable, &p.Findings, &p.Context, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, shared.ErrNotFound
	}
	return p, err
}

// GetPolicyContext loads the policy together with the owning account's
// platform and credentials for the mutation pipeline.
func (r *repository) GetPolicyContext(ctx context.Context, userID, policyID int64) (PolicyContext, error) {
	var pc PolicyContext
	err := r.db.QueryRow(ctx, `
		SELECT p.id, p.entity_id, p.name, p.arn_or_id, p.document, p.risk_score, p.is_vulnerable, p.findings, p.context, p.updated_at,
		       a.id, a.user_id, a.platform, a.access_key, a.secret_key, a.extra
		FROM iam_policies p
		JOIN iam_entities e ON e.id = p.entity_id
		JOIN cloud_accounts a ON a.id = e.cloud_account_id
		WHERE p.id = $1 AND a.user_id = $2`, policyID, userID,
	).Scan(&pc.Policy.ID, &pc.Policy.EntityID, &pc.Policy.Name, &pc.Policy.ArnOrID,
		&pc.Policy.Document, &pc.Policy.RiskScore, &pc.Policy.IsVulnerable,
		&pc.Policy.Findings, &pc.Policy.Context, &pc.Policy.UpdatedAt,
		&pc.AccountID, &pc.UserID, &pc.Platform, &pc.AccessKey, &pc.SecretKey, &pc.Extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return PolicyContext{}, shared.ErrNotFound
	}
	return pc, err
}

func (r *repository) UpdatePolicyScan(ctx context.Context, policyID int64, document map[string]any, score int, vulnerable bool, findings []string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE iam_policies
		SET document = $1, risk_score = $2, is_vulnerable = $3, findings = $4, updated_at = NOW()
		WHERE id = $5`,
		document, score, vulnerable, findings, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) DeletePolicy(ctx context.Context, policyID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM iam_policies WHERE id = $1`, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
