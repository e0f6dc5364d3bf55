package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

type Repository interface {
	List(ctx context.Context, userID int64) ([]Account, error)
	Get(ctx context.Context, userID, id int64) (Account, error)
	GetForSync(ctx context.Context, id int64) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	Update(ctx context.Context, account Account) error
	Delete(ctx context.Context, userID, id int64) error
	MarkSyncResult(ctx context.Context, id int64, healthy bool, at *time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, user_id, name, platform, is_active, last_sync_status, last_sync_at, access_key, secret_key, extra, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Platform, &a.IsActive,
		&a.LastSyncStatus, &a.LastSyncAt, &a.AccessKey, &a.SecretKey, &a.Extra,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	return a, err
}

func (r *repository) List(ctx context.Context, userID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM cloud_accounts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) Get(ctx context.Context, userID, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM cloud_accounts WHERE id = $1 AND user_id = $2`, id, userID))
}

// GetForSync loads an account by id alone; the worker has no request user.
func (r *repository) GetForSync(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM cloud_accounts WHERE id = $1`, id))
}

func (r *repository) Create(ctx context.Context, account Account) (Account, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO cloud_accounts (user_id, name, platform, is_active, last_sync_status, access_key, secret_key, extra, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		account.UserID, account.Name, account.Platform, account.IsActive, account.LastSyncStatus,
		account.AccessKey, account.SecretKey, account.Extra, now,
	).Scan(&account.ID)
	if err != nil {
		return Account{}, fmt.Errorf("insert cloud account: %w", err)
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	return account, nil
}

func (r *repository) Update(ctx context.Context, account Account) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE cloud_accounts
		SET name = $1, is_active = $2, access_key = $3, secret_key = $4, extra = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8`,
		account.Name, account.IsActive, account.AccessKey, account.SecretKey, account.Extra,
		time.Now(), account.ID, account.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the account; entities and policies cascade in the schema.
func (r *repository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM cloud_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkSyncResult records the health flag. The timestamp only moves on a
// fully green pass, so a nil at leaves last_sync_at untouched.
func (r *repository) MarkSyncResult(ctx context.Context, id int64, healthy bool, at *time.Time) error {
	var err error
	if at != nil {
		_, err = r.db.Exec(ctx, `UPDATE cloud_accounts SET last_sync_status = $1, last_sync_at = $2, updated_at = NOW() WHERE id = $3`, healthy, *at, id)
	} else {
		_, err = r.db.Exec(ctx, `UPDATE cloud_accounts SET last_sync_status = $1, updated_at = NOW() WHERE id = $2`, healthy, id)
	}
	return err
}
