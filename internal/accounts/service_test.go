package accounts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

type fakeRepo struct {
	nextID   int64
	accounts map[int64]Account
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, accounts: make(map[int64]Account)}
}

func (f *fakeRepo) List(_ context.Context, userID int64) ([]Account, error) {
	var out []Account
	for _, a := range f.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) Get(_ context.Context, userID, id int64) (Account, error) {
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) GetForSync(_ context.Context, id int64) (Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) Create(_ context.Context, account Account) (Account, error) {
	account.ID = f.nextID
	f.nextID++
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	f.accounts[account.ID] = account
	return account, nil
}

func (f *fakeRepo) Update(_ context.Context, account Account) error {
	existing, ok := f.accounts[account.ID]
	if !ok || existing.UserID != account.UserID {
		return shared.ErrNotFound
	}
	account.CreatedAt = existing.CreatedAt
	account.UpdatedAt = time.Now()
	f.accounts[account.ID] = account
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, userID, id int64) error {
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return shared.ErrNotFound
	}
	delete(f.accounts, id)
	return nil
}

func (f *fakeRepo) MarkSyncResult(_ context.Context, id int64, healthy bool, at *time.Time) error {
	a, ok := f.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.LastSyncStatus = healthy
	if at != nil {
		a.LastSyncAt = at
	}
	f.accounts[id] = a
	return nil
}

type fakeAuditor struct {
	actions []string
}

func (f *fakeAuditor) Record(_ context.Context, log shared.AuditLog) error {
	f.actions = append(f.actions, log.Action)
	return nil
}

func newTestService() (*Service, *fakeRepo, *fakeAuditor) {
	repo := newFakeRepo()
	audit := &fakeAuditor{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, audit), repo, audit
}

func TestCreateAccountDefaultsActive(t *testing.T) {
	svc, _, audit := newTestService()

	account, err := svc.Create(context.Background(), 7, CreateAccountRequest{
		Name:      "prod",
		Platform:  "aws",
		AccessKey: "AKIA",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	assert.True(t, account.IsActive)
	assert.Equal(t, int64(7), account.UserID)
	assert.False(t, account.LastSyncStatus)
	assert.Equal(t, []string{"account.create"}, audit.actions)
}

func TestUpdateAccountRotatesCredentialsOnlyAsPair(t *testing.T) {
	svc, repo, _ := newTestService()
	created, err := svc.Create(context.Background(), 7, CreateAccountRequest{
		Name: "prod", Platform: "aws", AccessKey: "old-key", SecretKey: "old-secret",
	})
	require.NoError(t, err)

	// Only one half supplied: stored secrets must not change.
	half := "new-key"
	_, err = svc.Update(context.Background(), 7, created.ID, UpdateAccountRequest{AccessKey: &half})
	require.NoError(t, err)
	assert.Equal(t, "old-key", repo.accounts[created.ID].AccessKey)

	newKey, newSecret := "new-key", "new-secret"
	_, err = svc.Update(context.Background(), 7, created.ID, UpdateAccountRequest{
		AccessKey: &newKey, SecretKey: &newSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-key", repo.accounts[created.ID].AccessKey)
	assert.Equal(t, "new-secret", repo.accounts[created.ID].SecretKey)
}

func TestUpdateForeignAccountNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), 7, CreateAccountRequest{
		Name: "prod", Platform: "gcp", AccessKey: "k", SecretKey: "s",
	})
	require.NoError(t, err)

	name := "stolen"
	_, err = svc.Update(context.Background(), 99, created.ID, UpdateAccountRequest{Name: &name})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteAccount(t *testing.T) {
	svc, repo, audit := newTestService()
	created, err := svc.Create(context.Background(), 7, CreateAccountRequest{
		Name: "prod", Platform: "azure", AccessKey: "k", SecretKey: "s",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), 7, created.ID))
	assert.Empty(t, repo.accounts)
	assert.Contains(t, audit.actions, "account.delete")
}
