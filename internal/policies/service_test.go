package policies

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-iam/sentinel/internal/cloud"
	"github.com/sentinel-iam/sentinel/internal/inventory"
	"github.com/sentinel-iam/sentinel/internal/shared"
)

type fakeRepo struct {
	contexts map[int64]inventory.PolicyContext
	deleted  []int64
	updates  []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{contexts: make(map[int64]inventory.PolicyContext)}
}

func (f *fakeRepo) UpsertEntity(context.Context, inventory.Entity) (int64, error) { return 0, nil }
func (f *fakeRepo) UpsertPolicy(context.Context, inventory.Policy) (int64, error) { return 0, nil }
func (f *fakeRepo) ListEntities(context.Context, int64, int64) ([]inventory.Entity, error) {
	return nil, nil
}
func (f *fakeRepo) ListPolicies(context.Context, int64, int64) ([]inventory.Policy, error) {
	return nil, nil
}

func (f *fakeRepo) GetPolicy(_ context.Context, userID, policyID int64) (inventory.Policy, error) {
	pc, ok := f.contexts[policyID]
	if !ok || pc.UserID != userID {
		return inventory.Policy{}, shared.ErrNotFound
	}
	return pc.Policy, nil
}

func (f *fakeRepo) GetPolicyContext(_ context.Context, userID, policyID int64) (inventory.PolicyContext, error) {
	pc, ok := f.contexts[policyID]
	if !ok || pc.UserID != userID {
		return inventory.PolicyContext{}, shared.ErrNotFound
	}
	return pc, nil
}

func (f *fakeRepo) UpdatePolicyScan(_ context.Context, policyID int64, document map[string]any, score int, vulnerable bool, findings []string) error {
	pc, ok := f.contexts[policyID]
	if !ok {
		return shared.ErrNotFound
	}
	pc.Policy.Document = document
	pc.Policy.RiskScore = score
	pc.Policy.IsVulnerable = vulnerable
	pc.Policy.Findings = findings
	f.contexts[policyID] = pc
	f.updates = append(f.updates, policyID)
	return nil
}

func (f *fakeRepo) DeletePolicy(_ context.Context, policyID int64) error {
	if _, ok := f.contexts[policyID]; !ok {
		return shared.ErrNotFound
	}
	delete(f.contexts, policyID)
	f.deleted = append(f.deleted, policyID)
	return nil
}

type fakeProvider struct {
	writeErr  error
	deleteErr error

	wrote   []map[string]any
	removed []string
}

func (f *fakeProvider) ListIdentities(context.Context) ([]cloud.Identity, error) { return nil, nil }
func (f *fakeProvider) ListPolicyDocuments(context.Context, cloud.Identity) ([]cloud.PolicyDocument, error) {
	return nil, nil
}

func (f *fakeProvider) WritePolicy(_ context.Context, _ string, doc map[string]any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.wrote = append(f.wrote, doc)
	return nil
}

func (f *fakeProvider) DeletePolicy(_ context.Context, ref string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.removed = append(f.removed, ref)
	return nil
}

func newTestService(provider *fakeProvider) (*Service, *fakeRepo) {
	repo := newFakeRepo()
	repo.contexts[1] = inventory.PolicyContext{
		Policy: inventory.Policy{
			ID:        1,
			EntityID:  10,
			Name:      "app-policy",
			ArnOrID:   "arn:aws:iam::123456789012:policy/app",
			Document:  map[string]any{"Version": "2012-10-17"},
			RiskScore: 0,
		},
		AccountID: 5,
		UserID:    7,
		Platform:  cloud.PlatformAWS,
		AccessKey: "k",
		SecretKey: "s",
	}
	factory := func(context.Context, *slog.Logger, cloud.Credentials) (cloud.Provider, error) {
		return provider, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, factory, nil), repo
}

func adminDoc() map[string]any {
	return map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{"Effect": "Allow", "Action": "*", "Resource": "*"},
		},
	}
}

func TestApplyWritesRemoteThenRescans(t *testing.T) {
	provider := &fakeProvider{}
	svc, repo := newTestService(provider)

	updated, err := svc.Apply(context.Background(), 7, 1, adminDoc())
	require.NoError(t, err)

	require.Len(t, provider.wrote, 1)
	assert.Equal(t, 95, updated.RiskScore)
	assert.True(t, updated.IsVulnerable)
	assert.NotEmpty(t, updated.Findings)
	assert.Equal(t, []int64{1}, repo.updates)
}

func TestApplyRemoteRejectionLeavesRow(t *testing.T) {
	provider := &fakeProvider{writeErr: shared.ErrRemoteWriteRejected}
	svc, repo := newTestService(provider)

	_, err := svc.Apply(context.Background(), 7, 1, adminDoc())
	require.ErrorIs(t, err, shared.ErrRemoteWriteRejected)

	assert.Empty(t, repo.updates)
	assert.Equal(t, map[string]any{"Version": "2012-10-17"}, repo.contexts[1].Policy.Document)
}

func TestApplyUnknownPolicy(t *testing.T) {
	svc, _ := newTestService(&fakeProvider{})

	_, err := svc.Apply(context.Background(), 7, 42, adminDoc())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyForeignPolicy(t *testing.T) {
	svc, _ := newTestService(&fakeProvider{})

	_, err := svc.Apply(context.Background(), 99, 1, adminDoc())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteGatedOnRemoteSuccess(t *testing.T) {
	provider := &fakeProvider{}
	svc, repo := newTestService(provider)

	require.NoError(t, svc.Delete(context.Background(), 7, 1))
	assert.Equal(t, []string{"arn:aws:iam::123456789012:policy/app"}, provider.removed)
	assert.Equal(t, []int64{1}, repo.deleted)
}

func TestDeleteRemoteFailureKeepsRow(t *testing.T) {
	provider := &fakeProvider{deleteErr: shared.ErrUnsupported}
	svc, repo := newTestService(provider)

	err := svc.Delete(context.Background(), 7, 1)
	require.ErrorIs(t, err, shared.ErrUnsupported)

	assert.Empty(t, repo.deleted)
	assert.Contains(t, repo.contexts, int64(1))
}
