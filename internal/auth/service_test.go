package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

type fakeUserRepo struct {
	nextID int64
	users  map[string]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[string]*User)}
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) Create(_ context.Context, email, passwordHash string) (*User, error) {
	u := &User{ID: f.nextID, Email: email, PasswordHash: passwordHash, IsActive: true}
	f.nextID++
	f.users[email] = u
	return u, nil
}

func newTestAuth(t *testing.T) (*Service, *fakeUserRepo, *shared.TokenManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens := shared.NewTokenManager(client, "sentinel:test", time.Hour)
	repo := newFakeUserRepo()
	return NewService(repo, tokens), repo, tokens
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, repo, _ := newTestAuth(t)

	user, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	stored := repo.users["op@example.com"]
	require.NotNil(t, stored)
	assert.Equal(t, user.ID, stored.ID)
	assert.NotEqual(t, "hunter2hunter2", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("hunter2hunter2")))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestAuth(t)

	_, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "op@example.com", "another-pass")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginIssuesResolvableToken(t *testing.T) {
	svc, _, tokens := newTestAuth(t)
	user, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	token, got, err := svc.Login(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	resolved, err := tokens.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newTestAuth(t)
	_, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "op@example.com", "wrong-password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	svc, repo, _ := newTestAuth(t)
	_, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)
	repo.users["op@example.com"].IsActive = false

	_, _, err = svc.Login(context.Background(), "op@example.com", "hunter2hunter2")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _, tokens := newTestAuth(t)
	_, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	token, _, err := svc.Login(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), token))
	_, err = tokens.Resolve(context.Background(), token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRequireUserMiddleware(t *testing.T) {
	svc, _, tokens := newTestAuth(t)
	_, err := svc.Register(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)
	token, user, err := svc.Login(context.Background(), "op@example.com", "hunter2hunter2")
	require.NoError(t, err)

	mw := NewMiddleware(tokens)
	var gotUserID int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = shared.UserIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.RequireUser(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, gotUserID)

	rec = httptest.NewRecorder()
	mw.RequireUser(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
