package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuzy/fides/internal/db"
	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/ids"
	"github.com/nexuzy/fides/internal/models"
)

// fakeDirectory is an in-memory RemoteDirectory.
type fakeDirectory struct {
	reachable bool
	accounts  map[string]string // handle -> secret
	created   []models.Account
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		reachable: true,
		accounts:  make(map[string]string),
	}
}

func (f *fakeDirectory) IsReachable() bool { return f.reachable }

func (f *fakeDirectory) Authenticate(_ context.Context, handle, secret string) (*models.Account, error) {
	stored, ok := f.accounts[handle]
	if !ok || stored != secret {
		return nil, apperrors.New(apperrors.ErrAuthFailed, "remote authentication rejected")
	}
	return &models.Account{
		ID:        ids.NewAccountID(),
		Handle:    handle,
		Role:      models.RoleStandard,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeDirectory) CreateAccount(_ context.Context, acc models.Account) error {
	f.created = append(f.created, acc)
	return nil
}

func setupService(t *testing.T) (*Service, *db.Store, *fakeDirectory) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })

	dir := newFakeDirectory()
	return NewService(store, dir), store, dir
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, dir := setupService(t)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)
	assert.True(t, ids.ValidAccountID(acc.ID))
	assert.NotEqual(t, "secret1", acc.CredentialDigest)

	// The fresh account is mirrored to the remote directory with its digest.
	require.Len(t, dir.created, 1)
	assert.Equal(t, acc.CredentialDigest, dir.created[0].CredentialDigest)

	got, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.NotNil(t, got.LastAuthenticatedAt)
}

func TestRegisterRejectsWeakSecret(t *testing.T) {
	svc, _, _ := setupService(t)
	_, err := svc.Register(context.Background(), "alice", "abc", models.RoleStandard)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestRegisterDuplicateHandle(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "other99", models.RoleStandard)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestLoginWrongSecret(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong99")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))
}

func TestLoginValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "", "secret1")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	_, err = svc.Login(ctx, "alice", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestLoginRemoteFallbackMirrorsAccount(t *testing.T) {
	svc, store, dir := setupService(t)
	ctx := context.Background()

	dir.accounts["bob"] = "secret1"

	acc, err := svc.Login(ctx, "bob", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "bob", acc.Handle)

	// The account now exists locally with a usable digest.
	local, err := store.GetAccountByHandle(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, VerifySecret(local.CredentialDigest, "secret1"))

	// Next login works even with the remote gone.
	dir.reachable = false
	_, err = svc.Login(ctx, "bob", "secret1")
	assert.NoError(t, err)
}

func TestLoginUnknownHandleOffline(t *testing.T) {
	svc, _, dir := setupService(t)
	dir.reachable = false

	_, err := svc.Login(context.Background(), "ghost", "secret1")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))
}

func TestLoginRemoteRejects(t *testing.T) {
	svc, store, dir := setupService(t)
	ctx := context.Background()

	dir.accounts["bob"] = "secret1"
	_, err := svc.Login(ctx, "bob", "wrong99")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))

	// A rejected remote login must not create a local account.
	_, err = store.GetAccountByHandle(ctx, "bob")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)

	for i := 0; i < maxAttempts; i++ {
		_, err = svc.Login(ctx, "alice", "wrong99")
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))
	}

	// Even the correct secret is rejected while locked.
	_, err = svc.Login(ctx, "alice", "secret1")
	assert.True(t, apperrors.Is(err, apperrors.ErrAccountLocked))

	// The lock expires on its own.
	now = now.Add(lockoutDuration + time.Second)
	_, err = svc.Login(ctx, "alice", "secret1")
	assert.NoError(t, err)
}

func TestSuccessClearsFailureCount(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)

	for i := 0; i < maxAttempts-1; i++ {
		svc.Login(ctx, "alice", "wrong99")
	}
	_, err = svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	// The counter reset; the next run of failures starts from zero.
	for i := 0; i < maxAttempts-1; i++ {
		_, err = svc.Login(ctx, "alice", "wrong99")
		assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaultAdmin(ctx, "admin", "admin123"))

	acc, err := store.GetAccountByHandle(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, acc.IsAdministrator())

	// A populated store is left untouched.
	require.NoError(t, svc.EnsureDefaultAdmin(ctx, "admin2", "admin123"))
	_, err = store.GetAccountByHandle(ctx, "admin2")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestServiceWithoutRemote(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, nil)
	ctx := context.Background()

	_, err = svc.Register(ctx, "alice", "secret1", models.RoleStandard)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "secret1")
	assert.NoError(t, err)

	_, err = svc.Login(ctx, "ghost", "secret1")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthFailed))
}
