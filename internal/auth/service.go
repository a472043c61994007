package auth

import (
	"context"
	"sync"
	"time"

	"github.com/nexuzy/fides/internal/db"
	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/ids"
	"github.com/nexuzy/fides/internal/logging"
	"github.com/nexuzy/fides/internal/models"
)

const (
	// maxAttempts failed logins per handle before the lockout kicks in.
	maxAttempts = 5
	// lockoutDuration is how long a locked handle stays locked.
	lockoutDuration = 5 * time.Minute
)

// RemoteDirectory is the remote surface the login flow needs for its
// fallback path. *remote.Client implements it.
type RemoteDirectory interface {
	IsReachable() bool
	Authenticate(ctx context.Context, handle, secret string) (*models.Account, error)
	CreateAccount(ctx context.Context, acc models.Account) error
}

// Service implements the login flow: local-first verification with a
// server-side fallback when the handle is unknown locally.
type Service struct {
	store  *db.Store
	remote RemoteDirectory // may be nil when no remote store is configured

	mu       sync.Mutex
	attempts map[string]*attemptState

	now func() time.Time // stubbed in tests
}

type attemptState struct {
	failures    int
	lockedUntil time.Time
}

// NewService creates a login service.
func NewService(store *db.Store, remote RemoteDirectory) *Service {
	return &Service{
		store:    store,
		remote:   remote,
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// Login verifies a handle and secret. The local store is consulted first; a
// local miss falls back to the remote directory when reachable, and a
// remote success is mirrored into the local store so the next login works
// offline. Secrets and digests are never logged.
func (s *Service) Login(ctx context.Context, handle, secret string) (*models.Account, error) {
	if handle == "" || secret == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "handle and secret are required")
	}
	if err := s.checkLockout(handle); err != nil {
		return nil, err
	}

	acc, err := s.store.GetAccountByHandle(ctx, handle)
	switch {
	case err == nil:
		if !VerifySecret(acc.CredentialDigest, secret) {
			s.recordFailure(handle)
			logging.Warn("failed login attempt", nil, map[string]interface{}{"handle": handle})
			return nil, apperrors.New(apperrors.ErrAuthFailed, "invalid credentials")
		}
		s.clearFailures(handle)
		return s.finishLogin(ctx, acc)

	case apperrors.Is(err, apperrors.ErrNotFound):
		return s.remoteLogin(ctx, handle, secret)

	default:
		return nil, err
	}
}

// remoteLogin handles the local-miss path: server-side verification, then
// create-or-update of the account locally with a freshly computed digest.
func (s *Service) remoteLogin(ctx context.Context, handle, secret string) (*models.Account, error) {
	if s.remote == nil || !s.remote.IsReachable() {
		s.recordFailure(handle)
		return nil, apperrors.New(apperrors.ErrAuthFailed, "invalid credentials (offline)")
	}

	acc, err := s.remote.Authenticate(ctx, handle, secret)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthFailed) {
			s.recordFailure(handle)
			logging.Warn("failed remote login attempt", nil, map[string]interface{}{"handle": handle})
			return nil, err
		}
		return nil, err
	}

	// The remote document never carries a usable digest for us; derive one
	// from the just-verified secret so future logins work offline.
	digest, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}
	acc.CredentialDigest = digest

	if err := s.store.PutAccount(ctx, acc); err != nil {
		return nil, err
	}
	s.clearFailures(handle)
	logging.Info("account mirrored from remote directory",
		map[string]interface{}{"handle": handle})
	return s.finishLogin(ctx, acc)
}

func (s *Service) finishLogin(ctx context.Context, acc *models.Account) (*models.Account, error) {
	now := s.now().UTC()
	if err := s.store.TouchLastAuthenticated(ctx, acc.ID, now); err != nil {
		// Login itself succeeded; a stale timestamp is not worth failing it.
		logging.Warn("failed to record last authentication", err,
			map[string]interface{}{"account_id": acc.ID})
	} else {
		acc.LastAuthenticatedAt = &now
	}
	return acc, nil
}

// Register creates a new account locally and mirrors it to the remote store
// best effort. Handle conflicts and weak secrets surface synchronously.
func (s *Service) Register(ctx context.Context, handle, secret string, role models.Role) (*models.Account, error) {
	if err := ValidateSecretStrength(secret); err != nil {
		return nil, err
	}

	digest, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		ID:               ids.NewAccountID(),
		Handle:           handle,
		CredentialDigest: digest,
		Role:             role,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.PutAccount(ctx, acc); err != nil {
		return nil, err
	}

	s.mirrorToRemote(ctx, acc)
	return acc, nil
}

// EnsureDefaultAdmin creates the bootstrap administrator when the local
// store has no accounts at all, so a fresh install is usable before any
// remote import happens.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, handle, secret string) error {
	count, err := s.store.CountAccounts(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	acc, err := s.Register(ctx, handle, secret, models.RoleAdministrator)
	if err != nil {
		return err
	}
	logging.Info("default administrator created",
		map[string]interface{}{"handle": acc.Handle})
	return nil
}

// mirrorToRemote pushes a freshly created account to the remote directory,
// digest included. Failure is logged and absorbed; the account is already
// durable locally.
func (s *Service) mirrorToRemote(ctx context.Context, acc *models.Account) {
	if s.remote == nil || !s.remote.IsReachable() {
		return
	}
	if err := s.remote.CreateAccount(ctx, *acc); err != nil {
		logging.Warn("failed to mirror account to remote directory", err,
			map[string]interface{}{"account_id": acc.ID})
	}
}

// checkLockout rejects handles with too many recent failures.
func (s *Service) checkLockout(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.attempts[handle]
	if !ok {
		return nil
	}
	if s.now().Before(state.lockedUntil) {
		return apperrors.Newf(apperrors.ErrAccountLocked,
			"too many failed attempts; locked until %s",
			state.lockedUntil.Format(time.RFC3339))
	}
	if !state.lockedUntil.IsZero() && !s.now().Before(state.lockedUntil) {
		// lock expired
		delete(s.attempts, handle)
	}
	return nil
}

func (s *Service) recordFailure(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.attempts[handle]
	if !ok {
		state = &attemptState{}
		s.attempts[handle] = state
	}
	state.failures++
	if state.failures >= maxAttempts {
		state.lockedUntil = s.now().Add(lockoutDuration)
		state.failures = 0
		logging.Warn("handle locked after repeated failures", nil,
			map[string]interface{}{"handle": handle})
	}
}

func (s *Service) clearFailures(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, handle)
}
