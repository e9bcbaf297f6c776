// Package auth maintains the single source of truth for "who is logged in,
// on which device, with which role". It reconciles three places that can
// disagree: the in-memory identity set at login, the persisted session
// snapshot, and the backend's authoritative profile endpoint, and it
// enforces the backend's single-active-device policy via a persistent
// device identifier.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const snapshotKey = "session:snapshot"

// ErrLoginInProgress is returned when Login is called while a previous Login
// has not yet completed. Calls are rejected, not queued.
var ErrLoginInProgress = errors.New("auth: login already in progress")

// Config holds configuration for the Synchronizer.
type Config struct {
	// ValidationWindow is how long a successful profile validation is reused
	// before the backend is consulted again on a route resolution.
	// Defaults to 60s.
	ValidationWindow time.Duration
}

// Synchronizer resolves the session state for route guards and owns the
// login/logout lifecycle. All deduplication state (the validation memo and
// the in-flight call group) lives on the instance, so tests and embedders
// can run isolated synchronizers side by side.
type Synchronizer struct {
	api    *transport.Client
	store  kvstore.Store
	creds  *Credentials
	cache  *cache.Cache
	window time.Duration
	logger zerolog.Logger

	mu            sync.Mutex
	current       *Identity // set by Login/Register for this process lifetime
	memoIdentity  *Identity // last successful profile validation
	memoAt        time.Time
	loginInFlight bool

	validate singleflight.Group
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(
	cfg *Config,
	api *transport.Client,
	store kvstore.Store,
	creds *Credentials,
	dataCache *cache.Cache,
	logger zerolog.Logger,
) (*Synchronizer, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	window := 60 * time.Second
	if cfg != nil && cfg.ValidationWindow > 0 {
		window = cfg.ValidationWindow
	}
	return &Synchronizer{
		api:    api,
		store:  store,
		creds:  creds,
		cache:  dataCache,
		window: window,
		logger: logger.With().Str("component", "Synchronizer").Logger(),
	}, nil
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
}

// Login authenticates against the backend, presenting the persistent device
// identifier so this client takes over the single-active-device slot.
// Student identities are enriched with a follow-up profile fetch for grade
// and branch. A second Login while one is in flight fails with
// ErrLoginInProgress.
func (s *Synchronizer) Login(ctx context.Context, identifier, password string) (*Identity, error) {
	s.mu.Lock()
	if s.loginInFlight {
		s.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	s.loginInFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loginInFlight = false
		s.mu.Unlock()
	}()

	deviceID, err := s.creds.EnsureDeviceID(ctx)
	if err != nil {
		return nil, err
	}

	env, err := s.api.Post(ctx, "/auth/login", loginRequest{
		Identifier: identifier,
		Password:   password,
		DeviceID:   deviceID,
	})
	if err != nil {
		return nil, err
	}

	payload, err := decodeAuthPayload(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if err := s.creds.SetToken(ctx, payload.Token); err != nil {
		// The in-memory token still authenticates this process.
		s.logger.Warn().Err(err).Msg("Token could not be persisted; session will not survive a restart.")
	}

	identity := payload.User.toIdentity()
	if identity.Role == RoleStudent {
		if enriched, profErr := s.Profile(ctx); profErr == nil {
			identity = *enriched
		} else {
			s.logger.Warn().Err(profErr).Msg("Profile enrichment after login failed; using login identity.")
		}
	}
	if err := s.persistSnapshot(ctx, identity); err != nil {
		s.logger.Warn().Err(err).Msg("Session snapshot could not be persisted.")
	}

	s.mu.Lock()
	s.current = &identity
	s.memoIdentity = &identity
	s.memoAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Str("user_id", identity.ID).Str("role", string(identity.Role)).Msg("Login succeeded.")
	return &identity, nil
}

// RegisterInput are the fields the backend requires for a new student
// account. Field-level validation errors come back as
// *transport.ValidationError.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Grade    string `json:"grade"`
	Branch   string `json:"branch"`
}

type registerRequest struct {
	RegisterInput
	DeviceID string `json:"deviceId"`
}

// Register creates an account and logs it in, with the same device-identifier
// discipline as Login.
func (s *Synchronizer) Register(ctx context.Context, input RegisterInput) (*Identity, error) {
	deviceID, err := s.creds.EnsureDeviceID(ctx)
	if err != nil {
		return nil, err
	}

	env, err := s.api.Post(ctx, "/auth/register", registerRequest{RegisterInput: input, DeviceID: deviceID})
	if err != nil {
		return nil, err
	}

	payload, err := decodeAuthPayload(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode register response: %w", err)
	}
	if err := s.creds.SetToken(ctx, payload.Token); err != nil {
		s.logger.Warn().Err(err).Msg("Token could not be persisted; session will not survive a restart.")
	}

	identity := payload.User.toIdentity()
	if err := s.persistSnapshot(ctx, identity); err != nil {
		s.logger.Warn().Err(err).Msg("Session snapshot could not be persisted.")
	}

	s.mu.Lock()
	s.current = &identity
	s.memoIdentity = &identity
	s.memoAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Str("user_id", identity.ID).Msg("Registration succeeded.")
	return &identity, nil
}

// Logout notifies the backend best-effort and always clears the local
// session: identity, snapshot, token, and every cached entry, so a different
// user on this client never sees the previous session's data. The device
// identifier survives. A 401 from the logout call means "already logged out"
// and is not an error.
func (s *Synchronizer) Logout(ctx context.Context) error {
	if _, err := s.api.Post(ctx, "/auth/logout", nil); err != nil && !errors.Is(err, transport.ErrUnauthorized) {
		s.logger.Warn().Err(err).Msg("Logout call failed; clearing local session anyway.")
	}
	s.clearLocal(ctx)
	s.logger.Info().Msg("Logged out.")
	return nil
}

// Profile re-validates the session against the backend and persists the
// refreshed snapshot. An unauthorized or device-conflict response clears the
// local session (device identifier preserved) before the error propagates.
func (s *Synchronizer) Profile(ctx context.Context) (*Identity, error) {
	env, err := s.api.Get(ctx, "/auth/profile", nil)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			s.logger.Info().Msg("Profile validation rejected the credential; clearing session.")
			s.clearLocal(ctx)
		} else if errors.Is(err, transport.ErrDeviceConflict) {
			s.logger.Info().Msg("Another device holds the session slot; clearing session, keeping device id.")
			s.clearLocal(ctx)
		}
		return nil, err
	}

	var u wireUser
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	identity := u.toIdentity()
	if err := s.persistSnapshot(ctx, identity); err != nil {
		s.logger.Warn().Err(err).Msg("Refreshed snapshot could not be persisted.")
	}
	return &identity, nil
}

// ResolveForRoute answers whether there is a valid authenticated principal
// satisfying the route's role requirement, minimizing backend validation:
// an identity from this process's own login is trusted outright, a recent
// validation is reused within the window, and concurrent resolutions share
// one in-flight profile call.
func (s *Synchronizer) ResolveForRoute(ctx context.Context, required []Role) Resolution {
	snap, ok := s.loadSnapshot(ctx)
	if !ok {
		// No persisted session at all. No network call is attempted.
		return unauthenticated()
	}

	s.mu.Lock()
	if s.current != nil {
		id := *s.current
		s.mu.Unlock()
		return s.roleCheck(id, required)
	}
	if s.memoIdentity != nil && time.Since(s.memoAt) < s.window {
		id := *s.memoIdentity
		s.mu.Unlock()
		return s.roleCheck(id, required)
	}
	s.mu.Unlock()

	v, err, _ := s.validate.Do("profile", func() (any, error) {
		return s.Profile(ctx)
	})
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) || errors.Is(err, transport.ErrDeviceConflict) {
			// Profile already cleared the local session.
			return unauthenticated()
		}
		// Backend unreachable or failing: fall back to the last persisted
		// snapshot when its role is plausible for this route, rather than
		// logging the user out over a transient outage.
		if roleAllowed(snap.Identity.Role, required) {
			s.logger.Warn().Err(err).Msg("Profile validation unavailable; using last persisted session.")
			return authorized(snap.Identity)
		}
		s.clearLocal(ctx)
		return unauthenticated()
	}

	identity := v.(*Identity)
	s.mu.Lock()
	s.memoIdentity = identity
	s.memoAt = time.Now()
	s.mu.Unlock()

	return s.roleCheck(*identity, required)
}

func (s *Synchronizer) roleCheck(id Identity, required []Role) Resolution {
	if !roleAllowed(id.Role, required) {
		s.logger.Debug().Str("role", string(id.Role)).Msg("Role does not satisfy route requirement.")
		return forbidden(id)
	}
	return authorized(id)
}

func (s *Synchronizer) persistSnapshot(ctx context.Context, identity Identity) error {
	raw, err := json.Marshal(Snapshot{Identity: identity, ValidatedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := s.store.Set(ctx, snapshotKey, string(raw)); err != nil {
		return fmt.Errorf("failed to persist session snapshot: %w", err)
	}
	return nil
}

func (s *Synchronizer) loadSnapshot(ctx context.Context) (*Snapshot, bool) {
	raw, err := s.store.Get(ctx, snapshotKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to read session snapshot.")
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.logger.Warn().Err(err).Msg("Corrupt session snapshot; discarding.")
		_ = s.store.Delete(ctx, snapshotKey)
		return nil, false
	}
	return &snap, true
}

// clearLocal drops everything session-scoped: in-memory identity, validation
// memo, snapshot, token, and the whole data cache. The device identifier is
// deliberately untouched.
func (s *Synchronizer) clearLocal(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.memoIdentity = nil
	s.memoAt = time.Time{}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, snapshotKey); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to remove session snapshot.")
	}
	if err := s.creds.ClearToken(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to remove persisted token.")
	}
	s.cache.Clear(ctx)
}
