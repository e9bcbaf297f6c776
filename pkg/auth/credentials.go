package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	tokenKey  = "session:token"
	deviceKey = "device:id"
)

// Credentials holds the bearer token and device identifier, backed by the
// persistent store and mirrored in memory. It satisfies the transport
// package's TokenSource and DeviceIDSource, which is how authenticated
// headers reach every request.
//
// The device identifier outlives sessions: it names this client installation
// to the backend's single-active-device policy and is never removed, not
// even on logout.
type Credentials struct {
	store  kvstore.Store
	logger zerolog.Logger

	mu       sync.RWMutex
	token    string
	deviceID string
}

// NewCredentials loads any persisted token and device identifier.
func NewCredentials(ctx context.Context, store kvstore.Store, logger zerolog.Logger) (*Credentials, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	c := &Credentials{
		store:  store,
		logger: logger.With().Str("component", "Credentials").Logger(),
	}

	token, err := store.Get(ctx, tokenKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load persisted token: %w", err)
	}
	c.token = token

	deviceID, err := store.Get(ctx, deviceKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load persisted device id: %w", err)
	}
	c.deviceID = deviceID

	return c, nil
}

// Token returns the current bearer token, or "" when unauthenticated.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken stores a new bearer token in memory and persists it. A persistence
// failure keeps the in-memory token usable for the rest of the process.
func (c *Credentials) SetToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	if err := c.store.Set(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// ClearToken removes the bearer token from memory and the store.
func (c *Credentials) ClearToken(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if err := c.store.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("failed to remove persisted token: %w", err)
	}
	return nil
}

// DeviceID returns the persisted device identifier, or "" before one exists.
func (c *Credentials) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// EnsureDeviceID returns the existing device identifier, generating and
// persisting a fresh one only when none exists yet. Reusing the identifier
// means a new login cleanly supersedes whichever device currently holds the
// session slot.
func (c *Credentials) EnsureDeviceID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceID != "" {
		return c.deviceID, nil
	}

	id := uuid.NewString()
	if err := c.store.Set(ctx, deviceKey, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	c.deviceID = id
	c.logger.Debug().Str("device_id", id).Msg("Generated new device identifier.")
	return id, nil
}
