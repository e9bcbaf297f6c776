package auth_test

import (
	"context"
	"testing"

	"github.com/classloop/portal-go/pkg/auth"
	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("EnsureDeviceID generates once and then always returns the same id", func(t *testing.T) {
		// Arrange
		store := kvstore.NewMemoryStore()
		creds, err := auth.NewCredentials(ctx, store, zerolog.Nop())
		require.NoError(t, err)

		// Act
		first, err := creds.EnsureDeviceID(ctx)
		require.NoError(t, err)
		second, err := creds.EnsureDeviceID(ctx)
		require.NoError(t, err)

		// Assert
		assert.NotEmpty(t, first)
		assert.Equal(t, first, second)
	})

	t.Run("Device id and token are reloaded by a new instance", func(t *testing.T) {
		// Arrange
		store := kvstore.NewMemoryStore()
		creds, err := auth.NewCredentials(ctx, store, zerolog.Nop())
		require.NoError(t, err)
		deviceID, err := creds.EnsureDeviceID(ctx)
		require.NoError(t, err)
		require.NoError(t, creds.SetToken(ctx, "tok-1"))

		// Act
		reloaded, err := auth.NewCredentials(ctx, store, zerolog.Nop())
		require.NoError(t, err)

		// Assert
		assert.Equal(t, deviceID, reloaded.DeviceID())
		assert.Equal(t, "tok-1", reloaded.Token())
	})

	t.Run("ClearToken removes the token but not the device id", func(t *testing.T) {
		// Arrange
		store := kvstore.NewMemoryStore()
		creds, err := auth.NewCredentials(ctx, store, zerolog.Nop())
		require.NoError(t, err)
		deviceID, err := creds.EnsureDeviceID(ctx)
		require.NoError(t, err)
		require.NoError(t, creds.SetToken(ctx, "tok-1"))

		// Act
		require.NoError(t, creds.ClearToken(ctx))

		// Assert
		assert.Empty(t, creds.Token())
		assert.Equal(t, deviceID, creds.DeviceID())
	})
}
