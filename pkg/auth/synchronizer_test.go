package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classloop/portal-go/pkg/auth"
	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// env wires a synchronizer against an httptest backend and a shared memory
// store, mirroring how the portal client assembles the real thing.
type env struct {
	store *kvstore.MemoryStore
	creds *auth.Credentials
	cache *cache.Cache
	sync  *auth.Synchronizer
	api   *transport.Client
}

func newEnv(t *testing.T, handler http.Handler, cfg *auth.Config) *env {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	creds, err := auth.NewCredentials(ctx, store, zerolog.Nop())
	require.NoError(t, err)
	api, err := transport.NewClient(&transport.Config{BaseURL: server.URL}, creds, creds, zerolog.Nop())
	require.NoError(t, err)
	dataCache, err := cache.New(nil, store, zerolog.Nop())
	require.NoError(t, err)
	s, err := auth.NewSynchronizer(cfg, api, store, creds, dataCache, zerolog.Nop())
	require.NoError(t, err)

	return &env{store: store, creds: creds, cache: dataCache, sync: s, api: api}
}

// freshSynchronizer simulates a client restart: a new synchronizer instance
// (no in-memory identity, no memo) over the same store and credentials.
func (e *env) freshSynchronizer(t *testing.T, cfg *auth.Config) *auth.Synchronizer {
	t.Helper()
	s, err := auth.NewSynchronizer(cfg, e.api, e.store, e.creds, e.cache, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func writeData(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(transport.Envelope{Success: true, Data: raw}))
}

func adminUser() map[string]string {
	return map[string]string{"id": "u-admin", "role": "admin", "name": "Head Office", "email": "admin@school.test"}
}

func studentUser() map[string]string {
	return map[string]string{"id": "u-stu", "role": "student", "name": "Mina", "email": "mina@school.test", "grade": "9", "branch": "north"}
}

func TestSynchronizer_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("Admin login persists token and snapshot and sends the device id", func(t *testing.T) {
		// Arrange
		var gotBody map[string]string
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeData(t, w, map[string]any{"token": "tok-1", "user": adminUser()})
		})
		e := newEnv(t, mux, nil)

		// Act
		id, err := e.sync.Login(ctx, "admin@school.test", "secret")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, id.Role)
		assert.Equal(t, "tok-1", e.creds.Token())
		assert.NotEmpty(t, gotBody["deviceId"], "Login must present a device identifier")
		assert.Equal(t, e.creds.DeviceID(), gotBody["deviceId"])
		_, err = e.store.Get(ctx, "session:snapshot")
		assert.NoError(t, err, "Snapshot should be persisted")
	})

	t.Run("Student login is enriched by a follow-up profile fetch", func(t *testing.T) {
		// Arrange: login returns a bare identity, profile adds grade/branch.
		bare := map[string]string{"id": "u-stu", "role": "student", "name": "Mina", "email": "mina@school.test"}
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok-2", "user": bare})
		})
		var profileCalls atomic.Int32
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			profileCalls.Add(1)
			writeData(t, w, studentUser())
		})
		e := newEnv(t, mux, nil)

		// Act
		id, err := e.sync.Login(ctx, "mina@school.test", "secret")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int32(1), profileCalls.Load())
		assert.Equal(t, "9", id.Grade)
		assert.Equal(t, "north", id.Branch)
	})

	t.Run("A second login while one is in flight is rejected", func(t *testing.T) {
		// Arrange: the login handler blocks until released.
		release := make(chan struct{})
		started := make(chan struct{})
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-release
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		e := newEnv(t, mux, nil)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.sync.Login(ctx, "a", "b")
		}()
		<-started

		// Act
		_, err := e.sync.Login(ctx, "a", "b")

		// Assert
		assert.ErrorIs(t, err, auth.ErrLoginInProgress)
		close(release)
		wg.Wait()
	})

	t.Run("Login reuses the persisted device identifier across sessions", func(t *testing.T) {
		// Arrange
		var deviceIDs []string
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			deviceIDs = append(deviceIDs, body["deviceId"])
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, nil)
		})
		e := newEnv(t, mux, nil)

		// Act: login, logout, login again.
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		require.NoError(t, e.sync.Logout(ctx))
		_, err = e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)

		// Assert
		require.Len(t, deviceIDs, 2)
		assert.Equal(t, deviceIDs[0], deviceIDs[1], "The device identifier survives logout/relogin")
	})
}

func TestSynchronizer_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("Registration reuses an existing device id and persists the session", func(t *testing.T) {
		// Arrange
		var gotBody map[string]string
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeData(t, w, map[string]any{"token": "tok-new", "user": studentUser()})
		})
		e := newEnv(t, mux, nil)
		existing, err := e.creds.EnsureDeviceID(ctx)
		require.NoError(t, err)

		// Act
		id, err := e.sync.Register(ctx, auth.RegisterInput{
			Name: "Mina", Email: "mina@school.test", Password: "secret", Grade: "9", Branch: "north",
		})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, auth.RoleStudent, id.Role)
		assert.Equal(t, existing, gotBody["deviceId"], "Registration must present the existing device id")
		assert.Equal(t, "tok-new", e.creds.Token())
		_, err = e.store.Get(ctx, "session:snapshot")
		assert.NoError(t, err)
	})

	t.Run("Field-level validation errors propagate verbatim", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(transport.Envelope{
				Errors: map[string][]string{"email": {"is already registered"}},
			})
		})
		e := newEnv(t, mux, nil)

		// Act
		_, err := e.sync.Register(ctx, auth.RegisterInput{Email: "dup@school.test"})

		// Assert
		var valErr *transport.ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Equal(t, []string{"is already registered"}, valErr.Fields["email"])
	})
}

func TestSynchronizer_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("Logout clears session, token, and cache but preserves the device id", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, nil)
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		deviceID := e.creds.DeviceID()
		require.NotEmpty(t, deviceID)
		e.cache.Store(ctx, "teachers:page=1", json.RawMessage(`[]`), time.Minute)
		e.cache.Store(ctx, "branches", json.RawMessage(`[]`), time.Minute)

		// Act
		require.NoError(t, e.sync.Logout(ctx))

		// Assert
		_, ok := e.cache.Lookup(ctx, "teachers:page=1")
		assert.False(t, ok)
		_, ok = e.cache.Lookup(ctx, "branches")
		assert.False(t, ok)
		_, err = e.store.Get(ctx, "session:snapshot")
		assert.ErrorIs(t, err, kvstore.ErrNotFound)
		assert.Empty(t, e.creds.Token())
		assert.Equal(t, deviceID, e.creds.DeviceID(), "Device identifier must survive logout")
	})

	t.Run("A 401 from the logout endpoint means already logged out", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		e := newEnv(t, mux, nil)

		// Act
		err := e.sync.Logout(ctx)

		// Assert
		assert.NoError(t, err)
	})
}

func TestSynchronizer_ResolveForRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("No persisted session redirects to login with zero network calls", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		e := newEnv(t, handler, nil)

		// Act
		res := e.sync.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateUnauthenticated, res.State)
		assert.Equal(t, auth.RedirectLogin, res.Redirect)
		assert.Equal(t, int32(0), calls.Load(), "No network call may be attempted without a snapshot")
	})

	t.Run("An identity from this session's login is accepted without validation", func(t *testing.T) {
		// Arrange
		var profileCalls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			profileCalls.Add(1)
			writeData(t, w, adminUser())
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)

		// Act
		res := e.sync.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateAuthorized, res.State)
		assert.Equal(t, int32(0), profileCalls.Load())
	})

	t.Run("A persisted snapshot triggers one validation, memoized within the window", func(t *testing.T) {
		// Arrange
		var profileCalls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			profileCalls.Add(1)
			writeData(t, w, adminUser())
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)

		// Simulate a restart: fresh synchronizer, same persisted state.
		restarted := e.freshSynchronizer(t, &auth.Config{ValidationWindow: 50 * time.Millisecond})

		// Act 1: first resolution must validate.
		res1 := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})
		// Act 2: second resolution inside the window reuses the memo.
		res2 := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateAuthorized, res1.State)
		assert.Equal(t, auth.StateAuthorized, res2.State)
		assert.Equal(t, int32(1), profileCalls.Load(), "The second resolution must reuse the memoized validation")

		// Act 3: after the window expires, validation happens again.
		time.Sleep(75 * time.Millisecond)
		res3 := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})
		assert.Equal(t, auth.StateAuthorized, res3.State)
		assert.Equal(t, int32(2), profileCalls.Load())
	})

	t.Run("Concurrent resolutions coalesce into one profile call", func(t *testing.T) {
		// Arrange: the profile handler blocks so both resolutions overlap.
		var profileCalls atomic.Int32
		release := make(chan struct{})
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			profileCalls.Add(1)
			<-release
			writeData(t, w, adminUser())
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		restarted := e.freshSynchronizer(t, nil)

		// Act
		var wg sync.WaitGroup
		results := make([]auth.Resolution, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})
			}(i)
		}
		time.Sleep(50 * time.Millisecond) // let both reach the in-flight call
		close(release)
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), profileCalls.Load(), "Concurrent resolutions must share one validation call")
		require.NotNil(t, results[0].Identity)
		require.NotNil(t, results[1].Identity)
		assert.Equal(t, results[0].Identity.ID, results[1].Identity.ID)
	})

	t.Run("A student on an admin route is forbidden, not unauthenticated", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": studentUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, studentUser())
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "mina", "secret")
		require.NoError(t, err)
		restarted := e.freshSynchronizer(t, nil)

		// Act
		res := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateForbidden, res.State)
		assert.Equal(t, auth.RedirectUnauthorized, res.Redirect)
	})

	t.Run("A 401 on validation clears the session and redirects to login", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		deviceID := e.creds.DeviceID()
		restarted := e.freshSynchronizer(t, nil)

		// Act
		res := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateUnauthenticated, res.State)
		assert.Equal(t, auth.RedirectLogin, res.Redirect)
		_, err = e.store.Get(ctx, "session:snapshot")
		assert.ErrorIs(t, err, kvstore.ErrNotFound)
		assert.Equal(t, deviceID, e.creds.DeviceID(), "Device identifier must survive a forced logout")
	})

	t.Run("A device conflict clears the session but preserves the device id", func(t *testing.T) {
		// Arrange
		var loginDeviceIDs []string
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			loginDeviceIDs = append(loginDeviceIDs, body["deviceId"])
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(transport.Envelope{Code: "DEVICE_CONFLICT", Message: "superseded"})
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		deviceID := e.creds.DeviceID()
		restarted := e.freshSynchronizer(t, nil)

		// Act 1: the conflict forces re-login.
		res := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})
		require.Equal(t, auth.StateUnauthenticated, res.State)
		assert.Equal(t, deviceID, e.creds.DeviceID())

		// Act 2: the next login presents the same device id, superseding the
		// other device's session.
		_, err = restarted.Login(ctx, "a", "b")
		require.NoError(t, err)

		// Assert
		require.Len(t, loginDeviceIDs, 2)
		assert.Equal(t, deviceID, loginDeviceIDs[1])
	})

	t.Run("A backend outage falls back to the persisted snapshot when the role fits", func(t *testing.T) {
		// Arrange
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": adminUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "a", "b")
		require.NoError(t, err)
		restarted := e.freshSynchronizer(t, nil)

		// Act
		res := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateAuthorized, res.State)
		require.NotNil(t, res.Identity)
		assert.Equal(t, "u-admin", res.Identity.ID)
	})

	t.Run("A backend outage with an implausible role clears and redirects", func(t *testing.T) {
		// Arrange: persisted snapshot is a student, route requires admin.
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeData(t, w, map[string]any{"token": "tok", "user": studentUser()})
		})
		mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		e := newEnv(t, mux, nil)
		_, err := e.sync.Login(ctx, "mina", "secret")
		require.NoError(t, err)
		restarted := e.freshSynchronizer(t, nil)

		// Act
		res := restarted.ResolveForRoute(ctx, []auth.Role{auth.RoleAdmin})

		// Assert
		assert.Equal(t, auth.StateUnauthenticated, res.State)
		assert.Equal(t, auth.RedirectLogin, res.Redirect)
	})
}
