package session

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/auth"
	"github.com/wolfeidau/staffconsole/internal/backendtest"
	"github.com/wolfeidau/staffconsole/internal/client"
	"github.com/wolfeidau/staffconsole/internal/models"
)

type stack struct {
	core    *client.Client
	tokens  *auth.TokenStore
	manager *Manager
}

// newStack wires the session layers the way the console does, sharing jar
// between stacks to simulate a second process with the same cookie store.
func newStack(t *testing.T, backend *backendtest.Backend, jar http.CookieJar) *stack {
	t.Helper()

	if jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		require.NoError(t, err)
	}

	tokens := auth.NewTokenStore()
	core, err := client.New(backend.URL(), tokens, client.WithHTTPClient(&http.Client{Jar: jar}))
	require.NoError(t, err)

	mgr := NewManager(auth.NewService(core, tokens), tokens)
	core.UseRefresher(mgr)

	return &stack{core: core, tokens: tokens, manager: mgr}
}

func listEmployees(ctx context.Context, core *client.Client) error {
	return core.Do(ctx, &client.Request{Path: "/api/employees"}, nil)
}

func TestManager_InitialState(t *testing.T) {
	backend := backendtest.New(t)
	s := newStack(t, backend, nil)

	snap := s.manager.Snapshot()
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.AccessToken)
	assert.False(t, snap.IsAuthenticated())
}

func TestManager_Bootstrap(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("hr@example.com", "password1", models.RoleHR)

	t.Run("without cookie", func(t *testing.T) {
		s := newStack(t, backend, nil)

		require.NoError(t, s.manager.Bootstrap(context.Background()))

		snap := s.manager.Snapshot()
		assert.False(t, snap.Loading)
		assert.False(t, snap.IsAuthenticated())
		assert.Empty(t, snap.AccessToken)
	})

	t.Run("with cookie from an earlier login", func(t *testing.T) {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)

		first := newStack(t, backend, jar)
		_, err = first.manager.Login(context.Background(), "hr@example.com", "password1")
		require.NoError(t, err)

		second := newStack(t, backend, jar)
		require.NoError(t, second.manager.Bootstrap(context.Background()))

		snap := second.manager.Snapshot()
		assert.False(t, snap.Loading)
		require.NotNil(t, snap.User)
		assert.Equal(t, "hr@example.com", snap.User.Email)
		assert.NotEmpty(t, snap.AccessToken)
	})

	t.Run("only refreshes once", func(t *testing.T) {
		s := newStack(t, backend, nil)
		before := backend.RefreshCalls()

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.manager.Bootstrap(context.Background())
			}()
		}
		wg.Wait()

		assert.Equal(t, before+1, backend.RefreshCalls())
	})

	t.Run("unreachable backend reports the network error", func(t *testing.T) {
		tokens := auth.NewTokenStore()
		core, err := client.New("http://127.0.0.1:1", tokens)
		require.NoError(t, err)
		mgr := NewManager(auth.NewService(core, tokens), tokens)

		err = mgr.Bootstrap(context.Background())

		var netErr *apierror.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.False(t, mgr.Snapshot().Loading)
	})

	t.Run("server error is reported, not signed out", func(t *testing.T) {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)

		first := newStack(t, backend, jar)
		_, err = first.manager.Login(context.Background(), "hr@example.com", "password1")
		require.NoError(t, err)

		backend.FailRefresh(http.StatusServiceUnavailable)
		t.Cleanup(func() { backend.FailRefresh(0) })

		second := newStack(t, backend, jar)
		_, err = second.manager.Require(context.Background())

		var reqErr *apierror.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
		assert.NotErrorIs(t, err, ErrNotAuthenticated)

		backend.FailRefresh(0)
		third := newStack(t, backend, jar)
		user, err := third.manager.Require(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "hr@example.com", user.Email)
	})
}

func TestManager_Require(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("emp@example.com", "password1", models.RoleEmployee)

	s := newStack(t, backend, nil)
	before := backend.ListCalls()

	_, err := s.manager.Require(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, before, backend.ListCalls())

	_, err = s.manager.Login(context.Background(), "emp@example.com", "password1")
	require.NoError(t, err)

	user, err := s.manager.Require(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleEmployee, user.Role)
}

func TestManager_Login(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("admin@example.com", "password1", models.RoleAdmin)

	s := newStack(t, backend, nil)

	_, err := s.manager.Login(context.Background(), "admin@example.com", "nope")
	var authErr *apierror.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid credentials", authErr.Message)
	assert.False(t, s.manager.IsAuthenticated())
	assert.Zero(t, backend.RefreshCalls())

	user, err := s.manager.Login(context.Background(), "admin@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	snap := s.manager.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, s.tokens.Get(), snap.AccessToken)
	assert.False(t, snap.Loading)
}

func TestManager_TransparentRefresh(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("admin@example.com", "password1", models.RoleAdmin)

	s := newStack(t, backend, nil)
	_, err := s.manager.Login(context.Background(), "admin@example.com", "password1")
	require.NoError(t, err)

	oldToken := s.tokens.Get()
	backend.ExpireAccessTokens()

	require.NoError(t, listEmployees(context.Background(), s.core))

	assert.Equal(t, 1, backend.RefreshCalls())
	assert.NotEqual(t, oldToken, s.tokens.Get())
	assert.Equal(t, s.tokens.Get(), s.manager.Snapshot().AccessToken)
	assert.True(t, s.manager.IsAuthenticated())
}

func TestManager_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("admin@example.com", "password1", models.RoleAdmin)
	backend.SetRefreshDelay(50 * time.Millisecond)

	s := newStack(t, backend, nil)
	_, err := s.manager.Login(context.Background(), "admin@example.com", "password1")
	require.NoError(t, err)
	backend.ExpireAccessTokens()

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = listEmployees(context.Background(), s.core)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, backend.RefreshCalls())
}

func TestManager_RefreshFailureInvalidates(t *testing.T) {
	backend := backendtest.New(t)
	backend.AddUser("admin@example.com", "password1", models.RoleAdmin)

	s := newStack(t, backend, nil)
	_, err := s.manager.Login(context.Background(), "admin@example.com", "password1")
	require.NoError(t, err)

	var invalidated atomic.Int32
	s.manager.OnInvalidated(func(err error) {
		assert.True(t, apierror.IsUnauthorized(err))
		invalidated.Add(1)
	})

	backend.ExpireAccessTokens()
	backend.RevokeRefreshTokens()

	err = listEmployees(context.Background(), s.core)

	var authErr *apierror.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), invalidated.Load())
	assert.False(t, s.manager.IsAuthenticated())
	assert.Empty(t, s.tokens.Get())
	assert.Equal(t, client.StateError, s.core.State())

	_, err = s.manager.Require(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

type failingLogout struct {
	calls int
}

func (f *failingLogout) Login(context.Context, string, string) (*auth.Result, error) {
	return &auth.Result{AccessToken: "token", User: &models.User{ID: "1", Email: "a@b.co", Role: models.RoleHR}}, nil
}

func (f *failingLogout) Refresh(context.Context) (*auth.Result, error) {
	return nil, &apierror.AuthError{StatusCode: http.StatusUnauthorized}
}

func (f *failingLogout) Logout(context.Context) {
	f.calls++
}

func TestManager_Logout(t *testing.T) {
	t.Run("clears even when the remote call fails", func(t *testing.T) {
		svc := &failingLogout{}
		tokens := auth.NewTokenStore()
		mgr := NewManager(svc, tokens)

		_, err := mgr.Login(context.Background(), "a@b.co", "password1")
		require.NoError(t, err)
		require.True(t, mgr.IsAuthenticated())

		mgr.Logout(context.Background())
		first := mgr.Snapshot()

		mgr.Logout(context.Background())
		second := mgr.Snapshot()

		assert.Equal(t, first, second)
		assert.False(t, second.IsAuthenticated())
		assert.Empty(t, second.AccessToken)
		assert.Equal(t, 2, svc.calls)
	})

	t.Run("against the backend", func(t *testing.T) {
		backend := backendtest.New(t)
		backend.AddUser("admin@example.com", "password1", models.RoleAdmin)

		s := newStack(t, backend, nil)
		_, err := s.manager.Login(context.Background(), "admin@example.com", "password1")
		require.NoError(t, err)

		s.manager.Logout(context.Background())
		assert.False(t, s.manager.IsAuthenticated())
		assert.Equal(t, 1, backend.LogoutCalls())

		_, err = s.manager.Require(context.Background())
		require.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("fresh process revokes the stored cookie", func(t *testing.T) {
		backend := backendtest.New(t)
		backend.AddUser("admin@example.com", "password1", models.RoleAdmin)

		jar, err := cookiejar.New(nil)
		require.NoError(t, err)

		first := newStack(t, backend, jar)
		_, err = first.manager.Login(context.Background(), "admin@example.com", "password1")
		require.NoError(t, err)

		second := newStack(t, backend, jar)
		second.manager.Logout(context.Background())

		assert.Equal(t, 1, backend.RefreshCalls())
		assert.Equal(t, 1, backend.LogoutCalls())
		assert.Zero(t, backend.ActiveRefreshTokens())
		assert.False(t, second.manager.IsAuthenticated())
	})

	t.Run("without a cookie sends no bearer", func(t *testing.T) {
		backend := backendtest.New(t)

		s := newStack(t, backend, nil)
		s.manager.Logout(context.Background())

		assert.Equal(t, 1, backend.RefreshCalls())
		assert.Zero(t, backend.LogoutCalls())
		assert.False(t, s.manager.Snapshot().Loading)
	})
}
