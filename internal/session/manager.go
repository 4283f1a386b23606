// Package session holds the authenticated user for the running console and
// guards commands that need one.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/auth"
	"github.com/wolfeidau/staffconsole/internal/client"
	"github.com/wolfeidau/staffconsole/internal/models"
)

// ErrNotAuthenticated is returned by Require when there is no signed in user.
var ErrNotAuthenticated = errors.New("not signed in")

// Authenticator is the session service used by the manager.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	Refresh(ctx context.Context) (*auth.Result, error)
	Logout(ctx context.Context)
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	User        *models.User
	AccessToken string
	Loading     bool
}

// IsAuthenticated returns true if a user is signed in.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil
}

var _ client.Refresher = (*Manager)(nil)

// Manager is the session state machine. User and access token always change
// together. The lock is never held while a request is in flight.
type Manager struct {
	svc    Authenticator
	tokens client.TokenStore

	mu      sync.Mutex
	user    *models.User
	loading bool
	hooks   []func(error)

	bootOnce sync.Once
	bootErr  error
	ready    chan struct{}
}

// NewManager creates a manager in the loading state.
func NewManager(svc Authenticator, tokens client.TokenStore) *Manager {
	return &Manager{
		svc:     svc,
		tokens:  tokens,
		loading: true,
		ready:   make(chan struct{}),
	}
}

// Bootstrap makes the single startup refresh attempt. Later calls wait for
// and return the outcome of the first.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.bootOnce.Do(func() {
		defer close(m.ready)

		res, err := m.svc.Refresh(ctx)

		m.mu.Lock()
		m.loading = false
		if err != nil {
			m.clearLocked()
		} else {
			m.setLocked(res)
		}
		m.mu.Unlock()

		if err != nil && !apierror.IsUnauthorized(err) {
			m.bootErr = err
		}

		log.Debug().Err(err).Bool("authenticated", err == nil).Msg("session bootstrap finished")
	})

	<-m.ready
	return m.bootErr
}

// Login signs the user in. Errors from the service are returned untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.User, error) {
	res, err := m.svc.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.loading = false
	m.setLocked(res)
	user := m.user
	m.mu.Unlock()

	m.skipBootstrap()

	return user, nil
}

// Logout clears the local session whatever the outcome of the remote call.
// The backend only revokes the refresh cookie for a bearer, so a process that
// has not refreshed yet bootstraps first.
func (m *Manager) Logout(ctx context.Context) {
	if m.tokens.Get() == "" {
		if err := m.Bootstrap(ctx); err != nil {
			log.Debug().Err(err).Msg("no session to revoke before logout")
		}
	}

	m.svc.Logout(ctx)

	m.mu.Lock()
	m.loading = false
	m.clearLocked()
	m.mu.Unlock()

	m.skipBootstrap()
}

// RefreshAccessToken refreshes the session on behalf of the client core.
// On failure the session is cleared and invalidation hooks run.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	res, err := m.svc.Refresh(ctx)

	m.mu.Lock()
	if err != nil {
		m.clearLocked()
		hooks := append([]func(error){}, m.hooks...)
		m.mu.Unlock()

		for _, fn := range hooks {
			fn(err)
		}
		return "", err
	}

	m.setLocked(res)
	m.mu.Unlock()

	return res.AccessToken, nil
}

// OnInvalidated registers fn to run when a refresh fails and the session is
// dropped. fn must not issue requests.
func (m *Manager) OnInvalidated(fn func(error)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		User:        m.user,
		AccessToken: m.tokens.Get(),
		Loading:     m.loading,
	}
}

// IsAuthenticated returns true if a user is signed in.
func (m *Manager) IsAuthenticated() bool {
	return m.User() != nil
}

// User returns the signed in user, or nil.
func (m *Manager) User() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Require bootstraps the session if needed and returns the signed in user,
// or ErrNotAuthenticated. Call it before any resource request.
func (m *Manager) Require(ctx context.Context) (*models.User, error) {
	if err := m.Bootstrap(ctx); err != nil {
		return nil, err
	}

	user := m.User()
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}

// skipBootstrap settles the startup state after an explicit login or logout.
func (m *Manager) skipBootstrap() {
	m.bootOnce.Do(func() { close(m.ready) })
}

func (m *Manager) setLocked(res *auth.Result) {
	u := *res.User
	m.user = &u
	m.tokens.Set(res.AccessToken)
}

func (m *Manager) clearLocked() {
	m.user = nil
	m.tokens.Set("")
}
