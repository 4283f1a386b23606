package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/cmd/cli/internal/credentials"
	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/auth"
	"github.com/wolfeidau/staffconsole/internal/client"
	"github.com/wolfeidau/staffconsole/internal/employees"
	"github.com/wolfeidau/staffconsole/internal/models"
	"github.com/wolfeidau/staffconsole/internal/session"
	"github.com/wolfeidau/staffconsole/internal/telemetry"
)

const serviceName = "staffconsole"

// app is the console wired for one backend: one process behaves like one
// browser tab with its own in-memory access token.
type app struct {
	globals *Globals
	cfg     client.Config

	store     *credentials.Store
	jar       *credentials.Jar
	transport *client.Transport
	tokens    *auth.TokenStore
	core      *client.Client
	auth      *auth.Service
	session   *session.Manager
	employees *employees.Service

	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, globals *Globals) (*app, error) {
	cfg := client.DefaultConfig()
	if globals.APIURL != "" {
		cfg.BaseURL = globals.APIURL
	}
	if globals.Timeout > 0 {
		cfg.Timeout = globals.Timeout
	}
	cfg.Debug = globals.Debug
	cfg.Cache = globals.Cache
	cfg.Retries = globals.Retries
	cfg.Tracing = globals.Tracing

	store, err := credentials.NewStore(globals.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	jar, err := store.Jar(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}

	a := &app{
		globals: globals,
		cfg:     cfg,
		store:   store,
		jar:     jar,
		tokens:  auth.NewTokenStore(),
	}

	if cfg.Tracing {
		a.shutdown, err = telemetry.InitTelemetry(ctx, serviceName, globals.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	a.transport = client.NewTransport(cfg, jar, log.Logger)

	a.core, err = client.New(cfg.BaseURL, a.tokens,
		client.WithHTTPClient(a.transport.HTTP),
		client.WithRefreshTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	a.auth = auth.NewService(a.core, a.tokens)
	a.session = session.NewManager(a.auth, a.tokens)
	a.core.UseRefresher(a.session)
	a.session.OnInvalidated(a.sessionInvalidated)

	a.employees = employees.NewService(a.core)

	log.Debug().Str("api_url", cfg.BaseURL).Str("session_dir", store.Dir()).Msg("console ready")

	return a, nil
}

// close flushes telemetry.
func (a *app) close() {
	if a.shutdown == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to flush telemetry")
	}
}

// require returns the signed in user, refreshing the session from the
// persisted cookie on first use.
func (a *app) require(ctx context.Context) (*models.User, error) {
	user, err := a.session.Require(ctx)
	if errors.Is(err, session.ErrNotAuthenticated) && a.jar.Len() > 0 {
		// the backend refused the stored cookie
		a.signedOut()
	}
	return user, err
}

// signedIn records a successful login.
func (a *app) signedIn(user *models.User) {
	a.resetCache()
	if err := a.store.Save(a.cfg.BaseURL, user); err != nil {
		log.Warn().Err(err).Msg("failed to record session")
	}
}

// signedOut forgets the session for the backend, cookie included.
func (a *app) signedOut() {
	a.resetCache()
	if err := a.jar.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear cookies")
	}
	if err := a.store.Delete(a.cfg.BaseURL); err != nil {
		log.Warn().Err(err).Msg("failed to delete session")
	}
}

// sessionInvalidated runs when a refresh fails while a command is running.
// Only a rejected refresh ends the session; a network failure leaves the
// cookie in place for the next attempt.
func (a *app) sessionInvalidated(err error) {
	var authErr *apierror.AuthError
	if !errors.As(err, &authErr) {
		return
	}

	fmt.Fprintln(a.globals.stderr(), "Your session has expired. Run 'staffconsole login <email>' to sign in again.")
	a.signedOut()
}

func (a *app) resetCache() {
	if a.transport.Cache != nil {
		a.transport.Cache.Reset()
	}
}
