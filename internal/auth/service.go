package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/client"
	"github.com/wolfeidau/staffconsole/internal/models"
)

const (
	RegisterPath = "/api/auth/register"
	LoginPath    = "/api/auth/login"
	RefreshPath  = client.RefreshPath
	LogoutPath   = "/api/auth/logout"
)

// MinPasswordLength is the shortest password accepted by Register.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Validation errors returned by Register before any request is sent.
var (
	ErrInvalidEmail      = errors.New("valid email is required")
	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrInvalidRole       = errors.New("role must be one of admin, hr, manager, employee")
	ErrMissingCredential = errors.New("email and password are required")
)

// Doer sends requests through the client core.
type Doer interface {
	Do(ctx context.Context, req *client.Request, out any) error
}

// Result is the outcome of a successful login or refresh.
type Result struct {
	AccessToken string       `json:"accessToken"`
	User        *models.User `json:"user"`
}

type resultEnvelope struct {
	Success bool    `json:"success"`
	Data    *Result `json:"data"`
}

// Registration is the account to create.
type Registration struct {
	Email           string      `json:"email"`
	Password        string      `json:"password"`
	ConfirmPassword string      `json:"-"`
	Role            models.Role `json:"role"`
}

// Validate checks the registration the way the backend would, so obvious
// mistakes are reported without a round trip.
func (r *Registration) Validate() error {
	if !emailPattern.MatchString(r.Email) {
		return ErrInvalidEmail
	}
	if len(r.Password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if r.Password != r.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if !r.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Service performs login, refresh, logout and registration against the
// backend and keeps the token store in step with the outcome.
type Service struct {
	doer   Doer
	tokens client.TokenStore
}

// NewService creates a session service.
func NewService(doer Doer, tokens client.TokenStore) *Service {
	return &Service{doer: doer, tokens: tokens}
}

// Login exchanges credentials for an access token. The backend also sets the
// refresh cookie. A rejected login never starts a refresh.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredential
	}

	res, err := s.authenticate(ctx, &client.Request{
		Method:    http.MethodPost,
		Path:      LoginPath,
		Body:      map[string]string{"email": email, "password": password},
		NoRefresh: true,
	})
	if err != nil {
		return nil, classify(err)
	}

	s.tokens.Set(res.AccessToken)

	log.Debug().Str("user_id", res.User.ID).Str("role", string(res.User.Role)).Msg("logged in")

	return res, nil
}

// Refresh mints a new access token from the refresh cookie. On any failure
// the token store is cleared.
func (s *Service) Refresh(ctx context.Context) (*Result, error) {
	res, err := s.authenticate(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   RefreshPath,
	})
	if err != nil {
		s.tokens.Set("")
		return nil, classify(err)
	}

	s.tokens.Set(res.AccessToken)

	return res, nil
}

// Logout notifies the backend so it clears the refresh cookie. Failures are
// swallowed; the local token is always cleared.
func (s *Service) Logout(ctx context.Context) {
	err := s.doer.Do(ctx, &client.Request{
		Method:    http.MethodPost,
		Path:      LogoutPath,
		NoRefresh: true,
	}, nil)
	if err != nil {
		log.Debug().Err(err).Msg("logout request failed, clearing session locally")
	}

	s.tokens.Set("")
}

// Register creates an account. It does not log the new user in.
func (s *Service) Register(ctx context.Context, reg *Registration) error {
	reg.Email = strings.TrimSpace(reg.Email)
	if err := reg.Validate(); err != nil {
		return err
	}

	return s.doer.Do(ctx, &client.Request{
		Method:    http.MethodPost,
		Path:      RegisterPath,
		Body:      reg,
		NoRefresh: true,
	}, nil)
}

func (s *Service) authenticate(ctx context.Context, req *client.Request) (*Result, error) {
	var env resultEnvelope
	if err := s.doer.Do(ctx, req, &env); err != nil {
		return nil, err
	}

	if env.Data == nil || env.Data.AccessToken == "" || env.Data.User == nil {
		return nil, &apierror.AuthError{StatusCode: http.StatusOK, Message: "response did not include a session"}
	}

	return env.Data, nil
}

// classify turns a rejected login or refresh into an AuthError. Only a 4xx
// rejects the credential; a 5xx stays a RequestError so a failing backend
// never reads as signed out. Network and cancellation errors pass through.
func classify(err error) error {
	var reqErr *apierror.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 {
		return apierror.AsAuth(reqErr)
	}
	return err
}
