// Package backendtest provides an in-memory employee backend for tests. It
// implements the auth endpoints with a rotating refresh cookie, access tokens
// that can be expired on demand, and role based masking of salary and SSN.
package backendtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfeidau/staffconsole/internal/models"
)

// RefreshCookie is the name of the refresh credential cookie.
const RefreshCookie = "refreshToken"

// AccessTokenTTL is the lifetime written into issued access tokens.
const AccessTokenTTL = 15 * time.Minute

type account struct {
	user     models.User
	password string
}

// Backend is a fake of the REST backend.
type Backend struct {
	Server *httptest.Server

	signingKey []byte

	mu            sync.Mutex
	accounts      map[string]*account // by email
	accessTokens  map[string]string   // token -> user id
	refreshTokens map[string]string   // token -> user id
	employees     []*models.Employee

	refreshCalls atomic.Int32
	loginCalls   atomic.Int32
	logoutCalls  atomic.Int32
	listCalls    atomic.Int32

	refreshDelay  atomic.Int64
	listDelay     atomic.Int64
	refreshStatus atomic.Int32

	lastPayload atomic.Pointer[map[string]any]
}

// New starts a backend on a local listener. It is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		signingKey:    randomBytes(32),
		accounts:      make(map[string]*account),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", b.register)
	mux.HandleFunc("POST /api/auth/login", b.login)
	mux.HandleFunc("POST /api/auth/refresh", b.refresh)
	mux.HandleFunc("POST /api/auth/logout", b.authed(b.logout))
	mux.HandleFunc("GET /api/employees", b.authed(b.listEmployees))
	mux.HandleFunc("POST /api/employees", b.authed(b.createEmployee))
	mux.HandleFunc("GET /api/employees/{id}", b.authed(b.getEmployee))
	mux.HandleFunc("PUT /api/employees/{id}", b.authed(b.updateEmployee))
	mux.HandleFunc("DELETE /api/employees/{id}", b.authed(b.deleteEmployee))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)

	return b
}

// URL is the base URL of the backend.
func (b *Backend) URL() string { return b.Server.URL }

// AddUser creates an account.
func (b *Backend) AddUser(email, password string, role models.Role) models.User {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := models.User{ID: uuid.NewString(), Email: email, Role: role}
	b.accounts[strings.ToLower(email)] = &account{user: u, password: password}
	return u
}

// AddEmployee stores an employee, assigning an id when it has none.
func (b *Backend) AddEmployee(e models.Employee) *models.Employee {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.ID == "" {
		e.ID = newObjectID()
	}
	if e.Status == "" {
		e.Status = models.StatusActive
	}
	stored := e
	b.employees = append(b.employees, &stored)
	return &stored
}

// SetRefreshDelay stalls every refresh call, to widen coalescing windows.
func (b *Backend) SetRefreshDelay(d time.Duration) { b.refreshDelay.Store(int64(d)) }

// SetListDelay stalls every list call, to exercise cancellation.
func (b *Backend) SetListDelay(d time.Duration) { b.listDelay.Store(int64(d)) }

// FailRefresh makes every refresh call answer with status before the cookie
// is looked at. Zero restores normal behaviour.
func (b *Backend) FailRefresh(status int) { b.refreshStatus.Store(int32(status)) }

// ExpireAccessTokens invalidates every issued access token, as if they had
// all reached their expiry.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	clear(b.accessTokens)
	b.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	clear(b.refreshTokens)
	b.mu.Unlock()
}

// RefreshCalls is the number of refresh requests received.
func (b *Backend) RefreshCalls() int { return int(b.refreshCalls.Load()) }

// ActiveRefreshTokens is the number of refresh cookies the backend would
// still honour.
func (b *Backend) ActiveRefreshTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refreshTokens)
}

// LoginCalls is the number of login requests received.
func (b *Backend) LoginCalls() int { return int(b.loginCalls.Load()) }

// LogoutCalls is the number of logout requests received with a valid bearer.
func (b *Backend) LogoutCalls() int { return int(b.logoutCalls.Load()) }

// ListCalls is the number of employee list requests received.
func (b *Backend) ListCalls() int { return int(b.listCalls.Load()) }

// LastPayload is the decoded body of the last create or update request.
func (b *Backend) LastPayload() map[string]any {
	p := b.lastPayload.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Employee returns a copy of the stored employee.
func (b *Backend) Employee(id string) (models.Employee, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.employees {
		if e.ID == id {
			return *e, true
		}
	}
	return models.Employee{}, false
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Role     models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var problems []string
	if !strings.Contains(req.Email, "@") {
		problems = append(problems, "email must be valid")
	}
	if len(req.Password) < 8 {
		problems = append(problems, "password must be at least 8 characters")
	}
	if !req.Role.Valid() {
		problems = append(problems, "role is invalid")
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": problems})
		return
	}

	b.mu.Lock()
	_, exists := b.accounts[strings.ToLower(req.Email)]
	b.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}

	u := b.AddUser(req.Email, req.Password, req.Role)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": u})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	b.loginCalls.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	b.mu.Lock()
	acc, ok := b.accounts[strings.ToLower(req.Email)]
	b.mu.Unlock()
	if !ok || acc.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	b.issueSession(w, acc.user)
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	if d := time.Duration(b.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	if status := int(b.refreshStatus.Load()); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}

	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token missing")
		return
	}

	b.mu.Lock()
	userID, ok := b.refreshTokens[cookie.Value]
	delete(b.refreshTokens, cookie.Value)
	user, found := b.userByID(userID)
	b.mu.Unlock()

	if !ok || !found {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	b.issueSession(w, user)
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request, _ models.User) {
	b.logoutCalls.Add(1)

	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		b.mu.Lock()
		delete(b.refreshTokens, cookie.Value)
		b.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) issueSession(w http.ResponseWriter, user models.User) {
	access := b.signAccessToken(user)
	refresh := hex.EncodeToString(randomBytes(24))

	b.mu.Lock()
	b.accessTokens[access] = user.ID
	b.refreshTokens[refresh] = user.ID
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/api/auth",
		Expires:  time.Now().Add(7 * 24 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"accessToken": access,
			"user":        user,
		},
	})
}

func (b *Backend) signAccessToken(user models.User) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(AccessTokenTTL).Unix(),
		"jti":  uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		panic(err)
	}
	return signed
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user models.User)

func (b *Backend) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing access token")
			return
		}

		b.mu.Lock()
		userID, valid := b.accessTokens[token]
		user, found := b.userByID(userID)
		b.mu.Unlock()

		if !valid || !found {
			writeError(w, http.StatusUnauthorized, "Token expired")
			return
		}

		next(w, r, user)
	}
}

func (b *Backend) listEmployees(w http.ResponseWriter, r *http.Request, user models.User) {
	b.listCalls.Add(1)

	if d := time.Duration(b.listDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	page := positiveInt(r.URL.Query().Get("page"), 1)
	limit := positiveInt(r.URL.Query().Get("limit"), 20)
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	b.mu.Lock()
	matched := make([]models.Employee, 0, len(b.employees))
	for _, e := range b.employees {
		if q == "" || matches(e, q) {
			matched = append(matched, mask(*e, user.Role))
		}
	}
	b.mu.Unlock()

	total := len(matched)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    matched[start:end],
		"meta": map[string]any{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": (total + limit - 1) / limit,
		},
	})
}

func (b *Backend) getEmployee(w http.ResponseWriter, r *http.Request, user models.User) {
	e, ok := b.Employee(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Employee not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": mask(e, user.Role)})
}

func (b *Backend) createEmployee(w http.ResponseWriter, r *http.Request, user models.User) {
	e, ok := b.decodeEmployee(w, r)
	if !ok {
		return
	}

	if !user.Role.CanEditEmployees() {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var problems []string
	for field, v := range map[string]string{"employeeId": e.EmployeeID, "firstName": e.FirstName, "lastName": e.LastName, "email": e.Email} {
		if v == "" {
			problems = append(problems, field+" is required")
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": problems})
		return
	}

	if !user.Role.CanSeeSensitive() {
		e.Salary, e.SSN = nil, nil
	}

	stored := b.AddEmployee(e)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": mask(*stored, user.Role)})
}

func (b *Backend) updateEmployee(w http.ResponseWriter, r *http.Request, user models.User) {
	patch, ok := b.decodeEmployee(w, r)
	if !ok {
		return
	}

	if !user.Role.CanEditEmployees() {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	b.mu.Lock()
	var target *models.Employee
	for _, e := range b.employees {
		if e.ID == r.PathValue("id") {
			target = e
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "Employee not found")
		return
	}

	salary, ssn := target.Salary, target.SSN
	patch.ID = target.ID
	if patch.Status == "" {
		patch.Status = target.Status
	}
	*target = patch
	if !user.Role.CanSeeSensitive() || patch.Salary == nil {
		target.Salary = salary
	}
	if !user.Role.CanSeeSensitive() || patch.SSN == nil {
		target.SSN = ssn
	}
	updated := *target
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": mask(updated, user.Role)})
}

func (b *Backend) deleteEmployee(w http.ResponseWriter, r *http.Request, user models.User) {
	if !user.Role.CanDeleteEmployees() {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := r.PathValue("id")
	idx := slices.IndexFunc(b.employees, func(e *models.Employee) bool { return e.ID == id })
	if idx < 0 {
		writeError(w, http.StatusNotFound, "Employee not found")
		return
	}
	b.employees = slices.Delete(b.employees, idx, idx+1)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) decodeEmployee(w http.ResponseWriter, r *http.Request) (models.Employee, bool) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return models.Employee{}, false
	}
	b.lastPayload.Store(&raw)

	data, _ := json.Marshal(raw)
	var e models.Employee
	if err := json.Unmarshal(data, &e); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return models.Employee{}, false
	}
	return e, true
}

// userByID must be called with b.mu held.
func (b *Backend) userByID(id string) (models.User, bool) {
	for _, acc := range b.accounts {
		if acc.user.ID == id {
			return acc.user, true
		}
	}
	return models.User{}, false
}

func mask(e models.Employee, role models.Role) models.Employee {
	if !role.CanSeeSensitive() {
		e.Salary = nil
		e.SSN = nil
	}
	return e
}

func matches(e *models.Employee, q string) bool {
	for _, field := range []string{e.EmployeeID, e.FirstName, e.LastName, e.Email, e.Department, e.Position} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func newObjectID() string {
	return hex.EncodeToString(randomBytes(12))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
