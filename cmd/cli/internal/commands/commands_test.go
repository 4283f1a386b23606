package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/staffconsole/cmd/cli/internal/credentials"
	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/auth"
	"github.com/wolfeidau/staffconsole/internal/backendtest"
	"github.com/wolfeidau/staffconsole/internal/employees"
	"github.com/wolfeidau/staffconsole/internal/models"
	"github.com/wolfeidau/staffconsole/internal/session"
)

const password = "password1"

type console struct {
	backend    *backendtest.Backend
	sessionDir string
	adaID      string
}

func newConsole(t *testing.T) *console {
	t.Helper()

	b := backendtest.New(t)
	for _, role := range models.Roles {
		b.AddUser(string(role)+"@example.com", password, role)
	}

	salary := 120000.0
	ssn := "123-45-6789"
	ada := b.AddEmployee(models.Employee{
		EmployeeID: "E001",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@example.com",
		Position:   "Engineer",
		Department: "Engineering",
		HireDate:   &models.Date{Time: time.Now().Add(-48 * time.Hour)},
		Salary:     &salary,
		SSN:        &ssn,
	})
	b.AddEmployee(models.Employee{
		EmployeeID: "E002",
		FirstName:  "Grace",
		LastName:   "Hopper",
		Email:      "grace@example.com",
		Department: "Engineering",
		Status:     models.StatusInactive,
	})
	b.AddEmployee(models.Employee{
		EmployeeID: "E003",
		FirstName:  "Katherine",
		LastName:   "Johnson",
		Email:      "katherine@example.com",
		Department: "Research",
	})

	return &console{backend: b, sessionDir: t.TempDir(), adaID: ada.ID}
}

// run executes cmd as a fresh process would, returning stdout and stderr.
func (c *console) run(t *testing.T, cmd interface {
	Run(context.Context, *Globals) error
}, stdin string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := cmd.Run(context.Background(), &Globals{
		APIURL:     c.backend.URL(),
		Timeout:    5 * time.Second,
		SessionDir: c.sessionDir,
		Stdin:      strings.NewReader(stdin),
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	return stdout.String(), stderr.String(), err
}

func (c *console) login(t *testing.T, role models.Role) {
	t.Helper()
	_, _, err := c.run(t, &LoginCmd{Email: string(role) + "@example.com", Password: password}, "")
	require.NoError(t, err)
}

func (c *console) store(t *testing.T) *credentials.Store {
	t.Helper()
	store, err := credentials.NewStore(c.sessionDir)
	require.NoError(t, err)
	return store
}

func TestSessionLifecycle(t *testing.T) {
	c := newConsole(t)

	out, _, err := c.run(t, &RegisterCmd{Email: "new@example.com", Role: "manager", Password: "longenough"}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Account created for new@example.com (manager)")
	assert.Zero(t, c.backend.LoginCalls(), "register must not sign in")

	out, _, err = c.run(t, &LoginCmd{Email: "new@example.com", Password: "longenough"}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as new@example.com (manager)")

	sess, err := c.store(t).Get(c.backend.URL())
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", sess.Email)

	// only the refresh cookie is persisted, never the access token
	files, err := os.ReadDir(c.sessionDir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(c.sessionDir, f.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "eyJ", f.Name())
	}

	// the access token died with the login process, the cookie did not
	out, _, err = c.run(t, &WhoamiCmd{}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Email:      new@example.com")
	assert.Contains(t, out, "Can edit:   yes")
	assert.Contains(t, out, "Sensitive:  no")
	assert.Contains(t, out, "Signed in:  ")
	assert.Contains(t, out, "Token:      expires")
	assert.Equal(t, 1, c.backend.RefreshCalls())

	out, _, err = c.run(t, &SessionsCmd{}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "new@example.com")
	assert.Contains(t, out, "manager")
	assert.True(t, strings.HasPrefix(strings.Split(out, "\n")[1], "*"), out)
	assert.Equal(t, 1, c.backend.RefreshCalls(), "sessions never contacts the backend")

	// logout refreshes first so the backend sees a bearer and revokes the cookie
	out, _, err = c.run(t, &LogoutCmd{}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")
	assert.Equal(t, 2, c.backend.RefreshCalls())
	assert.Equal(t, 1, c.backend.LogoutCalls())
	assert.Zero(t, c.backend.ActiveRefreshTokens())

	_, err = c.store(t).Get(c.backend.URL())
	require.ErrorIs(t, err, credentials.ErrSessionNotFound)

	out, _, err = c.run(t, &SessionsCmd{}, "")
	require.NoError(t, err)
	assert.Equal(t, "No sessions recorded.\n", out)

	_, _, err = c.run(t, &WhoamiCmd{}, "")
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Contains(t, Hint(err), "staffconsole login")
}

func TestRegister_Validation(t *testing.T) {
	c := newConsole(t)

	_, _, err := c.run(t, &RegisterCmd{Email: "new@example.com", Role: "employee", Password: "short"}, "")
	require.ErrorIs(t, err, auth.ErrPasswordTooShort)

	_, _, err = c.run(t, &RegisterCmd{Email: "new@example.com", Role: "employee"}, "longenough\ndifferent\n")
	require.ErrorIs(t, err, auth.ErrPasswordMismatch)

	_, _, err = c.run(t, &RegisterCmd{Email: "hr@example.com", Role: "hr", Password: "longenough"}, "")
	var reqErr *apierror.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)
}

func TestLogin(t *testing.T) {
	t.Run("password from stdin", func(t *testing.T) {
		c := newConsole(t)

		out, _, err := c.run(t, &LoginCmd{Email: "hr@example.com"}, password+"\n")
		require.NoError(t, err)
		assert.Contains(t, out, "Signed in as hr@example.com (hr)")
	})

	t.Run("invalid credentials", func(t *testing.T) {
		c := newConsole(t)

		_, _, err := c.run(t, &LoginCmd{Email: "hr@example.com", Password: "wrong-password"}, "")
		var authErr *apierror.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
		assert.Equal(t, "Invalid credentials", authErr.Message)
		assert.Zero(t, c.backend.RefreshCalls())

		_, err = c.store(t).Get(c.backend.URL())
		require.ErrorIs(t, err, credentials.ErrSessionNotFound)
	})
}

func TestCommandsRequireSession(t *testing.T) {
	c := newConsole(t)

	cmds := map[string]interface {
		Run(context.Context, *Globals) error
	}{
		"list":      &EmployeesListCmd{},
		"get":       &EmployeesGetCmd{ID: "x"},
		"delete":    &EmployeesDeleteCmd{ID: "x", Yes: true},
		"dashboard": &DashboardCmd{},
	}

	for name, cmd := range cmds {
		t.Run(name, func(t *testing.T) {
			_, _, err := c.run(t, cmd, "")
			require.ErrorIs(t, err, session.ErrNotAuthenticated)
		})
	}
	assert.Zero(t, c.backend.ListCalls())
}

func TestRevokedSessionIsForgotten(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleHR)

	c.backend.RevokeRefreshTokens()

	_, _, err := c.run(t, &EmployeesListCmd{}, "")
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Zero(t, c.backend.ListCalls())

	_, err = c.store(t).Get(c.backend.URL())
	require.ErrorIs(t, err, credentials.ErrSessionNotFound)
}

func TestServerErrorKeepsSession(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleHR)

	c.backend.FailRefresh(http.StatusServiceUnavailable)

	_, _, err := c.run(t, &EmployeesListCmd{}, "")
	var reqErr *apierror.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
	assert.NotErrorIs(t, err, session.ErrNotAuthenticated)

	_, err = c.store(t).Get(c.backend.URL())
	require.NoError(t, err, "session survives a server error")

	c.backend.FailRefresh(0)

	out, _, err := c.run(t, &EmployeesListCmd{}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "E001")
}

func TestEmployeesList(t *testing.T) {
	t.Run("sensitive columns for hr", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleHR)

		out, _, err := c.run(t, &EmployeesListCmd{Page: 1, Limit: 20}, "")
		require.NoError(t, err)
		assert.Contains(t, out, "SALARY")
		assert.Contains(t, out, "120000.00")
		assert.Contains(t, out, "Ada Lovelace")
		assert.Contains(t, out, "Page 1/1 (3 employees)")
	})

	t.Run("masked for employees", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleEmployee)

		out, _, err := c.run(t, &EmployeesListCmd{Page: 1, Limit: 20}, "")
		require.NoError(t, err)
		assert.NotContains(t, out, "SALARY")
		assert.NotContains(t, out, "120000")
	})

	t.Run("paging and query", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleManager)

		out, _, err := c.run(t, &EmployeesListCmd{Page: 1, Limit: 2}, "")
		require.NoError(t, err)
		assert.Contains(t, out, "Page 1/2 (3 employees)")
		assert.Contains(t, out, "Use --page=2")

		out, _, err = c.run(t, &EmployeesListCmd{Page: 1, Limit: 20, Query: "research"}, "")
		require.NoError(t, err)
		assert.Contains(t, out, "Katherine Johnson")
		assert.NotContains(t, out, "Ada Lovelace")

		out, _, err = c.run(t, &EmployeesListCmd{Page: 1, Limit: 20, Query: "nobody"}, "")
		require.NoError(t, err)
		assert.Contains(t, out, "No employees found.")
	})
}

func TestEmployeesCRUD(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleHR)

	out, _, err := c.run(t, &EmployeesCreateCmd{FormFlags: FormFlags{
		EmployeeID: "E010",
		FirstName:  "Alan",
		LastName:   "Turing",
		Email:      "alan@example.com",
		Salary:     "99000",
		City:       "Manchester",
	}}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Created employee E010")
	assert.Equal(t, 99000.0, c.backend.LastPayload()["salary"])

	id := strings.TrimSuffix(strings.SplitN(out, "(", 2)[1], ").\n")
	created, ok := c.backend.Employee(id)
	require.True(t, ok)
	assert.Equal(t, "Manchester", created.Address.City)

	out, _, err = c.run(t, &EmployeesGetCmd{ID: id}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Alan Turing")
	assert.Contains(t, out, "99000.00")
	assert.Contains(t, out, "Manchester")

	out, _, err = c.run(t, &EmployeesUpdateCmd{ID: id, FormFlags: FormFlags{Position: "Cryptanalyst"}}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated employee E010")

	updated, ok := c.backend.Employee(id)
	require.True(t, ok)
	assert.Equal(t, "Cryptanalyst", updated.Position)
	assert.Equal(t, "Turing", updated.LastName, "unchanged fields are resent")
	require.NotNil(t, updated.Salary)
	assert.Equal(t, 99000.0, *updated.Salary)

	out, _, err = c.run(t, &EmployeesDeleteCmd{ID: id}, "n\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	_, ok = c.backend.Employee(id)
	assert.True(t, ok)

	out, _, err = c.run(t, &EmployeesDeleteCmd{ID: id}, "y\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted employee")
	_, ok = c.backend.Employee(id)
	assert.False(t, ok)
}

func TestEmployeesCreate(t *testing.T) {
	t.Run("from file with flag override", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleAdmin)

		path := filepath.Join(t.TempDir(), "employee.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
employeeId: E020
firstName: Mary
lastName: Jackson
email: mary@example.com
department: Research
`), 0600))

		out, _, err := c.run(t, &EmployeesCreateCmd{FormFlags: FormFlags{File: path, Department: "Engineering"}}, "")
		require.NoError(t, err)
		assert.Contains(t, out, "Created employee E020")
		assert.Equal(t, "Engineering", c.backend.LastPayload()["department"])
	})

	t.Run("invalid form never reaches the backend", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleHR)

		_, _, err := c.run(t, &EmployeesCreateCmd{FormFlags: FormFlags{EmployeeID: "E030", FirstName: "No", LastName: "Email"}}, "")
		require.Error(t, err)
		assert.Nil(t, c.backend.LastPayload())
	})

	t.Run("manager sends no sensitive fields", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleManager)

		_, _, err := c.run(t, &EmployeesCreateCmd{FormFlags: FormFlags{
			EmployeeID: "E040",
			FirstName:  "Eve",
			LastName:   "Intruder",
			Email:      "eve@example.com",
			Salary:     "1000000",
			SSN:        "000-00-0000",
		}}, "")
		require.NoError(t, err)

		payload := c.backend.LastPayload()
		require.NotNil(t, payload)
		assert.NotContains(t, payload, "salary")
		assert.NotContains(t, payload, "ssn")
	})
}

func TestRoleGates(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleEmployee)

	form := FormFlags{EmployeeID: "E050", FirstName: "Eve", LastName: "Intruder", Email: "eve@example.com"}
	cmds := map[string]interface {
		Run(context.Context, *Globals) error
	}{
		"create": &EmployeesCreateCmd{FormFlags: form},
		"update": &EmployeesUpdateCmd{ID: "x", FormFlags: form},
		"delete": &EmployeesDeleteCmd{ID: "x", Yes: true},
	}

	for name, cmd := range cmds {
		t.Run(name, func(t *testing.T) {
			_, _, err := c.run(t, cmd, "")
			require.ErrorIs(t, err, ErrRoleNotPermitted)
			assert.Contains(t, Hint(err), "role")
		})
	}
	assert.Nil(t, c.backend.LastPayload(), "nothing reaches the backend")

	t.Run("manager cannot delete", func(t *testing.T) {
		c := newConsole(t)
		c.login(t, models.RoleManager)

		_, _, err := c.run(t, &EmployeesDeleteCmd{ID: "x", Yes: true}, "")
		require.ErrorIs(t, err, ErrRoleNotPermitted)
	})
}

func TestEmployeesUpdateClear(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleHR)

	id := c.adaID

	_, _, err := c.run(t, &EmployeesUpdateCmd{ID: id, Clear: []string{"department", "position"}}, "")
	require.NoError(t, err)

	payload := c.backend.LastPayload()
	assert.Equal(t, "", payload["department"])
	assert.Equal(t, "", payload["position"])
	assert.Equal(t, "Lovelace", payload["lastName"])

	updated, ok := c.backend.Employee(id)
	require.True(t, ok)
	assert.Empty(t, updated.Department)

	_, _, err = c.run(t, &EmployeesUpdateCmd{ID: id, Clear: []string{"email"}}, "")
	require.ErrorIs(t, err, employees.ErrNotClearable)
}

func TestEmployeesSearch(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleManager)

	// typed faster than the quiet period, so only the final query is sent
	out, _, err := c.run(t, &EmployeesSearchCmd{Limit: 20, Debounce: time.Second}, "g\ngr\ngrace\n")
	require.NoError(t, err)

	assert.Equal(t, 1, c.backend.ListCalls())
	assert.Contains(t, out, `Results for "grace"`)
	assert.Contains(t, out, "Grace Hopper")
	assert.NotContains(t, out, "Ada Lovelace")
}

func TestDashboard(t *testing.T) {
	c := newConsole(t)
	c.login(t, models.RoleHR)

	out, _, err := c.run(t, &DashboardCmd{}, "")
	require.NoError(t, err)

	assert.Contains(t, out, "Employees:   3")
	assert.Contains(t, out, "Active:      2")
	assert.Contains(t, out, "Inactive:    1")
	assert.Contains(t, out, "Ada Lovelace")
	assert.Contains(t, out, "Engineering")
	assert.Contains(t, out, "67%")
}

func TestBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var stderr bytes.Buffer
	err := (&WhoamiCmd{}).Run(context.Background(), &Globals{
		APIURL:     url,
		Timeout:    time.Second,
		SessionDir: t.TempDir(),
		Stdout:     &bytes.Buffer{},
		Stderr:     &stderr,
	})

	var netErr *apierror.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, Hint(err), "--api-url")
}

func TestHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("boom"), want: ""},
		{name: "validation details", err: &apierror.RequestError{StatusCode: 400, Details: []string{"a is required", "b is required"}}, want: "  - a is required\n  - b is required"},
		{name: "single detail", err: &apierror.RequestError{StatusCode: 400, Details: []string{"a is required"}}, want: ""},
		{name: "unauthorized", err: &apierror.RequestError{StatusCode: 401}, want: "Your session is no longer valid. Run 'staffconsole login <email>' to sign in again."},
		{name: "not signed in", err: session.ErrNotAuthenticated, want: "Run 'staffconsole login <email>' to sign in."},
		{name: "forbidden", err: fmt.Errorf("failed to create employee: %w", &apierror.RequestError{StatusCode: 403}), want: "Your role does not permit this action."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Hint(tt.err))
		})
	}
}
