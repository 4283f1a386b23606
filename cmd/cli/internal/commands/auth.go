package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/staffconsole/cmd/cli/internal/credentials"
	"github.com/wolfeidau/staffconsole/internal/auth"
	"github.com/wolfeidau/staffconsole/internal/models"
)

// RegisterCmd creates an account. It does not sign in.
type RegisterCmd struct {
	Email    string `arg:"" help:"Account email"`
	Role     string `help:"Account role" default:"employee" enum:"admin,hr,manager,employee"`
	Password string `help:"Password (prompted when empty)" env:"STAFFCONSOLE_PASSWORD"`
}

func (r *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	reg := &auth.Registration{
		Email:           r.Email,
		Password:        r.Password,
		ConfirmPassword: r.Password,
		Role:            models.Role(r.Role),
	}

	if reg.Password == "" {
		var err error
		if reg.Password, err = globals.readSecret("Password: "); err != nil {
			return err
		}
		if reg.ConfirmPassword, err = globals.readSecret("Confirm password: "); err != nil {
			return err
		}
	}

	// fail before opening the session store
	if err := reg.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.auth.Register(ctx, reg); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Fprintf(globals.stdout(), "Account created for %s (%s).\n", reg.Email, reg.Role)
	fmt.Fprintln(globals.stdout())
	fmt.Fprintln(globals.stdout(), "To sign in:")
	fmt.Fprintf(globals.stdout(), "  staffconsole login %s\n", reg.Email)

	return nil
}

// LoginCmd signs in and keeps the refresh cookie for later commands.
type LoginCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `help:"Password (prompted when empty)" env:"STAFFCONSOLE_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	password := l.Password
	if password == "" {
		var err error
		if password, err = globals.readSecret("Password: "); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.session.Login(ctx, l.Email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	a.signedIn(user)

	fmt.Fprintf(globals.stdout(), "Signed in as %s (%s).\n", user.Email, user.Role)

	return nil
}

// LogoutCmd ends the session on the backend and locally.
type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	a.session.Logout(ctx)
	a.signedOut()

	fmt.Fprintln(globals.stdout(), "Signed out.")

	return nil
}

// WhoamiCmd shows the signed in user.
type WhoamiCmd struct{}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}

	out := globals.stdout()
	fmt.Fprintf(out, "Email:      %s\n", user.Email)
	fmt.Fprintf(out, "Role:       %s\n", user.Role)
	fmt.Fprintf(out, "User ID:    %s\n", user.ID)
	fmt.Fprintf(out, "Backend:    %s\n", a.cfg.BaseURL)
	fmt.Fprintf(out, "Can edit:   %s\n", yesNo(user.CanEditEmployees()))
	fmt.Fprintf(out, "Sensitive:  %s\n", yesNo(user.CanSeeSensitive()))

	if sess, err := a.store.Get(a.cfg.BaseURL); err == nil {
		fmt.Fprintf(out, "Signed in:  %s\n", sess.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	} else if !errors.Is(err, credentials.ErrSessionNotFound) {
		return err
	}
	if exp, ok := auth.TokenExpiry(a.tokens.Get()); ok {
		fmt.Fprintf(out, "Token:      expires %s (in %s)\n",
			exp.Local().Format("2006-01-02 15:04:05"),
			time.Until(exp).Round(time.Second))
	}

	return nil
}

// SessionsCmd lists the backends with a recorded login. It never contacts a
// backend, so a listed session may since have expired.
type SessionsCmd struct{}

func (s *SessionsCmd) Run(_ context.Context, globals *Globals) error {
	store, err := credentials.NewStore(globals.SessionDir)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	sessions, err := store.List()
	if err != nil {
		return err
	}

	out := globals.stdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}

	slices.SortFunc(sessions, func(a, b credentials.Session) int {
		return strings.Compare(a.BaseURL, b.BaseURL)
	})

	current, _ := credentials.Fingerprint(globals.APIURL)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tBACKEND\tEMAIL\tROLE\tSIGNED IN")
	for _, sess := range sessions {
		marker := ""
		if key, _ := credentials.Fingerprint(sess.BaseURL); key == current {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, sess.BaseURL, sess.Email, sess.Role,
			sess.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
