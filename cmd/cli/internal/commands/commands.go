package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/session"
)

// Globals are the flags shared by every command. Stdin, Stdout and Stderr
// default to the process streams.
type Globals struct {
	APIURL     string
	Timeout    time.Duration
	SessionDir string
	Debug      bool
	Tracing    bool
	Cache      bool
	Retries    uint
	Version    string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	lines *bufio.Reader
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

func (g *Globals) stderr() io.Writer {
	if g.Stderr == nil {
		return os.Stderr
	}
	return g.Stderr
}

func (g *Globals) stdin() io.Reader {
	if g.Stdin == nil {
		return os.Stdin
	}
	return g.Stdin
}

// readLine returns the next line of input without its line ending.
func (g *Globals) readLine() (string, error) {
	if g.lines == nil {
		g.lines = bufio.NewReader(g.stdin())
	}

	line, err := g.lines.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret prompts for a password without echo when attached to a
// terminal, otherwise it reads one line.
func (g *Globals) readSecret(prompt string) (string, error) {
	if f, ok := g.stdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(g.stderr(), prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(g.stderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(secret), nil
	}

	secret, err := g.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return secret, nil
}

// confirm asks a yes/no question, defaulting to no.
func (g *Globals) confirm(question string) bool {
	fmt.Fprintf(g.stderr(), "%s [y/N]: ", question)

	answer, err := g.readLine()
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// Hint returns an extra line of guidance for err, or an empty string.
func Hint(err error) string {
	var (
		netErr *apierror.NetworkError
		reqErr *apierror.RequestError
	)

	switch {
	case errors.As(err, &netErr):
		return netErr.Hint()
	case errors.Is(err, session.ErrNotAuthenticated):
		return "Run 'staffconsole login <email>' to sign in."
	case errors.Is(err, ErrRoleNotPermitted):
		return "Deleting needs the admin or hr role; creating and editing need admin, hr or manager."
	case errors.As(err, &reqErr):
		switch {
		case reqErr.StatusCode == http.StatusUnauthorized:
			return "Your session is no longer valid. Run 'staffconsole login <email>' to sign in again."
		case reqErr.StatusCode == http.StatusForbidden:
			return "Your role does not permit this action."
		case len(reqErr.Details) > 1:
			return "  - " + strings.Join(reqErr.Details, "\n  - ")
		}
	}

	return ""
}
