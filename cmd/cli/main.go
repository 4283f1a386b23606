package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/cmd/cli/internal/commands"
	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		APIURL     string        `name:"api-url" help:"Backend base URL" env:"STAFFCONSOLE_API_URL" default:"http://localhost:4000"`
		Timeout    time.Duration `help:"Request timeout" env:"STAFFCONSOLE_TIMEOUT" default:"30s"`
		SessionDir string        `help:"Directory holding session state (default ~/.staffconsole/sessions)" env:"STAFFCONSOLE_SESSION_DIR" type:"path"`
		Debug      bool          `help:"Enable debug mode."`
		Tracing    bool          `help:"Export traces and metrics over OTLP." env:"STAFFCONSOLE_TRACING"`
		Cache      bool          `help:"Cache GET responses for the duration of the command." negatable:"" default:"true"`
		Retries    uint          `help:"Attempts for idempotent requests that get no response." default:"3"`
		Version    kong.VersionFlag

		Register  commands.RegisterCmd  `cmd:"" help:"Create an account"`
		Login     commands.LoginCmd     `cmd:"" help:"Sign in"`
		Logout    commands.LogoutCmd    `cmd:"" help:"Sign out"`
		Whoami    commands.WhoamiCmd    `cmd:"" help:"Show the signed in user"`
		Sessions  commands.SessionsCmd  `cmd:"" help:"List backends with a recorded login"`
		Employees commands.EmployeesCmd `cmd:"" help:"Manage employees"`
		Dashboard commands.DashboardCmd `cmd:"" help:"Show workforce statistics"`
	}
)

func main() {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("staffconsole"),
		kong.Description("Employee management console."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	log.Logger = logger.Setup(cli.Debug)

	err := cmd.Run(&commands.Globals{
		APIURL:     cli.APIURL,
		Timeout:    cli.Timeout,
		SessionDir: cli.SessionDir,
		Debug:      cli.Debug,
		Tracing:    cli.Tracing,
		Cache:      cli.Cache,
		Retries:    cli.Retries,
		Version:    version,
	})
	if apierror.IsCanceled(err) {
		stop()
		os.Exit(130)
	}
	if err != nil {
		cmd.Errorf("%s", err)
		if hint := commands.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		stop()
		cmd.Exit(1)
	}
}
