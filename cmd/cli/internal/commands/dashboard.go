package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/staffconsole/internal/dashboard"
	"github.com/wolfeidau/staffconsole/internal/employees"
)

// DashboardCmd summarises the workforce.
type DashboardCmd struct{}

func (d *DashboardCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.require(ctx); err != nil {
		return err
	}

	resp, err := a.employees.List(ctx, employees.ListParams{Page: 1, Limit: dashboard.FetchLimit})
	if err != nil {
		return fmt.Errorf("failed to load employees: %w", err)
	}

	total := len(resp.Data)
	if resp.Meta != nil {
		total = resp.Meta.Total
	}

	printDashboard(globals.stdout(), dashboard.Compute(resp.Data, time.Now()), len(resp.Data), total)
	return nil
}
