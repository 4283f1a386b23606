package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/internal/apierror"
	"github.com/wolfeidau/staffconsole/internal/employees"
	"github.com/wolfeidau/staffconsole/internal/models"
)

// ErrRoleNotPermitted is returned before any request is sent when the signed
// in role may not perform the action.
var ErrRoleNotPermitted = errors.New("your role does not permit this action")

// EmployeesCmd groups the employee commands.
type EmployeesCmd struct {
	List   EmployeesListCmd   `cmd:"" help:"List employees"`
	Get    EmployeesGetCmd    `cmd:"" help:"Show employee details"`
	Create EmployeesCreateCmd `cmd:"" help:"Create an employee"`
	Update EmployeesUpdateCmd `cmd:"" help:"Update an employee"`
	Delete EmployeesDeleteCmd `cmd:"" help:"Delete an employee"`
	Search EmployeesSearchCmd `cmd:"" help:"Search employees as you type, one query per line"`
}

// EmployeesListCmd lists one page of employees.
type EmployeesListCmd struct {
	Page  int    `help:"Page number" default:"1"`
	Limit int    `help:"Employees per page" default:"20"`
	Query string `help:"Search by name, email, position or department" short:"q"`
}

func (l *EmployeesListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}

	resp, err := a.employees.List(ctx, employees.ListParams{Page: l.Page, Limit: l.Limit, Query: l.Query})
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}

	printEmployees(globals.stdout(), resp, user.CanSeeSensitive())
	return nil
}

// EmployeesGetCmd shows one employee.
type EmployeesGetCmd struct {
	ID string `arg:"" help:"Employee record id"`
}

func (g *EmployeesGetCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.require(ctx); err != nil {
		return err
	}

	resp, err := a.employees.Get(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("failed to get employee: %w", err)
	}

	printEmployee(globals.stdout(), resp.Data)
	return nil
}

// FormFlags are the editable employee fields. Flags override values loaded
// from --file, and an empty flag leaves the field as it is.
type FormFlags struct {
	File string `help:"Load fields from a YAML or JSON file" short:"f" type:"existingfile"`

	EmployeeID string `name:"employee-id" help:"Employee ID"`
	FirstName  string `name:"first-name" help:"First name"`
	LastName   string `name:"last-name" help:"Last name"`
	Email      string `help:"Email address"`
	Phone      string `help:"Phone number"`
	Position   string `help:"Position"`
	Department string `help:"Department"`
	Manager    string `help:"Manager record id"`
	HireDate   string `name:"hire-date" help:"Hire date (YYYY-MM-DD)"`
	Salary     string `help:"Salary (admin and hr only)"`
	SSN        string `name:"ssn" help:"Social security number (admin and hr only)"`
	Status     string `help:"Status (active, inactive, terminated)"`
	PhotoURL   string `name:"photo-url" help:"Photo URL"`

	Line1   string `name:"address-line1" help:"Address line 1"`
	Line2   string `name:"address-line2" help:"Address line 2"`
	City    string `name:"address-city" help:"City"`
	State   string `name:"address-state" help:"State"`
	Zip     string `name:"address-zip" help:"Postal code"`
	Country string `name:"address-country" help:"Country"`
}

// apply merges the file and flag values over f.
func (ff *FormFlags) apply(f *employees.Form) error {
	if ff.File != "" {
		loaded, err := employees.LoadForm(ff.File)
		if err != nil {
			return err
		}
		f.Merge(loaded)
	}

	f.Merge(&employees.Form{
		EmployeeID: ff.EmployeeID,
		FirstName:  ff.FirstName,
		LastName:   ff.LastName,
		Email:      ff.Email,
		Phone:      ff.Phone,
		Position:   ff.Position,
		Department: ff.Department,
		ManagerID:  ff.Manager,
		HireDate:   ff.HireDate,
		Salary:     ff.Salary,
		SSN:        ff.SSN,
		Status:     ff.Status,
		PhotoURL:   ff.PhotoURL,
		Address: models.Address{
			Line1:   ff.Line1,
			Line2:   ff.Line2,
			City:    ff.City,
			State:   ff.State,
			Zip:     ff.Zip,
			Country: ff.Country,
		},
	})

	return nil
}

// EmployeesCreateCmd creates an employee.
type EmployeesCreateCmd struct {
	FormFlags `embed:""`
}

func (c *EmployeesCreateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}
	if !user.CanEditEmployees() {
		return ErrRoleNotPermitted
	}

	form := employees.NewForm()
	if err := c.apply(form); err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}

	payload, err := form.Payload(user.Role)
	if err != nil {
		return err
	}

	resp, err := a.employees.Create(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to create employee: %w", err)
	}

	fmt.Fprintf(globals.stdout(), "Created employee %s (%s).\n", resp.Data.EmployeeID, resp.Data.ID)
	return nil
}

// EmployeesUpdateCmd edits an employee, starting from its current values.
type EmployeesUpdateCmd struct {
	ID    string   `arg:"" help:"Employee record id"`
	Clear []string `help:"Optional fields to empty: phone, position, department, manager, hire-date, photo-url, address" placeholder:"FIELD"`

	FormFlags `embed:""`
}

func (u *EmployeesUpdateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}
	if !user.CanEditEmployees() {
		return ErrRoleNotPermitted
	}

	current, err := a.employees.Get(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("failed to get employee: %w", err)
	}

	form := employees.FormFromEmployee(current.Data)
	if err := u.apply(form); err != nil {
		return err
	}
	if err := form.Clear(u.Clear...); err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}

	payload, err := form.Payload(user.Role)
	if err != nil {
		return err
	}

	resp, err := a.employees.Update(ctx, u.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to update employee: %w", err)
	}

	fmt.Fprintf(globals.stdout(), "Updated employee %s (%s).\n", resp.Data.EmployeeID, resp.Data.ID)
	return nil
}

// EmployeesDeleteCmd deletes an employee.
type EmployeesDeleteCmd struct {
	ID  string `arg:"" help:"Employee record id"`
	Yes bool   `help:"Skip confirmation" short:"y"`
}

func (d *EmployeesDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}
	if !user.CanDeleteEmployees() {
		return ErrRoleNotPermitted
	}

	if !d.Yes && !globals.confirm(fmt.Sprintf("Delete employee %s?", d.ID)) {
		fmt.Fprintln(globals.stdout(), "Aborted.")
		return nil
	}

	if _, err := a.employees.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}

	fmt.Fprintf(globals.stdout(), "Deleted employee %s.\n", d.ID)
	return nil
}

// EmployeesSearchCmd reads queries from stdin, one per line as the search
// box would hold them. A query is sent once input has been quiet for the
// debounce period and a newer query cancels an older one still in flight.
type EmployeesSearchCmd struct {
	Limit    int           `help:"Employees per result" default:"20"`
	Debounce time.Duration `help:"Quiet period before a query is sent" default:"400ms"`
}

func (s *EmployeesSearchCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.require(ctx)
	if err != nil {
		return err
	}

	lister := employees.NewLister(a.employees)
	defer lister.Close()

	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
	)
	out := globals.stdout()

	search := func(q string) {
		defer wg.Done()

		resp, err := lister.List(ctx, employees.ListParams{Limit: s.Limit, Query: q})
		if apierror.IsCanceled(err) {
			log.Debug().Str("query", q).Msg("search superseded")
			return
		}

		outMu.Lock()
		defer outMu.Unlock()

		if err != nil {
			fmt.Fprintf(globals.stderr(), "Search %q failed: %v\n", q, err)
			return
		}
		fmt.Fprintf(out, "Results for %q:\n", q)
		printEmployees(out, resp, user.CanSeeSensitive())
		fmt.Fprintln(out)
	}

	queries := make(chan string)
	done := make(chan struct{})
	defer close(done)

	debouncer := employees.NewDebouncer(s.Debounce, func(q string) {
		select {
		case queries <- q:
		case <-done:
		}
	})
	defer debouncer.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := globals.readLine()
			if err != nil {
				return
			}
			select {
			case lines <- strings.TrimSpace(line):
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintln(globals.stderr(), "Type a query and press enter. End input (Ctrl-D) to finish.")

	var (
		pending    string
		hasPending bool
	)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return apierror.Canceled(ctx.Err())

		case q := <-queries:
			if q == pending {
				hasPending = false
			}
			wg.Add(1)
			go search(q)

		case line, ok := <-lines:
			if ok {
				pending, hasPending = line, true
				debouncer.Push(line)
				continue
			}

			debouncer.Stop()
			if hasPending {
				wg.Add(1)
				go search(pending)
			}
			wg.Wait()
			return nil
		}
	}
}
