package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/wolfeidau/staffconsole/internal/dashboard"
	"github.com/wolfeidau/staffconsole/internal/employees"
	"github.com/wolfeidau/staffconsole/internal/models"
)

func printEmployees(w io.Writer, resp *employees.ListResponse, sensitive bool) {
	if len(resp.Data) == 0 {
		fmt.Fprintln(w, "No employees found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "ID\tEMPLOYEE ID\tNAME\tEMAIL\tPOSITION\tDEPARTMENT\tSTATUS"
	if sensitive {
		header += "\tSALARY"
	}
	fmt.Fprintln(tw, header)

	for _, e := range resp.Data {
		row := strings.Join([]string{
			e.ID,
			e.EmployeeID,
			truncate(e.FullName(), 24),
			truncate(e.Email, 28),
			dash(truncate(e.Position, 20)),
			dash(e.Department),
			e.Status,
		}, "\t")
		if sensitive {
			row += "\t" + formatSalary(e.Salary)
		}
		fmt.Fprintln(tw, row)
	}
	tw.Flush()

	if m := resp.Meta; m != nil {
		fmt.Fprintf(w, "\nPage %d/%d (%d employees)\n", m.Page, max(m.Pages, 1), m.Total)
		if m.Page < m.Pages {
			fmt.Fprintf(w, "Use --page=%d to see next page\n", m.Page+1)
		}
	}
}

func printEmployee(w io.Writer, e *models.Employee) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	field := func(name, value string) {
		fmt.Fprintf(tw, "%s:\t%s\n", name, dash(value))
	}

	field("ID", e.ID)
	field("Employee ID", e.EmployeeID)
	field("Name", e.FullName())
	field("Email", e.Email)
	field("Phone", e.Phone)
	field("Position", e.Position)
	field("Department", e.Department)
	field("Manager", e.Manager.Display())
	if e.HireDate != nil && !e.HireDate.IsZero() {
		field("Hire date", e.HireDate.Format(models.DateLayout))
	} else {
		field("Hire date", "")
	}
	field("Status", e.Status)
	if e.Salary != nil {
		field("Salary", formatSalary(e.Salary))
	}
	if e.SSN != nil {
		field("SSN", *e.SSN)
	}
	if e.Address != nil {
		field("Address", e.Address.String())
	}
	if e.PhotoURL != "" {
		field("Photo", e.PhotoURL)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
		field("Metadata "+k, fmt.Sprint(e.Metadata[k]))
	}

	tw.Flush()
}

func printDashboard(w io.Writer, s dashboard.Stats, fetched, total int) {
	fmt.Fprintf(w, "Employees:   %d\n", s.Total)
	fmt.Fprintf(w, "Active:      %d\n", s.Active)
	fmt.Fprintf(w, "Inactive:    %d\n", s.Inactive)
	fmt.Fprintf(w, "Terminated:  %d\n", s.Terminated)
	if total > fetched {
		fmt.Fprintf(w, "(computed from the first %d of %d employees)\n", fetched, total)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent hires:")
	if len(s.RecentHires) == 0 {
		fmt.Fprintln(w, "  None in the last 30 days.")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range s.RecentHires {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			e.HireDate.Format(models.DateLayout), e.FullName(), dash(e.Position), dash(e.Department))
	}
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Departments:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, d := range s.Departments {
		fmt.Fprintf(tw, "  %s\t%d\t%3d%%\t%s\n", d.Name, d.Count, d.Percent, strings.Repeat("#", d.Percent/5))
	}
	tw.Flush()
}

func formatSalary(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
