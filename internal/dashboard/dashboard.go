// Package dashboard derives summary statistics from a list of employees.
package dashboard

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/wolfeidau/staffconsole/internal/models"
)

const (
	RecentHireWindow = 30 * 24 * time.Hour
	MaxRecentHires   = 6
	MaxDepartments   = 8

	// FetchLimit is the page size requested to compute the dashboard.
	FetchLimit = 1000

	Unassigned = "Unassigned"
)

// Department is one row of the department distribution.
type Department struct {
	Name    string
	Count   int
	Percent int
}

// Stats is the dashboard summary.
type Stats struct {
	Total       int
	Active      int
	Inactive    int
	Terminated  int
	RecentHires []*models.Employee
	Departments []Department
}

// Compute summarises employees as of now.
func Compute(employees []*models.Employee, now time.Time) Stats {
	s := Stats{Total: len(employees)}

	counts := make(map[string]int)
	for _, e := range employees {
		switch e.Status {
		case models.StatusActive:
			s.Active++
		case models.StatusInactive:
			s.Inactive++
		case models.StatusTerminated:
			s.Terminated++
		}

		if e.HireDate != nil && !e.HireDate.IsZero() && now.Sub(e.HireDate.Time) <= RecentHireWindow {
			s.RecentHires = append(s.RecentHires, e)
		}

		dept := e.Department
		if dept == "" {
			dept = Unassigned
		}
		counts[dept]++
	}

	slices.SortStableFunc(s.RecentHires, func(a, b *models.Employee) int {
		return b.HireDate.Compare(a.HireDate.Time)
	})
	if len(s.RecentHires) > MaxRecentHires {
		s.RecentHires = s.RecentHires[:MaxRecentHires]
	}

	for name, count := range counts {
		s.Departments = append(s.Departments, Department{
			Name:    name,
			Count:   count,
			Percent: percent(count, s.Total),
		})
	}
	slices.SortFunc(s.Departments, func(a, b Department) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(s.Departments) > MaxDepartments {
		s.Departments = s.Departments[:MaxDepartments]
	}

	return s
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}
