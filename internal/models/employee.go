package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Employee status values.
const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusTerminated = "terminated"
)

// Statuses lists the valid employee statuses.
var Statuses = []string{StatusActive, StatusInactive, StatusTerminated}

// Employee is an employee record as returned by the backend.
// Salary and SSN are only present when the caller's role may see them.
type Employee struct {
	ID         string         `json:"_id"`
	EmployeeID string         `json:"employeeId"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Email      string         `json:"email"`
	Phone      string         `json:"phone,omitempty"`
	Position   string         `json:"position,omitempty"`
	Department string         `json:"department,omitempty"`
	Manager    *ManagerRef    `json:"managerId,omitempty"`
	HireDate   *Date          `json:"hireDate,omitempty"`
	Salary     *float64       `json:"salary,omitempty"`
	SSN        *string        `json:"ssn,omitempty"`
	Address    *Address       `json:"address,omitempty"`
	Status     string         `json:"status"`
	PhotoURL   string         `json:"photoUrl,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FullName joins first and last name.
func (e *Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Address is a postal address.
type Address struct {
	Line1   string `json:"line1,omitempty" yaml:"line1"`
	Line2   string `json:"line2,omitempty" yaml:"line2"`
	City    string `json:"city,omitempty" yaml:"city"`
	State   string `json:"state,omitempty" yaml:"state"`
	Zip     string `json:"zip,omitempty" yaml:"zip"`
	Country string `json:"country,omitempty" yaml:"country"`
}

// IsZero returns true if no address field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String renders the address on one line, skipping empty parts.
func (a Address) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.Zip, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ManagerRef is the managerId field, which the backend sends either as a
// bare ObjectId string or as a populated employee reference.
type ManagerRef struct {
	ID         string `json:"_id"`
	EmployeeID string `json:"employeeId,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`

	populated bool
}

// UnmarshalJSON accepts a string id or a reference object.
func (m *ManagerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = ManagerRef{}
		return nil
	}

	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("failed to decode manager id: %w", err)
		}
		*m = ManagerRef{ID: id}
		return nil
	}

	type ref ManagerRef
	var r ref
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("failed to decode manager reference: %w", err)
	}
	*m = ManagerRef(r)
	m.populated = true
	return nil
}

// MarshalJSON always writes the bare id, which is what the backend accepts.
func (m ManagerRef) MarshalJSON() ([]byte, error) {
	if m.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(m.ID)
}

// Populated returns true if the backend sent a reference object.
func (m *ManagerRef) Populated() bool {
	return m != nil && m.populated
}

// Display renders the manager for tables: the name when populated, falling
// back to employee id, then the raw id.
func (m *ManagerRef) Display() string {
	if m == nil || (m.ID == "" && !m.populated) {
		return "-"
	}
	if !m.populated {
		return m.ID
	}
	if name := strings.TrimSpace(m.FirstName + " " + m.LastName); name != "" {
		return name
	}
	if m.EmployeeID != "" {
		return m.EmployeeID
	}
	return "-"
}

// DateLayout is the calendar date format used by forms and the backend.
const DateLayout = "2006-01-02"

// Date is a timestamp that also accepts a bare calendar date on decode.
type Date struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339 timestamps and YYYY-MM-DD dates.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode date: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

// MarshalJSON writes an RFC 3339 timestamp.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(time.RFC3339))
}
