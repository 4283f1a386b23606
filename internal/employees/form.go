package employees

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/staffconsole/internal/models"
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Form validation errors, in the order fields are checked.
var (
	ErrEmployeeIDRequired = errors.New("employee ID is required")
	ErrFirstNameRequired  = errors.New("first name required")
	ErrLastNameRequired   = errors.New("last name required")
	ErrEmailRequired      = errors.New("email required")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidStatus      = errors.New("status must be one of active, inactive, terminated")
	ErrInvalidHireDate    = errors.New("hire date must be YYYY-MM-DD")
	ErrInvalidSalary      = errors.New("salary must be a number")
	ErrNotClearable       = errors.New("field cannot be cleared")
)

// ClearableFields are the optional fields Clear accepts, keyed by name and
// mapped to their payload key.
var ClearableFields = map[string]string{
	"phone":      "phone",
	"position":   "position",
	"department": "department",
	"manager":    "managerId",
	"hire-date":  "hireDate",
	"photo-url":  "photoUrl",
	"address":    "address",
}

// Form is the editable state of an employee. Every scalar is kept as the
// text the user entered so that partially filled forms round trip.
type Form struct {
	EmployeeID string         `yaml:"employeeId"`
	FirstName  string         `yaml:"firstName"`
	LastName   string         `yaml:"lastName"`
	Email      string         `yaml:"email"`
	Phone      string         `yaml:"phone"`
	Position   string         `yaml:"position"`
	Department string         `yaml:"department"`
	ManagerID  string         `yaml:"managerId"`
	HireDate   string         `yaml:"hireDate"`
	Salary     string         `yaml:"salary"`
	SSN        string         `yaml:"ssn"`
	Address    models.Address `yaml:"address"`
	Status     string         `yaml:"status"`
	PhotoURL   string         `yaml:"photoUrl"`
	Metadata   map[string]any `yaml:"metadata"`

	cleared []string
}

// NewForm returns an empty form for a new employee.
func NewForm() *Form {
	return &Form{Status: models.StatusActive}
}

// LoadForm reads a form from a YAML or JSON file. Fields missing from the
// file are left empty so the result can be merged over another form.
func LoadForm(path string) (*Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read employee file: %w", err)
	}

	f := &Form{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse employee file %s: %w", path, err)
	}

	return f, nil
}

// FormFromEmployee pre-fills a form for editing e.
func FormFromEmployee(e *models.Employee) *Form {
	f := &Form{
		EmployeeID: e.EmployeeID,
		FirstName:  e.FirstName,
		LastName:   e.LastName,
		Email:      e.Email,
		Phone:      e.Phone,
		Position:   e.Position,
		Department: e.Department,
		Status:     e.Status,
		PhotoURL:   e.PhotoURL,
		Metadata:   e.Metadata,
	}
	if f.Status == "" {
		f.Status = models.StatusActive
	}
	if e.Manager != nil {
		f.ManagerID = e.Manager.ID
	}
	if e.HireDate != nil && !e.HireDate.IsZero() {
		f.HireDate = e.HireDate.UTC().Format(models.DateLayout)
	}
	if e.Salary != nil {
		f.Salary = strconv.FormatFloat(*e.Salary, 'f', -1, 64)
	}
	if e.SSN != nil {
		f.SSN = *e.SSN
	}
	if e.Address != nil {
		f.Address = *e.Address
	}
	return f
}

// Merge copies every non-empty field of o over f.
func (f *Form) Merge(o *Form) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&f.EmployeeID, o.EmployeeID)
	set(&f.FirstName, o.FirstName)
	set(&f.LastName, o.LastName)
	set(&f.Email, o.Email)
	set(&f.Phone, o.Phone)
	set(&f.Position, o.Position)
	set(&f.Department, o.Department)
	set(&f.ManagerID, o.ManagerID)
	set(&f.HireDate, o.HireDate)
	set(&f.Salary, o.Salary)
	set(&f.SSN, o.SSN)
	set(&f.Address.Line1, o.Address.Line1)
	set(&f.Address.Line2, o.Address.Line2)
	set(&f.Address.City, o.Address.City)
	set(&f.Address.State, o.Address.State)
	set(&f.Address.Zip, o.Address.Zip)
	set(&f.Address.Country, o.Address.Country)
	set(&f.Status, o.Status)
	set(&f.PhotoURL, o.PhotoURL)

	if len(o.Metadata) > 0 {
		if f.Metadata == nil {
			f.Metadata = make(map[string]any, len(o.Metadata))
		}
		for k, v := range o.Metadata {
			f.Metadata[k] = v
		}
	}
}

// Clear empties the named optional fields and marks them to be sent empty,
// since Payload leaves out empty fields and the backend would keep them.
func (f *Form) Clear(names ...string) error {
	for _, name := range names {
		key, ok := ClearableFields[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotClearable, name)
		}

		switch name {
		case "phone":
			f.Phone = ""
		case "position":
			f.Position = ""
		case "department":
			f.Department = ""
		case "manager":
			f.ManagerID = ""
		case "hire-date":
			f.HireDate = ""
		case "photo-url":
			f.PhotoURL = ""
		case "address":
			f.Address = models.Address{}
		}

		if !slices.Contains(f.cleared, key) {
			f.cleared = append(f.cleared, key)
		}
	}
	return nil
}

// Validate reports the first problem with the form.
func (f *Form) Validate() error {
	switch {
	case strings.TrimSpace(f.EmployeeID) == "":
		return ErrEmployeeIDRequired
	case strings.TrimSpace(f.FirstName) == "":
		return ErrFirstNameRequired
	case strings.TrimSpace(f.LastName) == "":
		return ErrLastNameRequired
	case strings.TrimSpace(f.Email) == "":
		return ErrEmailRequired
	case !emailPattern.MatchString(f.Email):
		return ErrInvalidEmail
	case f.Status != "" && !slices.Contains(models.Statuses, f.Status):
		return ErrInvalidStatus
	}

	if f.HireDate != "" {
		if _, err := time.Parse(models.DateLayout, f.HireDate); err != nil {
			return ErrInvalidHireDate
		}
	}

	return nil
}

// Payload is the body of a create or update request.
type Payload struct {
	EmployeeID string          `json:"employeeId,omitempty"`
	FirstName  string          `json:"firstName,omitempty"`
	LastName   string          `json:"lastName,omitempty"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Position   string          `json:"position,omitempty"`
	Department string          `json:"department,omitempty"`
	ManagerID  string          `json:"managerId,omitempty"`
	HireDate   string          `json:"hireDate,omitempty"`
	Salary     *float64        `json:"salary,omitempty"`
	SSN        *string         `json:"ssn,omitempty"`
	Address    *models.Address `json:"address,omitempty"`
	Status     string          `json:"status,omitempty"`
	PhotoURL   string          `json:"photoUrl,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`

	cleared []string
}

// MarshalJSON writes cleared fields as empty values, null for the address.
func (p Payload) MarshalJSON() ([]byte, error) {
	type plain Payload
	data, err := json.Marshal(plain(p))
	if err != nil || len(p.cleared) == 0 {
		return data, err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, key := range p.cleared {
		if key == "address" {
			fields[key] = nil
			continue
		}
		fields[key] = ""
	}

	return json.Marshal(fields)
}

// Payload builds the request body for role. Empty optional fields are left
// out, and salary and SSN are only included for roles that may edit them,
// whatever the form holds.
func (f *Form) Payload(role models.Role) (Payload, error) {
	p := Payload{
		EmployeeID: strings.TrimSpace(f.EmployeeID),
		FirstName:  strings.TrimSpace(f.FirstName),
		LastName:   strings.TrimSpace(f.LastName),
		Email:      strings.TrimSpace(f.Email),
		Phone:      strings.TrimSpace(f.Phone),
		Position:   strings.TrimSpace(f.Position),
		Department: strings.TrimSpace(f.Department),
		ManagerID:  strings.TrimSpace(f.ManagerID),
		HireDate:   strings.TrimSpace(f.HireDate),
		Status:     f.Status,
		PhotoURL:   strings.TrimSpace(f.PhotoURL),
		Metadata:   f.Metadata,
		cleared:    slices.Clone(f.cleared),
	}

	if !f.Address.IsZero() {
		addr := f.Address
		p.Address = &addr
	}

	if !role.CanSeeSensitive() {
		return p, nil
	}

	if s := strings.TrimSpace(f.Salary); s != "" {
		salary, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %q", ErrInvalidSalary, s)
		}
		p.Salary = &salary
	}
	if s := strings.TrimSpace(f.SSN); s != "" {
		p.SSN = &s
	}

	return p, nil
}
