package devgateway

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/pollbooth/internal/models"
)

//go:embed fixture.yaml
var defaultFixture []byte

// Employee is a person who can sign in.
type Employee struct {
	models.User `yaml:",inline"`

	BirthDate string `yaml:"birth_date"`

	// SkipOTP makes check-credentials return a session directly.
	SkipOTP bool `yaml:"skip_otp"`
}

// PollFixture describes a poll relative to gateway start.
type PollFixture struct {
	ID       string              `yaml:"id"`
	Title    string              `yaml:"title"`
	OpensIn  time.Duration       `yaml:"opens_in"`
	Duration time.Duration       `yaml:"duration"`
	Options  []models.PollOption `yaml:"options"`
}

// Fixture is the gateway's data set.
type Fixture struct {
	Employees []Employee    `yaml:"employees"`
	Polls     []PollFixture `yaml:"polls"`
}

// DefaultFixture returns the built-in data set.
func DefaultFixture() (*Fixture, error) {
	return ParseFixture(defaultFixture)
}

// LoadFixture reads a YAML fixture from path.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	if len(f.Employees) == 0 {
		return nil, errors.New("fixture has no employees")
	}

	seen := make(map[string]bool)
	for i := range f.Employees {
		e := &f.Employees[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.EmpID == "" || e.Email == "" || e.BirthDate == "" {
			return nil, fmt.Errorf("employee %d: emp_id, email and birth_date are required", i)
		}
		if seen[e.EmpID] || seen[e.Email] {
			return nil, fmt.Errorf("employee %d: duplicate emp_id or email", i)
		}
		seen[e.EmpID], seen[e.Email] = true, true
	}

	for i, p := range f.Polls {
		if p.ID == "" || p.Duration <= 0 || len(p.Options) == 0 {
			return nil, fmt.Errorf("poll %d: id, positive duration and options are required", i)
		}
	}

	return &f, nil
}

func (f *Fixture) byEmpID(empID string) (*Employee, bool) {
	for i := range f.Employees {
		if f.Employees[i].EmpID == empID {
			return &f.Employees[i], true
		}
	}
	return nil, false
}

func (f *Fixture) byEmail(email string) (*Employee, bool) {
	for i := range f.Employees {
		if f.Employees[i].Email == email {
			return &f.Employees[i], true
		}
	}
	return nil, false
}
