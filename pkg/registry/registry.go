// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transfer-advisor/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse activity registry: %w", err)
	}
	return &reg, nil
}

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Validate checks ids and task types are unique, timeouts parse and every
// schema compiles. All problems are reported together.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	var problems []string
	ids := map[string]bool{}
	taskTypes := map[string]bool{}

	for _, a := range r.Activities {
		switch {
		case a.ID == "":
			problems = append(problems, "activity with empty id")
		case ids[a.ID]:
			problems = append(problems, "duplicate id "+a.ID)
		}
		ids[a.ID] = true

		switch {
		case a.TaskType == "":
			problems = append(problems, a.ID+": empty taskType")
		case taskTypes[a.TaskType]:
			problems = append(problems, "duplicate taskType "+a.TaskType)
		}
		taskTypes[a.TaskType] = true

		if a.DisplayName == "" {
			problems = append(problems, a.ID+": empty displayName")
		}
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				problems = append(problems, fmt.Sprintf("%s: invalid timeout %q", a.ID, a.Timeout))
			}
		}
		if _, err := a.Input(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: input schema: %v", a.ID, err))
		}
		if len(a.OutputSchema) > 0 {
			if _, err := validation.Compile(a.ID+".output", a.OutputSchema); err != nil {
				problems = append(problems, fmt.Sprintf("%s: output schema: %v", a.ID, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid activity registry: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Input compiles the input schema. It returns nil, nil when the activity has
// none.
func (a *Activity) Input() (*validation.Schema, error) {
	if len(a.InputSchema) == 0 {
		return nil, nil
	}
	return validation.Compile(a.ID+".input", a.InputSchema)
}

// Set updates one field of the activity with the given id.
func (r *ActivityRegistry) Set(id, field, value string) error {
	var a *Activity
	for i := range r.Activities {
		if r.Activities[i].ID == id {
			a = &r.Activities[i]
			break
		}
	}
	if a == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	switch field {
	case "status":
		a.ImplementationStatus = value
	case "version":
		a.Version = value
	case "displayName":
		a.DisplayName = value
	case "description":
		a.Description = value
	case "category":
		a.Category = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		a.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return nil
}

// Save stamps LastUpdated and writes the registry as indented JSON.
func (r *ActivityRegistry) Save(path string, now time.Time) error {
	r.LastUpdated = now.Format(time.RFC3339)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
