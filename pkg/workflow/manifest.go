package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a workflow definition from a YAML file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML content into a Workflow.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks the workflow definition for errors.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow must define at least one step")
	}

	for _, trigger := range w.On {
		if trigger != TriggerCall && trigger != TriggerDispatch {
			return fmt.Errorf("unknown trigger %q", trigger)
		}
	}

	for name := range w.Inputs {
		if name == "" {
			return fmt.Errorf("input name must not be empty")
		}
	}

	seen := make(map[string]struct{})
	for _, step := range w.Steps {
		if step.Name == "" {
			return fmt.Errorf("step name is required")
		}
		// Step names double as record and log file names.
		if strings.ContainsAny(step.Name, `/\`) || step.Name == "." || step.Name == ".." {
			return fmt.Errorf("step name %q must be a plain name, not a path", step.Name)
		}
		if step.Run == "" {
			return fmt.Errorf("step %s must have a run command", step.Name)
		}
		if _, ok := seen[step.Name]; ok {
			return fmt.Errorf("duplicate step name: %s", step.Name)
		}
		seen[step.Name] = struct{}{}
	}

	return nil
}

// ResolveInputs merges caller-supplied input values over the declared
// defaults. Supplying a value for an undeclared input is an error.
func (w *Workflow) ResolveInputs(overrides map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(w.Inputs))
	for name, value := range w.Inputs {
		resolved[name] = value
	}
	for name, value := range overrides {
		if _, ok := w.Inputs[name]; !ok {
			return nil, fmt.Errorf("workflow %s declares no input %q", w.Name, name)
		}
		resolved[name] = value
	}
	return resolved, nil
}
