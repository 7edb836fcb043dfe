// Package workflow runs multi-step agent pipelines: YAML definitions compile
// into a DAG, batches execute concurrently, and state checkpoints to disk so
// failed runs can resume.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step is one unit of work inside a workflow.
type Step struct {
	ID           string                 `yaml:"id" json:"id"`
	Agent        string                 `yaml:"agent" json:"agent"`
	Description  string                 `yaml:"description" json:"description"`
	Inputs       map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	DependsOn    []string               `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ParallelWith []string               `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`
	Condition    string                 `yaml:"condition,omitempty" json:"condition,omitempty"`
	TimeoutSec   int                    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries   int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// Task returns the text the step's agent should work on: inputs.task when
// present, otherwise the description.
func (s Step) Task() string {
	if s.Inputs != nil {
		if task, ok := s.Inputs["task"].(string); ok && task != "" {
			return task
		}
	}
	return s.Description
}

// Definition is a complete workflow document.
type Definition struct {
	Name        string                 `yaml:"name" json:"name"`
	Version     string                 `yaml:"version" json:"version"`
	Description string                 `yaml:"description" json:"description"`
	Author      string                 `yaml:"author,omitempty" json:"author,omitempty"`
	Metadata    map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Steps       []Step                 `yaml:"steps" json:"steps"`
}

// Validate checks the document schema. Graph-level checks (cycles, unknown
// references) live in Compile.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if d.Version == "" {
		return fmt.Errorf("workflow %q: version is required", d.Name)
	}
	if d.Description == "" {
		return fmt.Errorf("workflow %q: description is required", d.Name)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: at least one step is required", d.Name)
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %q: step %d: id is required", d.Name, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("workflow %q: duplicate step id %q", d.Name, s.ID)
		}
		seen[s.ID] = true
		if s.Agent == "" {
			return fmt.Errorf("workflow %q: step %q: agent is required", d.Name, s.ID)
		}
		if s.Description == "" {
			return fmt.Errorf("workflow %q: step %q: description is required", d.Name, s.ID)
		}
		if s.TimeoutSec < 0 {
			return fmt.Errorf("workflow %q: step %q: timeout must be > 0", d.Name, s.ID)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("workflow %q: step %q: max_retries must be >= 0", d.Name, s.ID)
		}
	}
	return nil
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// ParseDefinition decodes and validates a YAML workflow document.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinition reads a workflow document from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// MarshalYAML renders the definition back to canonical YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// Builder assembles a Definition programmatically.
type Builder struct {
	def Definition
}

func NewBuilder(name, version, description string) *Builder {
	return &Builder{def: Definition{Name: name, Version: version, Description: description}}
}

func (b *Builder) Author(author string) *Builder {
	b.def.Author = author
	return b
}

func (b *Builder) Meta(key string, value interface{}) *Builder {
	if b.def.Metadata == nil {
		b.def.Metadata = make(map[string]interface{})
	}
	b.def.Metadata[key] = value
	return b
}

func (b *Builder) Step(s Step) *Builder {
	b.def.Steps = append(b.def.Steps, s)
	return b
}

// Build validates and returns the assembled definition.
func (b *Builder) Build() (*Definition, error) {
	d := b.def
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
