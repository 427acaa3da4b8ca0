// Package registry defines the action catalog consumed by sync and routing.
//
// An action is a named, schema-described executable operation offered for
// selection. The registry is a read-only collaborator: descriptors are
// created by whoever owns the execution side and are immutable here. Actual
// execution is out of scope; routing only ever sees descriptors.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Parameter describes one entry of an action's parameter schema.
type Parameter struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
}

// ActionDescriptor describes one executable action.
type ActionDescriptor struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Parameters  []Parameter `yaml:"parameters,omitempty"`
}

// EmbedText returns the canonical text embedded for this action.
func (a ActionDescriptor) EmbedText() string {
	return a.Name + ": " + a.Description
}

// Registry lists the currently registered actions.
type Registry interface {
	List(ctx context.Context) ([]ActionDescriptor, error)
}

// FileRegistry reads action descriptors from a YAML catalog file.
type FileRegistry struct {
	Path string
}

// NewFileRegistry returns a registry backed by the YAML file at path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{Path: path}
}

type catalogFile struct {
	Actions []ActionDescriptor `yaml:"actions"`
}

// List reads and parses the catalog file. Results are sorted by name and
// duplicate names are rejected so downstream sync can rely on uniqueness.
func (r *FileRegistry) List(_ context.Context) ([]ActionDescriptor, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot read action catalog %s: %w", r.Path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML in action catalog %s: %w", r.Path, err)
	}

	seen := make(map[string]struct{}, len(f.Actions))
	for _, a := range f.Actions {
		if a.Name == "" {
			return nil, fmt.Errorf("action catalog %s contains an entry without a name", r.Path)
		}
		if _, ok := seen[a.Name]; ok {
			return nil, fmt.Errorf("action catalog %s contains duplicate action %q", r.Path, a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	out := make([]ActionDescriptor, len(f.Actions))
	copy(out, f.Actions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Static is an in-memory registry, mostly for tests and embedding callers.
type Static []ActionDescriptor

func (s Static) List(_ context.Context) ([]ActionDescriptor, error) {
	out := make([]ActionDescriptor, len(s))
	copy(out, s)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
