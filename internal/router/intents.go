package router

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Trigger is one layer-1 entry: an exact (normalized) query mapped to an
// action with fixed arguments.
type Trigger struct {
	Query  string            `yaml:"query"`
	Action string            `yaml:"action"`
	Args   map[string]string `yaml:"args,omitempty"`
}

// Rule is one layer-2 template: a regular expression whose named capture
// groups fill {group} placeholders in the argument templates. Rules are
// order-sensitive; the first match wins.
type Rule struct {
	Name    string            `yaml:"name"`
	Pattern string            `yaml:"pattern"`
	Action  string            `yaml:"action"`
	Args    map[string]string `yaml:"args,omitempty"`

	re *regexp.Regexp
}

// Intent is one layer-3 canonical reference phrase for a known intent.
type Intent struct {
	Text   string            `yaml:"text"`
	Action string            `yaml:"action"`
	Args   map[string]string `yaml:"args,omitempty"`
}

// Intents is the parsed intents file: the manual trigger table, template
// rules and semantic reference phrases.
type Intents struct {
	Triggers  []Trigger `yaml:"triggers,omitempty"`
	Templates []Rule    `yaml:"templates,omitempty"`
	Semantic  []Intent  `yaml:"semantic,omitempty"`
}

// LoadIntents reads the intents YAML file. A missing file is not an error:
// the router then answers only through the embedding layers.
func LoadIntents(path string) (Intents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Intents{}, nil
		}
		return Intents{}, fmt.Errorf("cannot read intents file %s: %w", path, err)
	}
	var out Intents
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Intents{}, fmt.Errorf("invalid YAML in intents file %s: %w", path, err)
	}
	return out, nil
}

// compile prepares the rule's pattern for matching. Patterns are
// case-insensitive, matching the free-text nature of queries.
func (r *Rule) compile() error {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern in rule %q: %w", r.Name, err)
	}
	r.re = re
	return nil
}
