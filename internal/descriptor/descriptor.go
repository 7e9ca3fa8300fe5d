package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Fragment contributes text to a composed description, project or tag list.
// Exactly one of Text or Command is set.
type Fragment struct {
	Text    *string  `yaml:"text,omitempty"`
	Command []string `yaml:"command,omitempty,flow"`
	Regex   string   `yaml:"regex,omitempty"`
}

// IsCommand reports whether the fragment runs a helper command.
func (f Fragment) IsCommand() bool {
	return len(f.Command) > 0
}

// TextFragment builds a literal fragment.
func TextFragment(s string) Fragment {
	return Fragment{Text: &s}
}

// CommandFragment builds a command fragment with an optional extraction regex.
func CommandFragment(regex string, command ...string) Fragment {
	return Fragment{Command: command, Regex: regex}
}

// Descriptor is the recipe that maps a directory to a task: either a fixed
// task UUID or an ordered composition of fragments.
type Descriptor struct {
	ID          string     `yaml:"id,omitempty"`
	Description []Fragment `yaml:"description,omitempty"`
	Project     []Fragment `yaml:"project,omitempty"`
	Tags        []Fragment `yaml:"tags,omitempty"`
}

// HasID reports whether the descriptor names a fixed task.
func (d *Descriptor) HasID() bool {
	return d.ID != ""
}

var knownKeys = map[string]bool{
	"id":          true,
	"description": true,
	"project":     true,
	"tags":        true,
}

// Parse decodes and validates descriptor YAML.
func Parse(data []byte) (*Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("descriptor is empty")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("descriptor is empty")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("descriptor must be a mapping")
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i].Value, doc.Content[i+1]
		if !knownKeys[key] {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		if key != "id" && val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%s must be a sequence of fragments", key)
		}
	}

	var d Descriptor
	if err := doc.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the descriptor rules.
func (d *Descriptor) Validate() error {
	if !d.HasID() && len(d.Description) == 0 {
		return errors.New("descriptor needs an id or at least one description fragment")
	}
	if d.HasID() {
		if _, err := uuid.Parse(d.ID); err != nil {
			return fmt.Errorf("id %q is not a uuid: %w", d.ID, err)
		}
	}
	for _, list := range []struct {
		name  string
		frags []Fragment
	}{
		{"description", d.Description},
		{"project", d.Project},
		{"tags", d.Tags},
	} {
		for i, f := range list.frags {
			if err := f.validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", list.name, i, err)
			}
		}
	}
	return nil
}

func (f Fragment) validate() error {
	switch {
	case f.Text != nil && f.IsCommand():
		return errors.New("fragment has both text and command")
	case f.Text == nil && !f.IsCommand():
		return errors.New("fragment needs text or command")
	case f.Text != nil && f.Regex != "":
		return errors.New("regex only applies to command fragments")
	}
	if f.IsCommand() && strings.TrimSpace(f.Command[0]) == "" {
		return errors.New("command name is empty")
	}
	if f.Regex != "" {
		if _, err := regexp.Compile(f.Regex); err != nil {
			return fmt.Errorf("bad regex: %w", err)
		}
	}
	return nil
}
