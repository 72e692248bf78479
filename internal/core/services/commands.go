package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"tipwire/internal/core/domain"
)

// CommandAction identifies what a configured command does when dispatched.
type CommandAction string

const (
	ActionScene CommandAction = "scene"
	ActionAudio CommandAction = "audio"
)

// CommandSpec is one configured chat command.
type CommandSpec struct {
	Action    CommandAction `yaml:"action"`
	Scene     string        `yaml:"scene,omitempty"`
	File      string        `yaml:"file,omitempty"`
	AdminOnly bool          `yaml:"admin_only,omitempty"`
}

// CustomActionSpec is one per-user configured trigger.
type CustomActionSpec struct {
	Action CommandAction `yaml:"action"`
	Scene  string        `yaml:"scene,omitempty"`
	File   string        `yaml:"file,omitempty"`
}

// CommandTable holds the command and custom-action configuration loaded at
// startup. Immutable for the process lifetime.
type CommandTable struct {
	Commands      map[string]CommandSpec               `yaml:"commands"`
	CustomActions map[domain.UserID]CustomActionSpec   `yaml:"custom_actions"`
}

// LoadCommandTable reads the commands YAML file. Command names are matched
// case-insensitively, so keys are normalized to lower case here.
func LoadCommandTable(path string) (*CommandTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands file %s: %w", path, err)
	}

	var table CommandTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commands yaml: %w", err)
	}

	normalized := make(map[string]CommandSpec, len(table.Commands))
	for name, spec := range table.Commands {
		normalized[strings.ToLower(name)] = spec
	}
	table.Commands = normalized

	if table.CustomActions == nil {
		table.CustomActions = make(map[domain.UserID]CustomActionSpec)
	}

	return &table, nil
}

// Lookup finds a command by case-insensitive name.
func (t *CommandTable) Lookup(name string) (CommandSpec, bool) {
	spec, ok := t.Commands[strings.ToLower(name)]
	return spec, ok
}

// CustomAction finds the configured trigger for a user, if any.
func (t *CommandTable) CustomAction(id domain.UserID) (CustomActionSpec, bool) {
	spec, ok := t.CustomActions[id]
	return spec, ok
}

// EmptyCommandTable returns a table with no entries, used when the command
// parser component is disabled.
func EmptyCommandTable() *CommandTable {
	return &CommandTable{
		Commands:      make(map[string]CommandSpec),
		CustomActions: make(map[domain.UserID]CustomActionSpec),
	}
}
