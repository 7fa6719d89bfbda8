// Package model provides the static model-profile table: per-model context
// window sizes and tokenizer encodings, with a default for unknown ids.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultContextWindow is applied when a model id is unrecognized.
const DefaultContextWindow = 128000

// DefaultEncoding is the tokenizer used when a model has no known encoding.
const DefaultEncoding = "gpt-4o"

// Profile describes one model's static limits.
type Profile struct {
	ContextWindow int    `yaml:"context_window" json:"context_window"`
	Encoding      string `yaml:"encoding" json:"encoding"`
}

// Table maps model ids to profiles. It is read-only after construction.
type Table struct {
	profiles map[string]Profile
}

// builtin context windows for commonly served models.
var builtin = map[string]Profile{
	"gpt-4o":        {ContextWindow: 128000, Encoding: "gpt-4o"},
	"gpt-4o-mini":   {ContextWindow: 128000, Encoding: "gpt-4o"},
	"gpt-4.1":       {ContextWindow: 1000000, Encoding: "gpt-4o"},
	"gpt-4.1-mini":  {ContextWindow: 1000000, Encoding: "gpt-4o"},
	"gpt-4-turbo":   {ContextWindow: 128000, Encoding: "gpt-4"},
	"gpt-3.5-turbo": {ContextWindow: 16385, Encoding: "gpt-3.5-turbo"},
	"o1":            {ContextWindow: 200000, Encoding: "gpt-4o"},
	"o1-mini":       {ContextWindow: 128000, Encoding: "gpt-4o"},
	"o3-mini":       {ContextWindow: 200000, Encoding: "gpt-4o"},
}

// NewTable returns the built-in profile table.
func NewTable() *Table {
	profiles := make(map[string]Profile, len(builtin))
	for id, p := range builtin {
		profiles[id] = p
	}
	return &Table{profiles: profiles}
}

// NewTableFromFile returns the built-in table with entries from the given
// YAML file merged over it. An empty path returns the built-ins unchanged.
// The file maps model id to profile:
//
//	gpt-4o:
//	  context_window: 128000
//	  encoding: gpt-4o
func NewTableFromFile(path string) (*Table, error) {
	t := NewTable()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("read model profiles %s: %w", path, err)
	}

	var overrides map[string]Profile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse model profiles %s: %w", path, err)
	}

	for id, p := range overrides {
		merged := t.Lookup(id)
		if p.ContextWindow > 0 {
			merged.ContextWindow = p.ContextWindow
		}
		if p.Encoding != "" {
			merged.Encoding = p.Encoding
		}
		t.profiles[id] = merged
	}
	return t, nil
}

// Lookup returns the profile for a model id, or the default profile when
// the id is unknown. Never fails.
func (t *Table) Lookup(modelID string) Profile {
	if p, ok := t.profiles[modelID]; ok {
		return p
	}
	return Profile{ContextWindow: DefaultContextWindow, Encoding: DefaultEncoding}
}
