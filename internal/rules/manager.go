package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Manager owns the active ruleset. Reads hand out an immutable snapshot;
// Save and Reset swap the shared pointer instead of mutating in place, so a
// run that started before a save finishes against the ruleset it began with.
type Manager struct {
	path   string
	logger *slog.Logger
	active atomic.Pointer[RuleSet]
}

// NewManager loads the ruleset from path (falling back to the built-in
// defaults when the file is missing or unreadable) and returns the manager.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger}
	m.active.Store(m.load())
	return m
}

// Snapshot returns the ruleset a run should use for its whole duration.
// Callers must not retain it across runs; the next run takes a fresh one.
func (m *Manager) Snapshot() *RuleSet {
	return m.active.Load()
}

func (m *Manager) load() *RuleSet {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("rules file unreadable, using defaults", "path", m.path, "error", err)
		}
		return Defaults()
	}

	var candidate RuleSet
	if err := yaml.Unmarshal(raw, &candidate); err != nil {
		m.logger.Warn("rules file malformed, using defaults", "path", m.path, "error", err)
		return Defaults()
	}
	normalized, err := Normalize(&candidate)
	if err != nil {
		m.logger.Warn("rules file rejected, using defaults", "path", m.path, "error", err)
		return Defaults()
	}
	m.logger.Info("loaded custom ruleset", "path", m.path, "doc_types", normalized.Len())
	return normalized
}

// Save normalizes and persists the candidate ruleset, then makes it active.
func (m *Manager) Save(candidate *RuleSet) (*RuleSet, error) {
	normalized, err := Normalize(candidate)
	if err != nil {
		return nil, fmt.Errorf("normalize rules: %w", err)
	}

	raw, err := yaml.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create rules dir: %w", err)
		}
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write rules file: %w", err)
	}

	m.active.Store(normalized)
	m.logger.Info("saved ruleset", "path", m.path, "doc_types", normalized.Len())
	return normalized, nil
}

// Reset removes any custom rules file and makes the defaults active.
func (m *Manager) Reset() (*RuleSet, error) {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove rules file: %w", err)
	}
	defaults := Defaults()
	m.active.Store(defaults)
	m.logger.Info("reset ruleset to defaults", "path", m.path)
	return defaults, nil
}
