package config

import (
	"fmt"
	"sync/atomic"
)

// MaxRelevancy is the top of the upstream relevancy scale
const MaxRelevancy = 1000

// Settings is the snapshot of runtime redaction settings passed explicitly
// into every filter and evaluate call.
type Settings struct {
	RelevancyThreshold       int `json:"relevancy_threshold"`
	HighSensitivityThreshold int `json:"high_sensitivity_threshold"`
	AliasConfig
}

// Settings extracts the runtime settings from a full configuration
func (c *Config) Settings() Settings {
	return Settings{
		RelevancyThreshold:       c.Redaction.RelevancyThreshold,
		HighSensitivityThreshold: c.Redaction.HighSensitivityThreshold,
		AliasConfig:              c.Redaction.Aliases,
	}
}

// DefaultSettings returns the settings of a default configuration
func DefaultSettings() Settings {
	return GetDefaults().Settings()
}

// Validate checks threshold ranges
func (s Settings) Validate() error {
	if s.RelevancyThreshold < 0 || s.RelevancyThreshold > MaxRelevancy {
		return fmt.Errorf("invalid relevancy threshold: %d (must be 0-%d)", s.RelevancyThreshold, MaxRelevancy)
	}
	if s.HighSensitivityThreshold < s.RelevancyThreshold || s.HighSensitivityThreshold > MaxRelevancy {
		return fmt.Errorf("invalid high sensitivity threshold: %d (must be %d-%d)",
			s.HighSensitivityThreshold, s.RelevancyThreshold, MaxRelevancy)
	}
	return nil
}

// SettingsStore holds the current settings. Writers are the admin settings
// endpoint and the config file watcher; readers take a snapshot per call.
type SettingsStore struct {
	current atomic.Pointer[Settings]
}

// NewSettingsStore creates a store seeded with s
func NewSettingsStore(s Settings) *SettingsStore {
	store := &SettingsStore{}
	store.current.Store(&s)
	return store
}

// Get returns a copy of the current settings
func (st *SettingsStore) Get() Settings {
	return *st.current.Load()
}

// Set validates and replaces the current settings
func (st *SettingsStore) Set(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.current.Store(&s)
	return nil
}
