package config

import "sync/atomic"

var cfg atomic.Value

// Init seeds the global config with defaults. Callers that need custom
// identity/networking fields should follow with Update.
func Init() error {
	dcfg, err := defaultConfig()
	if err != nil {
		return err
	}
	cfg.Store(&dcfg)
	return nil
}

// Load returns the current config (treat as read-only).
func Load() *Config {
	return cfg.Load().(*Config)
}

// Update applies a mutation on a copy of the current config and swaps it
// in atomically.
func Update(mut func(*Config)) *Config {
	curr := Load()
	next := *curr
	mut(&next)
	cfg.Store(&next)
	return &next
}

// Swap replaces the global config atomically with the provided value.
func Swap(next Config) *Config {
	cfg.Store(&next)
	return &next
}
