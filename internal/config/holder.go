package config

import "sync/atomic"

// Holder provides hot-reloadable access to the current Config. Reload
// re-runs the full load hierarchy against the same YAML path; if the new
// config fails validation the previous one stays in effect.
type Holder struct {
	path string
	val  atomic.Pointer[Config]
}

// NewHolder wraps an already-loaded Config with the path it came from.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.val.Store(cfg)
	return h
}

// Get returns the current Config. The returned value must not be mutated.
func (h *Holder) Get() *Config {
	return h.val.Load()
}

// Reload re-reads the configuration from disk and environment.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.val.Store(cfg)
	return nil
}
