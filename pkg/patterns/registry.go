package patterns

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/streampatterns/streampatterns/pkg/config"
)

// DLQSettings are the per-stream claim parameters kept by the registry.
type DLQSettings struct {
	MinIdle       time.Duration
	MaxDeliveries int64
	Count         int64
}

// Validate reports the first invalid setting.
func (s DLQSettings) Validate() error {
	switch {
	case s.MinIdle < 0:
		return NewValidationError("minIdleMs", "must be non-negative")
	case s.MaxDeliveries < 1:
		return NewValidationError("maxDeliveries", "must be at least 1")
	case s.Count < 1:
		return NewValidationError("count", "must be at least 1")
	}
	return nil
}

// ConfigRegistry holds per-stream claim settings with copy-on-write
// updates: readers on the consume path take the current map without
// touching the writers' lock.
type ConfigRegistry struct {
	defaults DLQSettings

	mu      sync.Mutex
	current atomic.Pointer[map[string]DLQSettings]
}

// NewConfigRegistry builds a registry whose fallback settings come from
// the dead-letter section of the configuration.
func NewConfigRegistry(cfg *config.DLQConfig) *ConfigRegistry {
	r := &ConfigRegistry{
		defaults: DLQSettings{
			MinIdle:       cfg.MinIdle,
			MaxDeliveries: cfg.MaxDeliveries,
			Count:         cfg.Count,
		},
	}
	empty := map[string]DLQSettings{}
	r.current.Store(&empty)
	return r
}

// Defaults returns the fallback settings.
func (r *ConfigRegistry) Defaults() DLQSettings {
	return r.defaults
}

// Get returns the settings for a stream, falling back to the defaults
// when no override exists.
func (r *ConfigRegistry) Get(stream string) DLQSettings {
	if s, ok := (*r.current.Load())[stream]; ok {
		return s
	}
	return r.defaults
}

// Set validates and stores stream-specific settings, replacing any
// previous override for the stream.
func (r *ConfigRegistry) Set(stream string, s DLQSettings) error {
	if stream == "" {
		return NewValidationError("streamName", "must not be empty")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.current.Load()
	next := make(map[string]DLQSettings, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[stream] = s
	r.current.Store(&next)
	return nil
}

// Delete removes a stream's override, restoring the defaults for it.
func (r *ConfigRegistry) Delete(stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.current.Load()
	if _, ok := current[stream]; !ok {
		return
	}
	next := make(map[string]DLQSettings, len(current))
	for k, v := range current {
		if k != stream {
			next[k] = v
		}
	}
	r.current.Store(&next)
}

// All returns a copy of every stream-specific override.
func (r *ConfigRegistry) All() map[string]DLQSettings {
	current := *r.current.Load()
	out := make(map[string]DLQSettings, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}
