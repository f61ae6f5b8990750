package config

import "time"

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// ShutdownTimeout is the maximum wait for in-flight requests during
	// graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
	}
}

// EventsConfig contains event-bus settings.
type EventsConfig struct {
	// SinkBuffer is the per-sink buffered event capacity. When a sink
	// falls behind, the oldest buffered event is dropped.
	SinkBuffer int `yaml:"sink_buffer"`
}

// DefaultEventsConfig returns the built-in event-bus defaults.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		SinkBuffer: 256,
	}
}
