// Package config loads, merges and validates service configuration:
// built-in defaults, an optional YAML file, then environment overrides.
package config

import "github.com/streampatterns/streampatterns/pkg/store"

// Config is the umbrella configuration object returned by Initialize()
// and threaded through component constructors at bootstrap.
type Config struct {
	configPath string // Configuration file path (for reference)

	Store  *StoreConfig
	Server *ServerConfig
	Events *EventsConfig

	// Pattern engines
	DLQ            *DLQConfig
	WorkQueue      *WorkQueueConfig
	FanOut         *FanOutConfig
	TopicRouting   *TopicRoutingConfig
	ContentRouting *ContentRoutingConfig
	RequestReply   *RequestReplyConfig
	Scheduler      *SchedulerConfig
	PubSub         *PubSubConfig
	Monitor        *MonitorConfig
}

// ConfigPath returns the configuration file path, or "" when the service
// runs on built-in defaults.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// MonitorStreams returns the streams the monitor watches: the explicit
// monitor.streams list when set, otherwise every stream the configured
// patterns produce into.
func (c *Config) MonitorStreams() []string {
	if len(c.Monitor.Streams) > 0 {
		return c.Monitor.Streams
	}

	streams := []string{
		c.DLQ.Stream,
		store.DLQStream(c.DLQ.Stream),
		c.WorkQueue.Stream,
		store.DLQStream(c.WorkQueue.Stream),
		c.FanOut.Stream,
		c.TopicRouting.Exchange,
		c.RequestReply.RequestStream,
		c.RequestReply.ResponseStream,
		c.Scheduler.RemindersStream,
	}
	// Content-router destinations; suffixes mirror the router's threshold
	// table.
	prefix := c.ContentRouting.Prefix
	return append(streams,
		prefix+".standard",
		prefix+".highRisk",
		prefix+".manualReview",
		store.DLQStream(prefix),
	)
}
