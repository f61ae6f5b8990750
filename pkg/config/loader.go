package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig represents the complete streampatterns.yaml file structure.
// Durations arrive as strings ("500ms", "3s") and are parsed during
// resolution; invalid values fall back to the built-in default with a
// warning.
type fileConfig struct {
	Store          *storeYAML            `yaml:"store"`
	Server         *serverYAML           `yaml:"server"`
	Events         *EventsConfig         `yaml:"events"`
	DLQ            *dlqYAML              `yaml:"dlq"`
	WorkQueue      *workQueueYAML        `yaml:"work_queue"`
	FanOut         *fanOutYAML           `yaml:"fan_out"`
	TopicRouting   *TopicRoutingConfig   `yaml:"topic_routing"`
	ContentRouting *ContentRoutingConfig `yaml:"content_routing"`
	RequestReply   *requestReplyYAML     `yaml:"request_reply"`
	Scheduler      *schedulerYAML        `yaml:"scheduler"`
	PubSub         *PubSubConfig         `yaml:"pubsub"`
	Monitor        *monitorYAML          `yaml:"monitor"`
}

type storeYAML struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
	PoolTimeout  string `yaml:"pool_timeout"`
	DialTimeout  string `yaml:"dial_timeout"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type serverYAML struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type dlqYAML struct {
	Stream        string `yaml:"stream"`
	Group         string `yaml:"group"`
	Consumer      string `yaml:"consumer"`
	MinIdle       string `yaml:"min_idle"`
	MaxDeliveries int64  `yaml:"max_deliveries"`
	Count         int64  `yaml:"count"`
}

type workQueueYAML struct {
	Stream             string `yaml:"stream"`
	Group              string `yaml:"group"`
	WorkerCount        int    `yaml:"worker_count"`
	MinIdle            string `yaml:"min_idle"`
	MaxDeliveries      int64  `yaml:"max_deliveries"`
	Batch              int64  `yaml:"batch"`
	PollInterval       string `yaml:"poll_interval"`
	PollIntervalJitter string `yaml:"poll_interval_jitter"`
}

type fanOutYAML struct {
	Stream             string `yaml:"stream"`
	GroupPrefix        string `yaml:"group_prefix"`
	WorkerCount        int    `yaml:"worker_count"`
	MinIdle            string `yaml:"min_idle"`
	MaxDeliveries      int64  `yaml:"max_deliveries"`
	Batch              int64  `yaml:"batch"`
	PollInterval       string `yaml:"poll_interval"`
	PollIntervalJitter string `yaml:"poll_interval_jitter"`
}

type requestReplyYAML struct {
	RequestStream     string `yaml:"request_stream"`
	ResponseStream    string `yaml:"response_stream"`
	Group             string `yaml:"group"`
	Consumer          string `yaml:"consumer"`
	DefaultTimeoutSec int64  `yaml:"default_timeout_sec"`
	ResponderEnabled  *bool  `yaml:"responder_enabled"`
	PollInterval      string `yaml:"poll_interval"`
	Batch             int64  `yaml:"batch"`
}

type schedulerYAML struct {
	RemindersStream string `yaml:"reminders_stream"`
	PollInterval    string `yaml:"poll_interval"`
	Batch           int64  `yaml:"batch"`
}

type monitorYAML struct {
	Streams      []string `yaml:"streams"`
	Group        string   `yaml:"group"`
	Consumer     string   `yaml:"consumer"`
	PollInterval string   `yaml:"poll_interval"`
	Batch        int64    `yaml:"batch"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file when present (a missing file means defaults)
//  2. Expand {{.VAR}} environment references
//  3. Merge file values over built-in defaults
//  4. Apply environment overrides (REDIS_ADDR, HTTP_PORT, ...)
//  5. Validate the result
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"store_addr", cfg.Store.Addr,
		"http_port", cfg.Server.Port,
		"monitored_streams", len(cfg.MonitorStreams()))

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, path string) (*Config, error) {
	var file fileConfig
	if path != "" {
		if err := loadYAML(path, &file); err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				slog.Info("No configuration file, using built-in defaults", "path", path)
			} else {
				return nil, NewLoadError(path, err)
			}
		}
	}

	storeCfg, err := resolveStore(file.Store)
	if err != nil {
		return nil, err
	}
	serverCfg, err := resolveServer(file.Server)
	if err != nil {
		return nil, err
	}
	eventsCfg, err := resolveEvents(file.Events)
	if err != nil {
		return nil, err
	}
	dlqCfg, err := resolveDLQ(file.DLQ)
	if err != nil {
		return nil, err
	}
	workQueueCfg, err := resolveWorkQueue(file.WorkQueue)
	if err != nil {
		return nil, err
	}
	fanOutCfg, err := resolveFanOut(file.FanOut)
	if err != nil {
		return nil, err
	}
	topicCfg, err := resolveTopicRouting(file.TopicRouting)
	if err != nil {
		return nil, err
	}
	contentCfg, err := resolveContentRouting(file.ContentRouting)
	if err != nil {
		return nil, err
	}
	requestReplyCfg, err := resolveRequestReply(file.RequestReply)
	if err != nil {
		return nil, err
	}
	schedulerCfg, err := resolveScheduler(file.Scheduler)
	if err != nil {
		return nil, err
	}
	pubSubCfg, err := resolvePubSub(file.PubSub)
	if err != nil {
		return nil, err
	}
	monitorCfg, err := resolveMonitor(file.Monitor)
	if err != nil {
		return nil, err
	}

	return &Config{
		configPath:     path,
		Store:          storeCfg,
		Server:         serverCfg,
		Events:         eventsCfg,
		DLQ:            dlqCfg,
		WorkQueue:      workQueueCfg,
		FanOut:         fanOutCfg,
		TopicRouting:   topicCfg,
		ContentRouting: contentCfg,
		RequestReply:   requestReplyCfg,
		Scheduler:      schedulerCfg,
		PubSub:         pubSubCfg,
		Monitor:        monitorCfg,
	}, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// mergeOverDefaults merges the non-zero fields of override into defaults.
func mergeOverDefaults[T any](section string, defaults, override *T) (*T, error) {
	if override == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", section, err)
	}
	return defaults, nil
}

func resolveStore(y *storeYAML) (*StoreConfig, error) {
	cfg := DefaultStoreConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("store", cfg, &StoreConfig{
		Addr:         y.Addr,
		Password:     y.Password,
		DB:           y.DB,
		PoolSize:     y.PoolSize,
		MinIdleConns: y.MinIdleConns,
		PoolTimeout:  parseDuration("store.pool_timeout", y.PoolTimeout),
		DialTimeout:  parseDuration("store.dial_timeout", y.DialTimeout),
		ReadTimeout:  parseDuration("store.read_timeout", y.ReadTimeout),
		WriteTimeout: parseDuration("store.write_timeout", y.WriteTimeout),
	})
}

func resolveServer(y *serverYAML) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("server", cfg, &ServerConfig{
		Host:            y.Host,
		Port:            y.Port,
		ShutdownTimeout: parseDuration("server.shutdown_timeout", y.ShutdownTimeout),
	})
}

func resolveEvents(y *EventsConfig) (*EventsConfig, error) {
	return mergeOverDefaults("events", DefaultEventsConfig(), y)
}

func resolveDLQ(y *dlqYAML) (*DLQConfig, error) {
	cfg := DefaultDLQConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("dlq", cfg, &DLQConfig{
		Stream:        y.Stream,
		Group:         y.Group,
		Consumer:      y.Consumer,
		MinIdle:       parseDuration("dlq.min_idle", y.MinIdle),
		MaxDeliveries: y.MaxDeliveries,
		Count:         y.Count,
	})
}

func resolveWorkQueue(y *workQueueYAML) (*WorkQueueConfig, error) {
	cfg := DefaultWorkQueueConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("work_queue", cfg, &WorkQueueConfig{
		Stream:             y.Stream,
		Group:              y.Group,
		WorkerCount:        y.WorkerCount,
		MinIdle:            parseDuration("work_queue.min_idle", y.MinIdle),
		MaxDeliveries:      y.MaxDeliveries,
		Batch:              y.Batch,
		PollInterval:       parseDuration("work_queue.poll_interval", y.PollInterval),
		PollIntervalJitter: parseDuration("work_queue.poll_interval_jitter", y.PollIntervalJitter),
	})
}

func resolveFanOut(y *fanOutYAML) (*FanOutConfig, error) {
	cfg := DefaultFanOutConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("fan_out", cfg, &FanOutConfig{
		Stream:             y.Stream,
		GroupPrefix:        y.GroupPrefix,
		WorkerCount:        y.WorkerCount,
		MinIdle:            parseDuration("fan_out.min_idle", y.MinIdle),
		MaxDeliveries:      y.MaxDeliveries,
		Batch:              y.Batch,
		PollInterval:       parseDuration("fan_out.poll_interval", y.PollInterval),
		PollIntervalJitter: parseDuration("fan_out.poll_interval_jitter", y.PollIntervalJitter),
	})
}

func resolveTopicRouting(y *TopicRoutingConfig) (*TopicRoutingConfig, error) {
	return mergeOverDefaults("topic_routing", DefaultTopicRoutingConfig(), y)
}

func resolveContentRouting(y *ContentRoutingConfig) (*ContentRoutingConfig, error) {
	return mergeOverDefaults("content_routing", DefaultContentRoutingConfig(), y)
}

func resolveRequestReply(y *requestReplyYAML) (*RequestReplyConfig, error) {
	cfg := DefaultRequestReplyConfig()
	if y == nil {
		return cfg, nil
	}
	cfg, err := mergeOverDefaults("request_reply", cfg, &RequestReplyConfig{
		RequestStream:     y.RequestStream,
		ResponseStream:    y.ResponseStream,
		Group:             y.Group,
		Consumer:          y.Consumer,
		DefaultTimeoutSec: y.DefaultTimeoutSec,
		PollInterval:      parseDuration("request_reply.poll_interval", y.PollInterval),
		Batch:             y.Batch,
	})
	if err != nil {
		return nil, err
	}
	// A bool cannot round-trip through a zero-value merge; apply the
	// tristate explicitly.
	if y.ResponderEnabled != nil {
		cfg.ResponderEnabled = *y.ResponderEnabled
	}
	return cfg, nil
}

func resolveScheduler(y *schedulerYAML) (*SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("scheduler", cfg, &SchedulerConfig{
		RemindersStream: y.RemindersStream,
		PollInterval:    parseDuration("scheduler.poll_interval", y.PollInterval),
		Batch:           y.Batch,
	})
}

func resolvePubSub(y *PubSubConfig) (*PubSubConfig, error) {
	return mergeOverDefaults("pubsub", DefaultPubSubConfig(), y)
}

func resolveMonitor(y *monitorYAML) (*MonitorConfig, error) {
	cfg := DefaultMonitorConfig()
	if y == nil {
		return cfg, nil
	}
	return mergeOverDefaults("monitor", cfg, &MonitorConfig{
		Streams:      y.Streams,
		Group:        y.Group,
		Consumer:     y.Consumer,
		PollInterval: parseDuration("monitor.poll_interval", y.PollInterval),
		Batch:        y.Batch,
	})
}

// parseDuration parses a duration string from YAML. Empty and invalid
// values return zero, which the merge treats as "keep the default".
func parseDuration(field, raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", raw,
			"error", err)
		return 0
	}
	return d
}

// applyEnvOverrides applies deployment environment variables on top of
// file configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = db
		} else {
			slog.Warn("Invalid REDIS_DB value, ignoring", "value", v)
		}
	}
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("Invalid HTTP_PORT value, ignoring", "value", v)
		}
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}
