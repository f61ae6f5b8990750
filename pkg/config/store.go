package config

import "time"

// StoreConfig contains log-store connection and pooling settings.
type StoreConfig struct {
	// Addr is the store's host:port.
	Addr string `yaml:"addr"`

	// Password authenticates the connection. Empty means no auth.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`

	// PoolSize caps concurrent connections per process.
	PoolSize int `yaml:"pool_size"`

	// MinIdleConns keeps warm connections in the pool.
	MinIdleConns int `yaml:"min_idle_conns"`

	// PoolTimeout is the maximum wait for a free pooled connection.
	PoolTimeout time.Duration `yaml:"pool_timeout"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout and WriteTimeout bound every store call.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
