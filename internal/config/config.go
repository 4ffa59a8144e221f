// Package config loads the dispatcher process's own bootstrap settings —
// poll intervals, batch sizes, backend DSNs, per-exchange endpoints and
// credentials. Exchange bucket tables are compiled into internal/exchange
// and are not read from here. This
// is ambient process configuration, separate from any trading-domain
// CLI/seed surface.
package config

import (
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config is the top-level process configuration, loaded once at startup.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Kafka      KafkaConfig      `toml:"kafka"`
	HTTP       HTTPConfig       `toml:"http"`
	Exchanges  map[string]ExchangeConfig `toml:"exchanges"`
}

// StoreConfig selects and configures the step store backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "memory", "badger" (DSN is the directory), or any other value for the gorm store
	DSN    string `toml:"dsn"`
}

// RedisConfig configures every Redis-backed concern (throttler sync,
// snapshot KV, notification windows) off a single connection.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// DispatcherConfig configures the tick loop.
type DispatcherConfig struct {
	Groups        []string `toml:"groups"`
	TickInterval  time.Duration `toml:"tick_interval"`
	BatchSize     int      `toml:"batch_size"`
	TickBudget    time.Duration `toml:"tick_budget"`
	StepTimeout   time.Duration `toml:"step_timeout"`
}

// KafkaConfig configures the observer event bus.
type KafkaConfig struct {
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
	GroupID     string   `toml:"group_id"`
}

// HTTPConfig configures the observability HTTP surface.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// ExchangeConfig carries one canonical's connection settings (base URL,
// API credentials) and the server-time skew poll interval. It holds no
// bucket/weight table: those live in internal/exchange and are looked up
// by canonical name.
type ExchangeConfig struct {
	SkewPollInterval time.Duration `toml:"skew_poll_interval"`
	BaseURL          string        `toml:"base_url"`
	APIKey           string        `toml:"api_key"`
	APISecret        string        `toml:"api_secret"`
}

// Default returns the configuration used when no file is supplied —
// single dispatcher process, in-memory store, local Redis.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "memory"},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Dispatcher: DispatcherConfig{
			Groups:       []string{"default", "orders"},
			TickInterval: time.Duration(1e9),
			BatchSize:    32,
			TickBudget:   time.Duration(25e9),
			StepTimeout:  time.Duration(120e9),
		},
		Kafka: KafkaConfig{TopicPrefix: "engine"},
		HTTP:  HTTPConfig{Addr: ":8090"},
	}
}

// Load reads a TOML file at path, falling back to Default() field values
// for anything left unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
