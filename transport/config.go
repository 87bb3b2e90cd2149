package transport

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Driver names accepted in Config.Driver.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
)

const DefaultQueueSize = 256

// Config selects and tunes a driver. Defaults come from the environment
// (see DefaultConfig); a config file overrides them field by field.
type Config struct {
	// Driver is one of memory, redis or nats. ENV: TOPICBRIDGE_DRIVER
	Driver string `yaml:"driver" json:"driver" env:"TOPICBRIDGE_DRIVER,default=memory" jsonschema:"enum=memory,enum=redis,enum=nats,default=memory"`
	// Addr is the server address: host:port for redis, a URL for nats.
	// ENV: TOPICBRIDGE_ADDR
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty" env:"TOPICBRIDGE_ADDR"`
	// QueueSize bounds each subscriber's receive queue where the driver
	// keeps one. ENV: TOPICBRIDGE_QUEUE_SIZE
	QueueSize int `yaml:"queue_size,omitempty" json:"queue_size,omitempty" env:"TOPICBRIDGE_QUEUE_SIZE,default=256" jsonschema:"minimum=1"`

	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	NATS  NATSConfig  `yaml:"nats,omitempty" json:"nats,omitempty"`
}

type RedisConfig struct {
	DB       int    `yaml:"db,omitempty" json:"db,omitempty" env:"TOPICBRIDGE_REDIS_DB"`
	Username string `yaml:"username,omitempty" json:"username,omitempty" env:"TOPICBRIDGE_REDIS_USERNAME"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" env:"TOPICBRIDGE_REDIS_PASSWORD"`
	// ChannelPrefix is prepended to every topic to form the Redis channel.
	ChannelPrefix string `yaml:"channel_prefix,omitempty" json:"channel_prefix,omitempty" env:"TOPICBRIDGE_REDIS_CHANNEL_PREFIX"`
}

type NATSConfig struct {
	// Name is reported to the server as the connection name.
	Name          string `yaml:"name,omitempty" json:"name,omitempty" env:"TOPICBRIDGE_NATS_NAME,default=topicbridge"`
	Token         string `yaml:"token,omitempty" json:"token,omitempty" env:"TOPICBRIDGE_NATS_TOKEN"`
	MaxReconnects int    `yaml:"max_reconnects,omitempty" json:"max_reconnects,omitempty" env:"TOPICBRIDGE_NATS_MAX_RECONNECTS,default=-1"`
}

// DefaultConfig returns the configuration used when no file is given,
// populated from TOPICBRIDGE_* environment variables.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("transport: decode environment: %w", err)
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverMemory
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file over the environment defaults.
// An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("transport: read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("transport: parse config %s: %w", path, err)
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedis, DriverNATS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("transport: queue_size must be positive, got %d", c.QueueSize)
	}
	return nil
}
