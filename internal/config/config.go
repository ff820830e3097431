package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds runtime configuration for the qcflow service.
type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"prod"`
	Node    string        `yaml:"node" env:"QCFLOW_NODE"`
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Runner  RunnerConfig  `yaml:"runner"`
	Storage StorageConfig `yaml:"storage"`
	State   StateConfig   `yaml:"state"`
	Checks  []CheckConfig `yaml:"checks"`
	Alarms  []AlarmConfig `yaml:"alarms"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

type HTTPConfig struct {
	Address     string `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	MaxBodySize int64  `yaml:"max_body_size" env-default:"10485760"`
}

type KafkaConfig struct {
	// Empty disables the Kafka transport; monitor objects then only arrive over HTTP.
	Brokers      []string       `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	InputTopic   string         `yaml:"input_topic" env-default:"qc-monitor-objects"`
	VerdictTopic string         `yaml:"verdict_topic" env-default:"qc-quality-objects"`
	AlarmTopic   string         `yaml:"alarm_topic" env-default:"qc-alarms"`
	GroupID      string         `yaml:"group_id" env-default:"qcflow"`
	Producer     ProducerConfig `yaml:"producer"`
}

type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size" env-default:"4"`
	BatchSize    int           `yaml:"batch_size" env-default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env-default:"100ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
	RequiredAcks int           `yaml:"required_acks" env-default:"-1"`
	Compression  string        `yaml:"compression" env-default:"snappy"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env-default:"100ms"`
}

type RunnerConfig struct {
	// Number of ready checks run concurrently within a cycle, 1 runs them in order.
	Parallelism int `yaml:"parallelism" env-default:"1"`

	// Capacity of the queue between ingestion and the scheduler.
	QueueSize int `yaml:"queue_size" env-default:"1000"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled" env-default:"true"`
	Path    string `yaml:"path" env:"STORAGE_PATH" env-default:"qcflow.db"`
}

type StateConfig struct {
	Path     string `yaml:"path" env:"STATE_PATH" env-default:"qcflow-state"`
	InMemory bool   `yaml:"in_memory" env-default:"false"`
}

// CheckConfig declares one check and the monitor objects it reads.
type CheckConfig struct {
	Name       string             `yaml:"name"`
	Module     string             `yaml:"module"`
	Policy     string             `yaml:"policy"`
	Active     *bool              `yaml:"active"`
	DataSource []DataSourceConfig `yaml:"data_source"`
	Parameters map[string]string  `yaml:"parameters"`
}

// IsActive defaults to true when unset.
func (c CheckConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// DataSourceConfig selects monitor objects of one task. MOs set to ["all"]
// selects every object the task publishes.
type DataSourceConfig struct {
	Type string   `yaml:"type"`
	Name string   `yaml:"name"`
	MOs  []string `yaml:"mos"`
}

type AlarmConfig struct {
	Name      string        `yaml:"name"`
	Condition string        `yaml:"condition"`
	Lifetime  time.Duration `yaml:"lifetime"`
}

const (
	DataSourceTask = "Task"
	AllObjects     = "all"
)

var (
	ErrDuplicateCheck   = errors.New("duplicate check name")
	ErrDuplicateAlarm   = errors.New("duplicate alarm name")
	ErrInvalidCheck     = errors.New("invalid check configuration")
	ErrInvalidAlarm     = errors.New("invalid alarm configuration")
	ErrConfigNotFound   = errors.New("config file not found")
	ErrInvalidDataSrc   = errors.New("invalid data source")
	ErrInvalidParameter = errors.New("invalid runtime parameter")
)

// Load reads the YAML file at path, then applies environment overrides.
// An empty path falls back to $CONFIG_PATH.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	var cfg Config
	// only env-default tags are read here, so this cannot fail on input
	_ = cleanenv.ReadEnv(&cfg)
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Node == "" {
		if host, err := os.Hostname(); err == nil {
			c.Node = host
		} else {
			c.Node = "qcflow"
		}
	}
	if c.Runner.Parallelism <= 0 {
		c.Runner.Parallelism = 1
	}
	if c.Runner.QueueSize <= 0 {
		c.Runner.QueueSize = 1000
	}
	for i := range c.Checks {
		if c.Checks[i].Policy == "" {
			c.Checks[i].Policy = "OnAny"
		}
		for j := range c.Checks[i].DataSource {
			if c.Checks[i].DataSource[j].Type == "" {
				c.Checks[i].DataSource[j].Type = DataSourceTask
			}
		}
	}
}

// Validate rejects structurally broken configuration. Module ids, policies and
// conditions are resolved later by the packages that own them.
func (c *Config) Validate() error {
	if c.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("%w: http.max_body_size must be positive", ErrInvalidParameter)
	}
	if c.Kafka.Producer.PoolSize < 0 || c.Kafka.Producer.MaxRetries < 0 {
		return fmt.Errorf("%w: kafka producer pool_size and max_retries cannot be negative", ErrInvalidParameter)
	}

	checks := make(map[string]bool, len(c.Checks))
	for _, ch := range c.Checks {
		if ch.Name == "" {
			return fmt.Errorf("%w: check without name", ErrInvalidCheck)
		}
		if checks[ch.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateCheck, ch.Name)
		}
		checks[ch.Name] = true

		if ch.Module == "" {
			return fmt.Errorf("%w: check %s has no module", ErrInvalidCheck, ch.Name)
		}
		if len(ch.DataSource) == 0 {
			return fmt.Errorf("%w: check %s has no data source", ErrInvalidCheck, ch.Name)
		}
		for _, ds := range ch.DataSource {
			if ds.Type != DataSourceTask {
				return fmt.Errorf("%w: check %s: type %q", ErrInvalidDataSrc, ch.Name, ds.Type)
			}
			if ds.Name == "" || len(ds.MOs) == 0 {
				return fmt.Errorf("%w: check %s: task name and mos are required", ErrInvalidDataSrc, ch.Name)
			}
		}
	}

	alarms := make(map[string]bool, len(c.Alarms))
	for _, a := range c.Alarms {
		if a.Name == "" {
			return fmt.Errorf("%w: alarm without name", ErrInvalidAlarm)
		}
		if alarms[a.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateAlarm, a.Name)
		}
		alarms[a.Name] = true

		if a.Condition == "" {
			return fmt.Errorf("%w: alarm %s has an empty condition", ErrInvalidAlarm, a.Name)
		}
		if a.Lifetime < 0 {
			return fmt.Errorf("%w: alarm %s has a negative lifetime", ErrInvalidAlarm, a.Name)
		}
	}
	return nil
}

// ActiveChecks returns the checks that are not switched off.
func (c *Config) ActiveChecks() []CheckConfig {
	out := make([]CheckConfig, 0, len(c.Checks))
	for _, ch := range c.Checks {
		if ch.IsActive() {
			out = append(out, ch)
		}
	}
	return out
}

// KafkaEnabled reports whether brokers are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
