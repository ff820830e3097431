package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sample = `
node: qc-01
log:
  level: debug
kafka:
  brokers: [localhost:9092]
runner:
  parallelism: 4
checks:
  - name: filled
    module: NonEmpty
    data_source:
      - name: tpc
        mos: [clusters, tracks]
  - name: disabled
    module: NonEmpty
    active: false
    policy: OnAll
    data_source:
      - type: Task
        name: its
        mos: [all]
alarms:
  - name: tpc
    condition: "Check:filled == Quality:Good"
    lifetime: 30s
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "qc-01", cfg.Node)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Runner.Parallelism)
	assert.Equal(t, 1000, cfg.Runner.QueueSize)
	assert.Equal(t, "qc-quality-objects", cfg.Kafka.VerdictTopic)
	assert.Equal(t, 100*time.Millisecond, cfg.Kafka.Producer.BatchTimeout)
	assert.True(t, cfg.KafkaEnabled())

	require.Len(t, cfg.Checks, 2)
	assert.Equal(t, "OnAny", cfg.Checks[0].Policy, "policy defaults to OnAny")
	assert.Equal(t, DataSourceTask, cfg.Checks[0].DataSource[0].Type)
	assert.Equal(t, "OnAll", cfg.Checks[1].Policy)

	active := cfg.ActiveChecks()
	require.Len(t, active, 1)
	assert.Equal(t, "filled", active[0].Name)

	require.Len(t, cfg.Alarms, 1)
	assert.Equal(t, 30*time.Second, cfg.Alarms[0].Lifetime)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STORAGE_PATH", "/tmp/override.db")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestLoadFromConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sample))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "qc-01", cfg.Node)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.Node)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.EqualValues(t, 10<<20, cfg.HTTP.MaxBodySize)
	assert.Equal(t, 1, cfg.Runner.Parallelism)
	assert.False(t, cfg.KafkaEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	task := []DataSourceConfig{{Type: DataSourceTask, Name: "tpc", MOs: []string{"clusters"}}}

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"unnamed check", func(c *Config) {
			c.Checks = []CheckConfig{{Module: "NonEmpty", DataSource: task}}
		}, ErrInvalidCheck},
		{"duplicate check", func(c *Config) {
			ch := CheckConfig{Name: "a", Module: "NonEmpty", DataSource: task}
			c.Checks = []CheckConfig{ch, ch}
		}, ErrDuplicateCheck},
		{"no module", func(c *Config) {
			c.Checks = []CheckConfig{{Name: "a", DataSource: task}}
		}, ErrInvalidCheck},
		{"no data source", func(c *Config) {
			c.Checks = []CheckConfig{{Name: "a", Module: "NonEmpty"}}
		}, ErrInvalidCheck},
		{"wrong source type", func(c *Config) {
			c.Checks = []CheckConfig{{Name: "a", Module: "NonEmpty", DataSource: []DataSourceConfig{{Type: "Direct", Name: "x", MOs: []string{"y"}}}}}
		}, ErrInvalidDataSrc},
		{"source without objects", func(c *Config) {
			c.Checks = []CheckConfig{{Name: "a", Module: "NonEmpty", DataSource: []DataSourceConfig{{Type: DataSourceTask, Name: "x"}}}}
		}, ErrInvalidDataSrc},
		{"unnamed alarm", func(c *Config) {
			c.Alarms = []AlarmConfig{{Condition: "Check:a == Quality:Good"}}
		}, ErrInvalidAlarm},
		{"duplicate alarm", func(c *Config) {
			a := AlarmConfig{Name: "x", Condition: "Check:a == Quality:Good"}
			c.Alarms = []AlarmConfig{a, a}
		}, ErrDuplicateAlarm},
		{"empty condition", func(c *Config) {
			c.Alarms = []AlarmConfig{{Name: "x"}}
		}, ErrInvalidAlarm},
		{"negative lifetime", func(c *Config) {
			c.Alarms = []AlarmConfig{{Name: "x", Condition: "Check:a == Quality:Good", Lifetime: -time.Second}}
		}, ErrInvalidAlarm},
		{"zero body size", func(c *Config) {
			c.HTTP.MaxBodySize = 0
		}, ErrInvalidParameter},
		{"negative retries", func(c *Config) {
			c.Kafka.Producer.MaxRetries = -1
		}, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
