package config

import (
	"os"
	"time"

	"ptxn/pkg/procedure"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Duration is a time.Duration written as "10s" in toml.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Wrapf(err, "duration %q", text)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	NodeID     int64  `toml:"node-id"`
	Partitions int    `toml:"partitions"`
	LogLevel   string `toml:"log-level"`

	// MaxRestarts bounds the redispatches of a mispredicted invocation.
	MaxRestarts    int `toml:"max-restarts"`
	QueueSize      int `toml:"queue-size"`
	QueueBatch     int `toml:"queue-batch"`
	WorkerPoolSize int `toml:"worker-pool-size"`
	MaxBatchSize   int `toml:"max-batch-size"`

	ResponseTimeout Duration `toml:"response-timeout"`
	FragmentTimeout Duration `toml:"fragment-timeout"`
}

func getLogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		return l
	}
	return "info"
}

var DefaultConf = Config{
	NodeID:          1,
	Partitions:      4,
	LogLevel:        getLogLevel(),
	MaxRestarts:     3,
	QueueSize:       10000,
	QueueBatch:      64,
	WorkerPoolSize:  256,
	MaxBatchSize:    procedure.MaxBatchSize,
	ResponseTimeout: NewDuration(30 * time.Second),
	FragmentTimeout: NewDuration(10 * time.Second),
}

func NewDefaultConfig() *Config {
	conf := DefaultConf
	return &conf
}

// LoadFile reads a toml file over the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	for _, key := range meta.Undecoded() {
		logrus.Warnf("config %s: unknown key %s", path, key.String())
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Partitions <= 0 {
		return errors.Errorf("partitions must be greater than 0, got %d", c.Partitions)
	}
	if c.MaxRestarts < 1 {
		return errors.Errorf("max-restarts must be at least 1, got %d", c.MaxRestarts)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.Errorf("node-id %d out of range [0, 1023]", c.NodeID)
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > procedure.MaxBatchSize {
		return errors.Errorf("max-batch-size must be in (0, %d], got %d", procedure.MaxBatchSize, c.MaxBatchSize)
	}
	if c.WorkerPoolSize <= 0 {
		return errors.Errorf("worker-pool-size must be greater than 0, got %d", c.WorkerPoolSize)
	}
	if c.ResponseTimeout.Duration <= 0 || c.FragmentTimeout.Duration <= 0 {
		return errors.New("timeouts must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log-level")
	}
	return nil
}

// Level returns the logrus level of LogLevel, info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
