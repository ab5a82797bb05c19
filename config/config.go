package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/evdnx/gopairs/types"
)

var validate = validator.New()

// Config is the full runtime configuration of a pairs strategy.
type Config struct {
	App        App        `yaml:"app"`
	Estimator  Estimator  `yaml:"estimator"`
	Allocator  Allocator  `yaml:"allocator"`
	Selection  Selection  `yaml:"selection"`
	Risk       Risk       `yaml:"risk"`
	Execution  Execution  `yaml:"execution"`
	Kafka      Kafka      `yaml:"kafka"`
	Redis      Redis      `yaml:"redis"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
}

type App struct {
	Name        string `yaml:"name" default:"etf-basket-pairs" validate:"required"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	// SnapshotEvery persists estimator state every N bars; 0 disables periodic snapshots.
	SnapshotEvery int `yaml:"snapshot_every" default:"24" validate:"gte=0"`
}

// Estimator tunes the per-pair spread model.
type Estimator struct {
	Pairs     []types.Pair  `yaml:"pairs"`
	Threshold float64       `yaml:"threshold" default:"2.2" validate:"gt=0"`
	Cooldown  time.Duration `yaml:"cooldown" default:"48h" validate:"gte=0"`
	Horizon   time.Duration `yaml:"horizon" default:"6h" validate:"gt=0"`
	Decay     float64       `yaml:"decay" default:"0.9" validate:"gt=0,lt=1"`
	Epsilon   float64       `yaml:"epsilon" default:"0.00001" validate:"gt=0"`
	// Workers > 1 updates independent pairs concurrently.
	Workers       int `yaml:"workers" default:"1" validate:"gte=1"`
	MaxLogsPerBar int `yaml:"max_logs_per_bar" default:"5" validate:"gte=0"`
}

// Rebalance schedules.
const (
	RebalanceEndOfWeek = "end_of_week"
	RebalanceInterval  = "interval"
	RebalanceEveryBar  = "every_bar"
)

// Allocator tunes the cointegration-weighted portfolio construction.
type Allocator struct {
	Lookback           int           `yaml:"lookback" default:"120" validate:"gte=3"`
	BarSize            time.Duration `yaml:"bar_size" default:"1h" validate:"gt=0"`
	MaxPositionSize    float64       `yaml:"max_position_size" default:"0.2" validate:"gt=0,lte=1"`
	PValueCutoff       float64       `yaml:"pvalue_cutoff" default:"0.05" validate:"gt=0,lte=1"`
	Rebalance          string        `yaml:"rebalance" default:"end_of_week" validate:"oneof=end_of_week interval every_bar"`
	RebalanceInterval  time.Duration `yaml:"rebalance_interval" default:"24h"`
	RebalanceOnSignals bool          `yaml:"rebalance_on_signals" default:"true"`
}

// Selection tunes periodic pair discovery over a symbol universe.
type Selection struct {
	Enabled        bool          `yaml:"enabled"`
	Universe       []string      `yaml:"universe"`
	Interval       time.Duration `yaml:"interval" default:"168h"`
	Bars           int           `yaml:"bars" default:"500" validate:"gte=10"`
	BarSize        time.Duration `yaml:"bar_size" default:"1h" validate:"gt=0"`
	MaxPValue      float64       `yaml:"max_pvalue" default:"0.1" validate:"gt=0,lte=1"`
	MinCorrelation float64       `yaml:"min_correlation" default:"0.6" validate:"gte=-1,lte=1"`
	MinVolatility  float64       `yaml:"min_volatility" default:"0.01" validate:"gte=0"`
	Top            int           `yaml:"top" default:"3" validate:"gte=1"`
}

// Risk holds liquidation and order-rounding settings.
type Risk struct {
	// TrailingStopPct liquidates a position once it draws down this fraction; 0 disables.
	TrailingStopPct float64 `yaml:"trailing_stop_pct" default:"0.08" validate:"gte=0,lt=1"`
	// Trail ratchets the stop anchor to the best price instead of the entry average.
	Trail bool `yaml:"trail"`
	// QuantityPrecision defines the number of decimal places to round to
	// (e.g. 2 for crypto/futures, 0 for equities).
	QuantityPrecision int `yaml:"quantity_precision" default:"0" validate:"gte=0"`
	// Minimum order size accepted by the broker.
	MinQty float64 `yaml:"min_qty" default:"1" validate:"gte=0"`
	// StepSize is the increment allowed by the venue; <= 0 disables step flooring.
	StepSize float64 `yaml:"step_size" default:"1" validate:"gte=0"`
}

type Execution struct {
	Mode           string  `yaml:"mode" default:"paper" validate:"oneof=paper"`
	StartingEquity float64 `yaml:"starting_equity" default:"100000" validate:"gt=0"`
}

type Kafka struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	SignalsTopic     string        `yaml:"signals_topic" default:"pairs.signals"`
	AllocationsTopic string        `yaml:"allocations_topic" default:"pairs.allocations"`
	RequiredAcks     int           `yaml:"required_acks" default:"1" validate:"oneof=-1 0 1"`
	Compression      string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" default:"10ms"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxAttempts      int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
}

type Redis struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" default:"gopairs"`
	TTL      time.Duration `yaml:"ttl"`
}

type ClickHouse struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr" default:"localhost:9000"`
	Database    string        `yaml:"database" default:"default"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	Table       string        `yaml:"table" default:"candles"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout time.Duration `yaml:"read_timeout" default:"30s"`
}

// Default returns a Config populated with every default.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// tags are static; a failure here is a programming error
		panic(err)
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides connection settings with
// environment variables. A .env file in the working directory is honoured when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PAIRS_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("PAIRS_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("PAIRS_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("PAIRS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("PAIRS_CLICKHOUSE_ADDR"); v != "" {
		c.ClickHouse.Addr = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("PAIRS_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("PAIRS_STARTING_EQUITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PAIRS_STARTING_EQUITY: %w", err)
		}
		c.Execution.StartingEquity = f
	}
	return nil
}

// Validate checks field ranges and cross-field constraints.
// It returns the first encountered error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[types.Pair]bool, len(c.Estimator.Pairs))
	for _, p := range c.Estimator.Pairs {
		if p.A == "" || p.B == "" {
			return fmt.Errorf("estimator.pairs: empty leg in %q", p.String())
		}
		if p.A == p.B {
			return fmt.Errorf("estimator.pairs: %q uses the same instrument twice", p.String())
		}
		if seen[p] {
			return fmt.Errorf("estimator.pairs: duplicate pair %q", p.String())
		}
		seen[p] = true
	}
	if len(c.Estimator.Pairs) == 0 && !c.Selection.Enabled {
		return errors.New("estimator.pairs cannot be empty unless selection is enabled")
	}
	if c.Allocator.Rebalance == RebalanceInterval && c.Allocator.RebalanceInterval <= 0 {
		return fmt.Errorf("allocator.rebalance_interval (%s) must be positive", c.Allocator.RebalanceInterval)
	}
	if c.Selection.Enabled {
		if len(c.Selection.Universe) < 2 {
			return errors.New("selection.universe needs at least two symbols")
		}
		if c.Selection.Interval <= 0 {
			return fmt.Errorf("selection.interval (%s) must be positive", c.Selection.Interval)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
