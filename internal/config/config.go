// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, listen addresses, and logging levels.
type App struct {
	Name        string
	Env         string
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed describes the market data source producing normalized ticks.
type Feed struct {
	Provider         string
	WSURL            string `yaml:"ws_url"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
}

// Pair names the two correlated legs of the regression: Y is regressed on X.
type Pair struct {
	X string
	Y string
}

// Symbols returns both legs in X, Y order.
func (p Pair) Symbols() []string { return []string{p.X, p.Y} }

// Label renders the broadcast pair label, dependent leg first.
func (p Pair) Label() string { return p.Y + " / " + p.X }

// Pipeline tunes the tick buffering and resampling stage.
type Pipeline struct {
	BufferThreshold     int      `yaml:"buffer_threshold"`
	Timeframes          []string `yaml:"timeframes"`
	MergePartialBuckets bool     `yaml:"merge_partial_buckets"`
}

// Store holds document database connectivity for persisted bars.
type Store struct {
	URI              string
	Database         string
	Collection       string
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
}

// Placeholder seeds the analytics engine while it is still priming, so
// output starts before any history exists. SpreadStd must stay positive.
type Placeholder struct {
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	SpreadMean float64 `yaml:"spread_mean"`
	SpreadStd  float64 `yaml:"spread_std"`
}

// Analytics groups tunable knobs for the regression engine.
type Analytics struct {
	FitTimeframe  string      `yaml:"fit_timeframe"`
	RollingWindow int         `yaml:"rolling_window"`
	IdleDelayMs   int         `yaml:"idle_delay_ms"`
	Placeholder   Placeholder `yaml:"placeholder"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Feed      Feed      `yaml:"feed"`
	Pair      Pair      `yaml:"pair"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Store     Store     `yaml:"store"`
	Analytics Analytics `yaml:"analytics"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Pair.X == "" || c.Pair.Y == "" {
		return fmt.Errorf("pair requires both x and y symbols")
	}
	if c.Pair.X == c.Pair.Y {
		return fmt.Errorf("pair legs must differ, got %s twice", c.Pair.X)
	}
	if c.Analytics.Placeholder.SpreadStd < 0 {
		return fmt.Errorf("placeholder spread_std must not be negative")
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
