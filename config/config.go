package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"
)

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Processing  ProcConfig        `json:"processing"`
	Engine      EngineConfig      `json:"engine"`
	Sources     SourcesConfig     `json:"sources"`
	Definitions DefinitionsConfig `json:"definitions"`
}

type LoggingConfig struct {
	Level       string `json:"level"`       // debug, info, warn, error
	LogToFile   bool   `json:"logToFile"`   // Write logs to a rotating file
	LogToStdout bool   `json:"logToStdout"` // Write logs to stdout
	Directory   string `json:"directory"`   // Log file directory
	MaxSize     int    `json:"maxSize"`     // Max size per log file in MB
	MaxAge      int    `json:"maxAge"`      // Max days to retain old logs
	MaxBackups  int    `json:"maxBackups"`  // Max number of old log files
	Compress    bool   `json:"compress"`    // Compress rotated files
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Path    string `json:"path"`
}

type ProcConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
}

// EngineConfig controls the timer-driven parts of the engine. All intervals
// are duration strings ("30s", "1m").
type EngineConfig struct {
	ScheduleTickInterval    string `json:"scheduleTickInterval"`
	EscalationSweepInterval string `json:"escalationSweepInterval"`
	DigestSweepInterval     string `json:"digestSweepInterval"`
	LeaseTTL                string `json:"leaseTtl"`
	DefaultOrg              string `json:"defaultOrg"`
}

type SourcesConfig struct {
	NATS NATSConfig `json:"nats"`
	MQTT MQTTConfig `json:"mqtt"`
}

type NATSConfig struct {
	Enabled  bool      `json:"enabled"`
	URLs     []string  `json:"urls"`
	ClientID string    `json:"clientId"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Subjects []string  `json:"subjects"`
	TLS      TLSConfig `json:"tls"`
}

type MQTTConfig struct {
	Enabled  bool      `json:"enabled"`
	Broker   string    `json:"broker"`
	ClientID string    `json:"clientId"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Topics   []string  `json:"topics"`
	TLS      TLSConfig `json:"tls"`
}

type TLSConfig struct {
	Enable   bool   `json:"enable"`
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
	CAFile   string `json:"caFile"`
}

type DefinitionsConfig struct {
	RulesDir     string `json:"rulesDir"`
	WorkflowsDir string `json:"workflowsDir"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if !config.Logging.LogToFile && !config.Logging.LogToStdout {
		config.Logging.LogToStdout = true
	}
	if config.Logging.MaxSize <= 0 {
		config.Logging.MaxSize = 100
	}
	if config.Logging.MaxAge <= 0 {
		config.Logging.MaxAge = 30
	}
	if config.Logging.MaxBackups <= 0 {
		config.Logging.MaxBackups = 5
	}

	// Set defaults for metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	// Set defaults for processing
	if config.Processing.Workers <= 0 {
		config.Processing.Workers = runtime.NumCPU()
	}
	if config.Processing.QueueSize <= 0 {
		config.Processing.QueueSize = 1000
	}

	// Set defaults for engine timers
	if config.Engine.ScheduleTickInterval == "" {
		config.Engine.ScheduleTickInterval = "1m"
	}
	if config.Engine.EscalationSweepInterval == "" {
		config.Engine.EscalationSweepInterval = "30s"
	}
	if config.Engine.DigestSweepInterval == "" {
		config.Engine.DigestSweepInterval = "1m"
	}
	if config.Engine.LeaseTTL == "" {
		config.Engine.LeaseTTL = "5m"
	}
	if config.Engine.DefaultOrg == "" {
		config.Engine.DefaultOrg = "default"
	}

	// Set defaults for definitions
	if config.Definitions.RulesDir == "" {
		config.Definitions.RulesDir = "definitions/rules"
	}
	if config.Definitions.WorkflowsDir == "" {
		config.Definitions.WorkflowsDir = "definitions/workflows"
	}

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogToFile && cfg.Logging.Directory == "" {
		return fmt.Errorf("log directory is required when logging to file")
	}

	// Validate engine timers
	for name, value := range map[string]string{
		"scheduleTickInterval":    cfg.Engine.ScheduleTickInterval,
		"escalationSweepInterval": cfg.Engine.EscalationSweepInterval,
		"digestSweepInterval":     cfg.Engine.DigestSweepInterval,
		"leaseTtl":                cfg.Engine.LeaseTTL,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	// Validate event sources
	if cfg.Sources.NATS.Enabled {
		if len(cfg.Sources.NATS.URLs) == 0 {
			return fmt.Errorf("nats urls are required when nats source is enabled")
		}
		if len(cfg.Sources.NATS.Subjects) == 0 {
			return fmt.Errorf("nats subjects are required when nats source is enabled")
		}
		if err := validateTLS(&cfg.Sources.NATS.TLS); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}
	if cfg.Sources.MQTT.Enabled {
		if cfg.Sources.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker address is required when mqtt source is enabled")
		}
		if len(cfg.Sources.MQTT.Topics) == 0 {
			return fmt.Errorf("mqtt topics are required when mqtt source is enabled")
		}
		if err := validateTLS(&cfg.Sources.MQTT.TLS); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Validate processing config
	if cfg.Processing.Workers < 1 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if cfg.Processing.QueueSize < 1 {
		return fmt.Errorf("queue size must be greater than 0")
	}

	return nil
}

func validateTLS(tls *TLSConfig) error {
	if !tls.Enable {
		return nil
	}
	if tls.CertFile == "" {
		return fmt.Errorf("tls cert file is required when tls is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("tls key file is required when tls is enabled")
	}
	if tls.CAFile == "" {
		return fmt.Errorf("tls ca file is required when tls is enabled")
	}
	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(workers, queueSize int, metricsAddr, metricsPath, rulesDir, workflowsDir string) {
	if workers > 0 {
		c.Processing.Workers = workers
	}
	if queueSize > 0 {
		c.Processing.QueueSize = queueSize
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
	if rulesDir != "" {
		c.Definitions.RulesDir = rulesDir
	}
	if workflowsDir != "" {
		c.Definitions.WorkflowsDir = workflowsDir
	}
}

// Interval returns a parsed engine interval, falling back when the value is
// missing or unparseable (zero-value configs in tests).
func Interval(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
