package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStabilizationDelay = 50 * time.Millisecond
	DefaultSettleDelay        = 30 * time.Millisecond
	DefaultShutdownGrace      = 3 * time.Second
	DefaultMinSuccessRate     = 0.5
	DefaultThreshold          = 128
	DefaultArtNetAddress      = "255.255.255.255"
)

const defaultPath = "internal/config/local.yaml"

// Config структура конфига
type Config struct {
	Scan     Scan      `yaml:"scan"`
	Stations []Station `yaml:"stations"`
	Backend  Backend   `yaml:"backend"`

	Detection struct {
		Endpoint string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Timeout  time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
	} `yaml:"detection"`

	Kafka struct {
		Brokers          []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID          string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		RequestTopic     string   `yaml:"request_topic" env:"REQUEST_TOPIC"`
		ObservationTopic string   `yaml:"observation_topic" env:"OBSERVATION_TOPIC"`
		ReportTopic      string   `yaml:"report_topic" env:"REPORT_TOPIC"`
	} `yaml:"kafka"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	} `yaml:"minio"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Logging Logging `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr" env:"METRICS_ADDR"`
	} `yaml:"metrics"`
}

type Scan struct {
	Project            string        `yaml:"project" env:"SCAN_PROJECT"`
	Start              int           `yaml:"start" env:"SCAN_START"`
	End                int           `yaml:"end" env:"SCAN_END"`
	ResponseTimeout    time.Duration `yaml:"response_timeout" env:"SCAN_RESPONSE_TIMEOUT"`
	StabilizationDelay time.Duration `yaml:"stabilization_delay" env:"SCAN_STABILIZATION_DELAY"`
	SettleDelay        time.Duration `yaml:"settle_delay" env:"SCAN_SETTLE_DELAY"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace" env:"SCAN_SHUTDOWN_GRACE"`
	MovementCheck      bool          `yaml:"movement_check" env:"SCAN_MOVEMENT_CHECK"`
	// MinSuccessRate is nil when unset; an explicit 0 disables the degraded warning.
	MinSuccessRate *float64 `yaml:"min_success_rate" env:"SCAN_MIN_SUCCESS_RATE"`
}

// SuccessRate returns MinSuccessRate or the default when it is unset.
func (s Scan) SuccessRate() float64 {
	if s.MinSuccessRate == nil {
		return DefaultMinSuccessRate
	}
	return *s.MinSuccessRate
}

// Station описывает одну камеру
type Station struct {
	Name         string        `yaml:"name"`
	Host         string        `yaml:"host"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	SnapshotPath string        `yaml:"snapshot_path"`
	Exposure     int           `yaml:"exposure"`
	Threshold    int           `yaml:"threshold"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Backend struct {
	Type     string `yaml:"type" env:"BACKEND_TYPE"`
	Count    int    `yaml:"count" env:"BACKEND_COUNT"`
	Address  string `yaml:"address" env:"BACKEND_ADDRESS"`
	Device   string `yaml:"device" env:"BACKEND_DEVICE"`
	BaudRate int    `yaml:"baud_rate" env:"BACKEND_BAUD_RATE"`
	// Art-Net only
	Universe           int `yaml:"universe" env:"BACKEND_UNIVERSE"`
	ChannelsPerFixture int `yaml:"channels_per_fixture" env:"BACKEND_CHANNELS_PER_FIXTURE"`
}

type Logging struct {
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = defaultPath
	}

	// Читаем YAML
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Парсим YAML в структуру
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Парсим переменные окружения с приоритетом. Станции задаются только в YAML.
	sections := []any{&cfg.Scan, &cfg.Backend, &cfg.Detection, &cfg.Kafka, &cfg.Minio, &cfg.Postgres, &cfg.Logging, &cfg.Metrics}
	for _, section := range sections {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scan.StabilizationDelay == 0 {
		c.Scan.StabilizationDelay = DefaultStabilizationDelay
	}
	if c.Scan.SettleDelay == 0 {
		c.Scan.SettleDelay = DefaultSettleDelay
	}
	if c.Scan.ShutdownGrace == 0 {
		c.Scan.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Scan.MinSuccessRate == nil {
		rate := DefaultMinSuccessRate
		c.Scan.MinSuccessRate = &rate
	}
	for i := range c.Stations {
		if c.Stations[i].Threshold == 0 {
			c.Stations[i].Threshold = DefaultThreshold
		}
		if c.Stations[i].Name == "" {
			c.Stations[i].Name = fmt.Sprintf("station-%d", i)
		}
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "memory"
	}
	if c.Backend.Type == "artnet" {
		if c.Backend.Address == "" {
			c.Backend.Address = DefaultArtNetAddress
		}
		if c.Backend.ChannelsPerFixture == 0 {
			c.Backend.ChannelsPerFixture = 1
		}
	}
}

// Validate checks the parts of the configuration a scan cannot start without.
// The response timeout has no default: it must be set for multi-station scans.
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.Start < 0 {
		errs = append(errs, fmt.Errorf("scan.start must not be negative, got %d", c.Scan.Start))
	}
	if c.Scan.End <= c.Scan.Start {
		errs = append(errs, fmt.Errorf("scan.end (%d) must be greater than scan.start (%d)", c.Scan.End, c.Scan.Start))
	}
	if len(c.Stations) == 0 {
		errs = append(errs, errors.New("at least one station is required"))
	}
	if len(c.Stations) > 1 && c.Scan.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("scan.response_timeout is required with more than one station"))
	}
	if c.Scan.StabilizationDelay < 0 || c.Scan.SettleDelay < 0 || c.Scan.ShutdownGrace < 0 {
		errs = append(errs, errors.New("scan delays must not be negative"))
	}
	if rate := c.Scan.SuccessRate(); rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("scan.min_success_rate must be in [0, 1], got %v", rate))
	}
	for i, st := range c.Stations {
		if st.Host == "" {
			errs = append(errs, fmt.Errorf("stations[%d]: host is required", i))
		}
		if st.Threshold < 0 || st.Threshold > 255 {
			errs = append(errs, fmt.Errorf("stations[%d]: threshold must be in [0, 255], got %d", i, st.Threshold))
		}
	}

	switch c.Backend.Type {
	case "memory", "":
	case "osc":
		if c.Backend.Address == "" {
			errs = append(errs, errors.New("backend.address is required for osc"))
		}
	case "artnet":
		if c.Backend.Universe < 0 || c.Backend.Universe > 0x7fff {
			errs = append(errs, fmt.Errorf("backend.universe must be in [0, 32767], got %d", c.Backend.Universe))
		}
		if c.Backend.ChannelsPerFixture < 1 || c.Backend.ChannelsPerFixture > 512 {
			errs = append(errs, fmt.Errorf("backend.channels_per_fixture must be in [1, 512], got %d", c.Backend.ChannelsPerFixture))
		}
	case "serial":
		if c.Backend.Device == "" {
			errs = append(errs, errors.New("backend.device is required for serial"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend type %q", c.Backend.Type))
	}
	if c.Backend.Count <= 0 {
		errs = append(errs, fmt.Errorf("backend.count must be positive, got %d", c.Backend.Count))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
