package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const twoStations = `
scan:
  start: 0
  end: 50
  response_timeout: 1500ms
stations:
  - name: left
    host: http://10.0.0.1
  - host: http://10.0.0.2
    threshold: 90
backend:
  type: osc
  count: 64
  address: 127.0.0.1:9000
kafka:
  brokers: ["k1:9092"]
`

func TestLoadConfig_YAMLAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, twoStations))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Scan.End)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.ResponseTimeout)
	assert.Equal(t, DefaultStabilizationDelay, cfg.Scan.StabilizationDelay)
	assert.Equal(t, DefaultSettleDelay, cfg.Scan.SettleDelay)
	assert.Equal(t, DefaultShutdownGrace, cfg.Scan.ShutdownGrace)
	require.NotNil(t, cfg.Scan.MinSuccessRate)
	assert.Equal(t, DefaultMinSuccessRate, cfg.Scan.SuccessRate())

	require.Len(t, cfg.Stations, 2)
	assert.Equal(t, "left", cfg.Stations[0].Name)
	assert.Equal(t, DefaultThreshold, cfg.Stations[0].Threshold)
	assert.Equal(t, "station-1", cfg.Stations[1].Name)
	assert.Equal(t, 90, cfg.Stations[1].Threshold)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_EnvironmentOverridesYAML(t *testing.T) {
	t.Setenv("SCAN_END", "20")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("BACKEND_TYPE", "memory")

	cfg, err := LoadConfig(writeConfig(t, twoStations))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Scan.End)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Len(t, cfg.Stations, 2)
}

func TestLoadConfig_ZeroSuccessRateIsKept(t *testing.T) {
	body := strings.Replace(twoStations, "  response_timeout: 1500ms\n", "  response_timeout: 1500ms\n  min_success_rate: 0\n", 1)
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)
	require.NotNil(t, cfg.Scan.MinSuccessRate)
	assert.Zero(t, cfg.Scan.SuccessRate())

	t.Setenv("SCAN_MIN_SUCCESS_RATE", "0.8")
	cfg, err = LoadConfig(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Scan.SuccessRate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{
		Scan:     Scan{End: 10, ResponseTimeout: time.Second},
		Stations: []Station{{Name: "a", Host: "http://a"}, {Name: "b", Host: "http://b"}},
		Backend:  Backend{Type: "memory", Count: 10},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"end not after start":   func(c *Config) { c.Scan.Start = 10 },
		"negative start":        func(c *Config) { c.Scan.Start = -1 },
		"no stations":           func(c *Config) { c.Stations = nil },
		"missing timeout":       func(c *Config) { c.Scan.ResponseTimeout = 0 },
		"negative delay":        func(c *Config) { c.Scan.SettleDelay = -time.Millisecond },
		"success rate above 1":  func(c *Config) { c.Scan.MinSuccessRate = lo.ToPtr(1.5) },
		"station without host":  func(c *Config) { c.Stations[1].Host = "" },
		"threshold out of byte": func(c *Config) { c.Stations[0].Threshold = 300 },
		"unknown backend":       func(c *Config) { c.Backend.Type = "dmx" },
		"osc without address":   func(c *Config) { c.Backend.Type = "osc" },
		"serial without device": func(c *Config) { c.Backend.Type = "serial" },
		"zero backend count":    func(c *Config) { c.Backend.Count = 0 },
		"artnet universe":       func(c *Config) { c.Backend.Type, c.Backend.ChannelsPerFixture, c.Backend.Universe = "artnet", 1, 1<<15 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyDefaults_ArtNet(t *testing.T) {
	cfg := &Config{Backend: Backend{Type: "artnet", Count: 170}}
	cfg.applyDefaults()
	assert.Equal(t, DefaultArtNetAddress, cfg.Backend.Address)
	assert.Equal(t, 1, cfg.Backend.ChannelsPerFixture)
}

func TestValidate_SingleStationNeedsNoTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Stations = cfg.Stations[:1]
	cfg.Scan.ResponseTimeout = 0
	assert.NoError(t, cfg.Validate())
}
