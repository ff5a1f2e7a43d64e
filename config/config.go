// Package config loads the YAML configuration file shared by the mount
// server and logger.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moonpano/mount_interface/ephemeris"
	"github.com/moonpano/mount_interface/mount"
)

// DriverConfig selects and parameterizes the hardware backend.
type DriverConfig struct {
	Type string `yaml:"type"` // "lx200" or "simulator"
	Port string `yaml:"port"` // serial device, e.g. /dev/ttyUSB0
	Baud int    `yaml:"baud"`
}

// GuidePortConfig describes the optional ST-4 relay board.
type GuidePortConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

// SiteConfig is the observing location. Longitude is positive east.
type SiteConfig struct {
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"`
	ElevationM   float64 `yaml:"elevation_m"`
}

// MountConfig holds the timing and precision parameters of the command
// queue.
type MountConfig struct {
	PollingMs             int     `yaml:"polling_ms"`              // idle wait and jog pulse length
	GuidingMs             int     `yaml:"guiding_ms"`              // guiding control period
	WaitMs                int     `yaml:"wait_ms"`                 // settle poll period
	LookupPrecisionArcsec float64 `yaml:"lookup_precision_arcsec"` // settled when two reads agree this well
	LookupMaxIterations   int     `yaml:"lookup_max_iterations"`
	CalibratePulseMs      int     `yaml:"calibrate_pulse_ms"`
	GuideRateDegPerSec    float64 `yaml:"guide_rate_deg_per_sec"` // 0 = sidereal
	StartupTimeoutPolls   int     `yaml:"startup_timeout_polls"`
}

// ServerConfig configures the HTTP/WebSocket and TCP control listeners.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	TCPAddr   string `yaml:"tcp_addr"`
	StaticDir string `yaml:"static_dir"`
}

// LoggerConfig configures the InfluxDB status logger.
type LoggerConfig struct {
	ServerURL string `yaml:"server_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
}

type Config struct {
	Driver    DriverConfig    `yaml:"driver"`
	GuidePort GuidePortConfig `yaml:"guide_port"`
	Site      SiteConfig      `yaml:"site"`
	Mount     MountConfig     `yaml:"mount"`
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// Load reads a YAML file, validates it and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	switch cfg.Driver.Type {
	case "lx200":
		if cfg.Driver.Port == "" {
			return nil, fmt.Errorf("driver.port is required for lx200")
		}
	case "simulator":
	case "":
		cfg.Driver.Type = "simulator"
	default:
		return nil, fmt.Errorf("unknown driver.type %q", cfg.Driver.Type)
	}
	if cfg.Driver.Baud <= 0 {
		cfg.Driver.Baud = 9600
	}
	if cfg.GuidePort.Enabled && cfg.GuidePort.Port == "" {
		return nil, fmt.Errorf("guide_port.port is required when enabled")
	}
	if cfg.GuidePort.Baud <= 0 {
		cfg.GuidePort.Baud = 9600
	}
	if cfg.Site.LatitudeDeg < -90 || cfg.Site.LatitudeDeg > 90 {
		return nil, fmt.Errorf("site.latitude_deg must be between -90 and 90, got %v", cfg.Site.LatitudeDeg)
	}
	if cfg.Site.LongitudeDeg < -180 || cfg.Site.LongitudeDeg > 180 {
		return nil, fmt.Errorf("site.longitude_deg must be between -180 and 180, got %v", cfg.Site.LongitudeDeg)
	}
	if cfg.Mount.PollingMs < 0 || cfg.Mount.GuidingMs < 0 || cfg.Mount.WaitMs < 0 {
		return nil, fmt.Errorf("mount timing values must not be negative")
	}
	if cfg.Mount.LookupPrecisionArcsec < 0 {
		return nil, fmt.Errorf("mount.lookup_precision_arcsec must not be negative")
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8502"
	}

	return &cfg, nil
}

// MountConfig maps the timing section onto the queue configuration. Zero
// fields stay zero; the mount package substitutes its own defaults.
func (c *Config) MountConfig() mount.Config {
	return mount.Config{
		PollingInterval:     time.Duration(c.Mount.PollingMs) * time.Millisecond,
		GuidingInterval:     time.Duration(c.Mount.GuidingMs) * time.Millisecond,
		WaitInterval:        time.Duration(c.Mount.WaitMs) * time.Millisecond,
		LookupPrecision:     c.Mount.LookupPrecisionArcsec,
		LookupMaxIterations: c.Mount.LookupMaxIterations,
		CalibratePulse:      time.Duration(c.Mount.CalibratePulseMs) * time.Millisecond,
		GuideRate:           c.Mount.GuideRateDegPerSec,
		StartupTimeoutPolls: c.Mount.StartupTimeoutPolls,
	}
}

// EphemerisSite returns the observing site for ephemeris computations.
func (c *Config) EphemerisSite() ephemeris.Site {
	return ephemeris.Site{
		LatitudeDeg:  c.Site.LatitudeDeg,
		LongitudeDeg: c.Site.LongitudeDeg,
		ElevationM:   c.Site.ElevationM,
	}
}
