package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/open-asv/surveyor/internal/device"
	"github.com/open-asv/surveyor/internal/vehicle"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings         `yaml:"settings"`
	Sensors  SensorsConfig    `yaml:"sensors"`
	Vehicle  *VehicleConfig   `yaml:"vehicle"`
	Record   RecordConfig     `yaml:"record"`
	Mission  *vehicle.Mission `yaml:"mission"`
}

// Settings represents global application settings
type Settings struct {
	VesselID string `yaml:"vesselId"`
	LogLevel string `yaml:"logLevel"`
}

// Level maps the configured log level onto slog, defaulting to Info.
func (s Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SensorsConfig represents the telemetry broadcast endpoints to consume
type SensorsConfig struct {
	ProbeAddr  string          `yaml:"probeAddr"`
	CameraAddr string          `yaml:"cameraAddr"`
	LidarAddr  string          `yaml:"lidarAddr"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig represents client reconnect behavior
type ReconnectConfig struct {
	Base device.Duration `yaml:"base"`
	Max  device.Duration `yaml:"max"`
}

// VehicleConfig represents the command channel settings
type VehicleConfig struct {
	Addr           string          `yaml:"addr"`
	CommandTimeout device.Duration `yaml:"commandTimeout"`
	Correlation    string          `yaml:"correlation"`
}

// RecordConfig represents session recording settings
type RecordConfig struct {
	Interval      device.Duration `yaml:"interval"`
	Freshness     device.Duration `yaml:"freshness"`
	DataDirectory string          `yaml:"dataDirectory"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration: %w", err)
	}
	defer f.Close()

	var config Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Settings.VesselID == "" {
		return fmt.Errorf("vesselId is required")
	}
	if c.Sensors.ProbeAddr == "" && c.Sensors.CameraAddr == "" &&
		c.Sensors.LidarAddr == "" && c.Vehicle == nil {
		return fmt.Errorf("no sensors or vehicle configured")
	}
	if c.Vehicle != nil {
		if c.Vehicle.Addr == "" {
			return fmt.Errorf("vehicle address is required")
		}
		switch c.Vehicle.Correlation {
		case "", string(vehicle.CorrelationFIFO), string(vehicle.CorrelationToken):
		default:
			return fmt.Errorf("unknown correlation policy '%s'", c.Vehicle.Correlation)
		}
	}
	if c.Mission != nil && c.Vehicle == nil {
		return fmt.Errorf("mission requires a vehicle section")
	}
	return nil
}
