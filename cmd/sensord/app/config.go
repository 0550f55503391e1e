package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/open-asv/surveyor/internal/device"
)

// Device types accepted in configuration.
const (
	DeviceSerial = "serial"
	DeviceCamera = "camera"
	DeviceLidar  = "lidar"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// Settings represents global application settings
type Settings struct {
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

// DeviceConfig represents a single broadcast device configuration
type DeviceConfig struct {
	Name      string               `yaml:"name"`
	Type      string               `yaml:"type"`
	Enabled   bool                 `yaml:"enabled"`
	Listen    string               `yaml:"listen"`
	QueueSize int                  `yaml:"queueSize"`
	Reconnect ReconnectConfig      `yaml:"reconnect"`
	Serial    *device.SerialConfig `yaml:"serial"`
	Camera    *device.CameraConfig `yaml:"camera"`
	Lidar     *device.LidarConfig  `yaml:"lidar"`
	Annotate  bool                 `yaml:"annotate"`
}

// ReconnectConfig represents device reconnect behavior
type ReconnectConfig struct {
	Base        device.Duration `yaml:"base"`
	Max         device.Duration `yaml:"max"`
	MaxAttempts int             `yaml:"maxAttempts"`
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
	seen := make(map[string]struct{}, len(c.Devices))
	enabled := 0

	for i, dc := range c.Devices {
		if dc.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if _, dup := seen[dc.Name]; dup {
			return fmt.Errorf("device '%s': duplicate name", dc.Name)
		}
		seen[dc.Name] = struct{}{}

		if !dc.Enabled {
			continue
		}
		enabled++

		if dc.Listen == "" {
			return fmt.Errorf("device '%s': listen address is required", dc.Name)
		}

		switch dc.Type {
		case DeviceSerial:
			if dc.Serial == nil {
				return fmt.Errorf("device '%s': serial section is required", dc.Name)
			}
		case DeviceCamera:
			if dc.Camera == nil {
				return fmt.Errorf("device '%s': camera section is required", dc.Name)
			}
		case DeviceLidar:
			if dc.Lidar == nil {
				return fmt.Errorf("device '%s': lidar section is required", dc.Name)
			}
		default:
			return fmt.Errorf("device '%s': unknown type '%s'", dc.Name, dc.Type)
		}
	}

	if enabled == 0 {
		return fmt.Errorf("no enabled devices in configuration")
	}
	return nil
}
