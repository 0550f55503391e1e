package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sensord.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
devices:
  - name: probe
    type: serial
    enabled: true
    listen: 0.0.0.0:5000
    queueSize: 128
    reconnect:
      base: 500ms
      max: 8s
      maxAttempts: 6
    serial:
      port: /dev/ttyUSB0
      baud: 9600
      pollCommand: data
      pollInterval: 1s
  - name: camera
    type: camera
    enabled: false
    listen: 0.0.0.0:5001
    camera:
      streamUrl: http://localhost:5001/video_feed
      spoolDir: /tmp/spool
  - name: lidar
    type: lidar
    enabled: true
    listen: 0.0.0.0:5002
    lidar:
      dataUrl: http://localhost:5002/data
      spoolDir: /tmp/scans
      pollInterval: 1s
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if got := config.Settings.Level(); got != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", got)
	}
	if len(config.Devices) != 3 {
		t.Fatalf("Devices = %d, want 3", len(config.Devices))
	}

	probe := config.Devices[0]
	if probe.Serial == nil || probe.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("Serial = %+v, want port /dev/ttyUSB0", probe.Serial)
	}
	if got := probe.Serial.PollInterval.Std(); got != time.Second {
		t.Errorf("PollInterval = %s, want 1s", got)
	}
	if got := probe.Reconnect.Base.Std(); got != 500*time.Millisecond {
		t.Errorf("Reconnect.Base = %s, want 500ms", got)
	}
	if config.Devices[1].Enabled {
		t.Error("camera device enabled, want disabled")
	}

	lidar := config.Devices[2]
	if lidar.Lidar == nil || lidar.Lidar.DataURL != "http://localhost:5002/data" {
		t.Errorf("Lidar = %+v, want data URL http://localhost:5002/data", lidar.Lidar)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: info
  verbosity: high
devices:
  - name: probe
    type: serial
    enabled: true
    listen: :5000
    serial:
      port: /dev/ttyUSB0
`)

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() accepted unknown field, want error")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no enabled devices",
			body: `
devices:
  - name: probe
    type: serial
    enabled: false
    serial:
      port: /dev/ttyUSB0
`,
			want: "no enabled devices",
		},
		{
			name: "unknown device type",
			body: `
devices:
  - name: sonar
    type: sonar
    enabled: true
    listen: :5000
`,
			want: "unknown type",
		},
		{
			name: "missing serial section",
			body: `
devices:
  - name: probe
    type: serial
    enabled: true
    listen: :5000
`,
			want: "serial section",
		},
		{
			name: "missing lidar section",
			body: `
devices:
  - name: lidar
    type: lidar
    enabled: true
    listen: :5002
`,
			want: "lidar section",
		},
		{
			name: "missing listen address",
			body: `
devices:
  - name: probe
    type: serial
    enabled: true
    serial:
      port: /dev/ttyUSB0
`,
			want: "listen address",
		},
		{
			name: "duplicate names",
			body: `
devices:
  - name: probe
    type: serial
    enabled: true
    listen: :5000
    serial:
      port: /dev/ttyUSB0
  - name: probe
    type: serial
    enabled: true
    listen: :5001
    serial:
      port: /dev/ttyUSB1
`,
			want: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want %q", err, tt.want)
			}
		})
	}
}
