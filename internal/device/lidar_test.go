package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

func TestLidarSourceSpoolsSweeps(t *testing.T) {
	sweep := []float64{0, 1.25, 0.8, 0, 2.4, 0, 0, 3.1}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sweep)
	}))
	defer srv.Close()

	spool := t.TempDir()
	lidar, err := NewLidarSource(LidarConfig{
		DataURL:      srv.URL,
		SpoolDir:     spool,
		PollInterval: Duration(time.Hour), // only the initial sweep
	})
	if err != nil {
		t.Fatalf("NewLidarSource failed: %v", err)
	}

	stream, err := lidar.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	sc := nmea.NewScanner(stream)
	if !sc.Scan() {
		t.Fatalf("no sentence emitted: %v", sc.Err())
	}
	f, err := nmea.Decode(sc.Bytes())
	if err != nil {
		t.Fatalf("Decode(%q) failed: %v", sc.Bytes(), err)
	}

	if f.Talker != nmea.TalkerLidar {
		t.Fatalf("talker = %q, want %q", f.Talker, nmea.TalkerLidar)
	}
	if f.Field(1) != "1" {
		t.Errorf("sequence = %q, want 1", f.Field(1))
	}
	if f.Field(3) != "8" {
		t.Errorf("point count = %q, want 8", f.Field(3))
	}
	// Nearest non-zero return is 0.8 m at index 2 of an 8-point sweep,
	// so the bearing is 2 * 45 degrees.
	if f.Field(4) != "0.8" {
		t.Errorf("min range = %q, want 0.8", f.Field(4))
	}
	if f.Field(5) != "90" {
		t.Errorf("min bearing = %q, want 90", f.Field(5))
	}

	stored, err := os.ReadFile(filepath.Join(spool, f.Field(2)))
	if err != nil {
		t.Fatalf("reading spooled sweep: %v", err)
	}
	var got lidarSweep
	if err := json.Unmarshal(stored, &got); err != nil {
		t.Fatalf("parsing spooled sweep: %v", err)
	}
	if len(got.Distances) != len(sweep) || got.Distances[1] != 1.25 {
		t.Errorf("spooled distances = %v, want %v", got.Distances, sweep)
	}
	if len(got.Angles) != len(sweep) || got.Angles[4] != 180 {
		t.Errorf("spooled angles = %v, want 45 degree steps", got.Angles)
	}
}

func TestLidarSourceOpenFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "lidar offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	lidar, err := NewLidarSource(LidarConfig{DataURL: srv.URL, SpoolDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLidarSource failed: %v", err)
	}

	if _, err := lidar.Open(context.Background()); err == nil {
		t.Error("Open succeeded against an unavailable server")
	}
}

func TestLidarSourceConfigValidation(t *testing.T) {
	if _, err := NewLidarSource(LidarConfig{SpoolDir: t.TempDir()}); err == nil {
		t.Error("missing data URL accepted")
	}
	if _, err := NewLidarSource(LidarConfig{DataURL: "http://lidar/data"}); err == nil {
		t.Error("missing spool directory accepted")
	}
}
