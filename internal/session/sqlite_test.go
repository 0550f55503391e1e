package session

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "survey.db"))
	defer store.Close()

	ctx := context.Background()

	sessionID, err := store.CreateSession(ctx, "asv-01", map[string]any{"interval": "1s"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sessionID == 0 {
		t.Fatal("CreateSession() returned zero ID")
	}

	at := time.Date(2026, 8, 29, 12, 0, 45, 0, time.UTC)
	if err := store.StoreRow(ctx, sessionID, sampleRow(at)); err != nil {
		t.Fatalf("StoreRow() error = %v", err)
	}
	if err := store.StoreRow(ctx, sessionID, Row{At: at.Add(time.Second)}); err != nil {
		t.Fatalf("StoreRow() empty row error = %v", err)
	}

	rows, err := store.Observations(ctx, sessionID)
	if err != nil {
		t.Fatalf("Observations() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Observations() returned %d rows, want 2", len(rows))
	}

	full := rows[0]
	if full.Position == nil {
		t.Fatal("first row has no Position")
	}
	if math.Abs(full.Position.Latitude-25.704622) > 1e-9 {
		t.Errorf("Latitude = %f, want 25.704622", full.Position.Latitude)
	}
	if full.Mode == nil || full.Mode.Code != "W" {
		t.Errorf("Mode = %+v, want code W", full.Mode)
	}
	if full.Water == nil || full.Water.Temperature != 24.5 {
		t.Errorf("Water = %+v, want temperature 24.5", full.Water)
	}
	if full.Attitude != nil {
		t.Error("first row has Attitude, want nil")
	}
	if full.Lidar == nil || full.Lidar.Points != 360 || full.Lidar.MinRange != 1.8 {
		t.Errorf("Lidar = %+v, want 360 points at min range 1.8", full.Lidar)
	}

	empty := rows[1]
	if empty.Position != nil || empty.Mode != nil || empty.Water != nil ||
		empty.Image != nil || empty.Lidar != nil {
		t.Errorf("second row not empty: %+v", empty)
	}
	if !empty.At.After(full.At) {
		t.Errorf("rows out of time order: %s then %s", full.At, empty.At)
	}
}

func TestStoreSessions(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "survey.db"))
	defer store.Close()

	ctx := context.Background()

	id1, err := store.CreateSession(ctx, "asv-01", "raw config")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id2, err := store.CreateSession(ctx, "asv-02", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("duplicate session IDs: %d", id1)
	}

	sess, err := store.Session(ctx, id1)
	if err != nil {
		t.Fatalf("Session(%d) error = %v", id1, err)
	}
	if sess.VesselID != "asv-01" {
		t.Errorf("VesselID = %q, want asv-01", sess.VesselID)
	}
	if sess.Config == nil || !strings.Contains(*sess.Config, "raw config") {
		t.Errorf("Config = %v, want raw config", sess.Config)
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Sessions() returned %d, want 2", len(sessions))
	}
	if sessions[1].Config != nil {
		t.Errorf("second session Config = %v, want nil", sessions[1].Config)
	}
}

func TestSQLiteSinkAppendsToItsSession(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "survey.db"))

	ctx := context.Background()

	sink, err := NewSQLiteSink(ctx, store, "asv-01", nil)
	if err != nil {
		t.Fatalf("NewSQLiteSink() error = %v", err)
	}

	at := time.Date(2026, 8, 29, 12, 0, 45, 0, time.UTC)
	if err := sink.Write(ctx, sampleRow(at)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rows, err := store.Observations(ctx, sink.SessionID())
	if err != nil {
		t.Fatalf("Observations() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Observations() returned %d rows, want 1", len(rows))
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
