package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
	"github.com/open-asv/surveyor/internal/telemetry"
)

func exoFrame(temp string) []byte {
	return nmea.Encode(nmea.NewFrame(nmea.TalkerWaterQual, "98.2", "8.11", temp))
}

func TestConnectRefused(t *testing.T) {
	// Bind a port, then close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	_, err = Connect(context.Background(), addr, "probe")
	if !errors.Is(err, ErrConnectionRefused) {
		t.Errorf("Connect error = %v, want ErrConnectionRefused", err)
	}
}

func TestSubscribeAndLatest(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond) // let the client subscribe first
		conn.Write(exoFrame("24.5"))
		conn.Write(exoFrame("24.6"))
		// Keep the connection open so no interruption is signalled.
		time.Sleep(time.Hour)
	}()

	c, err := Connect(context.Background(), l.Addr().String(), "probe")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	events := c.Subscribe()

	first := recvEvent(t, events)
	if first.Interrupted {
		t.Error("first record carries an interruption marker")
	}
	if wq := first.Record.(telemetry.WaterQuality); wq.Temperature != 24.5 {
		t.Errorf("first temperature = %f, want 24.5", wq.Temperature)
	}

	second := recvEvent(t, events)
	if wq := second.Record.(telemetry.WaterQuality); wq.Temperature != 24.6 {
		t.Errorf("second temperature = %f, want 24.6", wq.Temperature)
	}

	latest := c.Latest(telemetry.KindWaterQuality)
	if latest == nil {
		t.Fatal("Latest returned nil after two records")
	}
	if wq := latest.(telemetry.WaterQuality); wq.Temperature != 24.6 {
		t.Errorf("Latest temperature = %f, want 24.6", wq.Temperature)
	}
	if c.Latest(telemetry.KindPosition) != nil {
		t.Error("Latest(position) should be nil, no position arrived")
	}
}

func TestReconnectSignalsInterruptionOnce(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	go func() {
		// First session: two readings, then drop the subscriber.
		conn, err := l.Accept()
		if err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond) // let the client subscribe first
		conn.Write(exoFrame("24.1"))
		conn.Write(exoFrame("24.2"))
		conn.Close()

		// Second session after the client reconnects.
		conn, err = l.Accept()
		if err != nil {
			return
		}
		conn.Write(exoFrame("24.3"))
		conn.Write(exoFrame("24.4"))
		time.Sleep(time.Hour)
	}()

	c, err := Connect(context.Background(), l.Addr().String(), "probe",
		WithBackoff(time.Millisecond, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	events := c.Subscribe()

	wantTemps := []float64{24.1, 24.2, 24.3, 24.4}
	wantInterrupted := []bool{false, false, true, false}
	for i := range wantTemps {
		ev := recvEvent(t, events)
		wq := ev.Record.(telemetry.WaterQuality)
		if wq.Temperature != wantTemps[i] {
			t.Errorf("record %d: temperature = %f, want %f", i, wq.Temperature, wantTemps[i])
		}
		if ev.Interrupted != wantInterrupted[i] {
			t.Errorf("record %d: interrupted = %v, want %v", i, ev.Interrupted, wantInterrupted[i])
		}
	}
}

func TestCloseTerminatesSubscriptions(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		conn.Read(buf) // hold open until the client closes
	}()

	c, err := Connect(context.Background(), l.Addr().String(), "probe")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := c.Subscribe()
	c.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("received an event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after Close")
	}

	// Close is idempotent; Subscribe after Close yields a closed channel.
	c.Close()
	if _, ok := <-c.Subscribe(); ok {
		t.Error("Subscribe after Close yielded an open channel")
	}
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
