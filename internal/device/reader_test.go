package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

// scriptedSource replays a fixed sequence of Open outcomes.
type scriptedSource struct {
	mu      sync.Mutex
	streams []func() (io.ReadCloser, error)
	idx     int
}

func (s *scriptedSource) Open(context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.streams) {
		return nil, errors.New("no carrier")
	}
	open := s.streams[s.idx]
	s.idx++
	return open()
}

func (s *scriptedSource) String() string { return "scripted" }

func sentences(frames ...nmea.Frame) io.ReadCloser {
	var sb strings.Builder
	for _, f := range frames {
		sb.Write(nmea.Encode(f))
	}
	return io.NopCloser(strings.NewReader(sb.String()))
}

func exoFrame(temp string) nmea.Frame {
	return nmea.NewFrame(nmea.TalkerWaterQual, "98.2", "8.11", temp)
}

func TestReaderReconnectWithGapMarker(t *testing.T) {
	source := &scriptedSource{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) {
			return sentences(exoFrame("24.1"), exoFrame("24.2"), exoFrame("24.3")), nil
		},
		func() (io.ReadCloser, error) { return nil, errors.New("transient open failure") },
		func() (io.ReadCloser, error) {
			return sentences(exoFrame("24.4"), exoFrame("24.5")), nil
		},
	}}

	r := NewReader(source, WithBackoff(time.Millisecond, 4*time.Millisecond, 2))
	events := make(chan Event, 16)

	done, err := r.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	runErr := <-done
	if !errors.Is(runErr, ErrDeviceDisconnected) {
		t.Fatalf("terminal error = %v, want ErrDeviceDisconnected", runErr)
	}
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5", len(got))
	}

	// Exactly one gap marker, on the first frame after recovery.
	for i, ev := range got {
		wantGap := i == 3
		if ev.Gap != wantGap {
			t.Errorf("event %d: gap = %v, want %v", i, ev.Gap, wantGap)
		}
	}
	if got[3].Frame.Field(2) != "24.4" {
		t.Errorf("first frame after recovery = %q, want 24.4", got[3].Frame.Field(2))
	}
}

func TestReaderDisconnectAfterRetryBound(t *testing.T) {
	source := &scriptedSource{} // every Open fails

	r := NewReader(source, WithBackoff(time.Millisecond, 2*time.Millisecond, 3))
	events := make(chan Event, 1)

	done, err := r.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case runErr := <-done:
		if !errors.Is(runErr, ErrDeviceDisconnected) {
			t.Fatalf("terminal error = %v, want ErrDeviceDisconnected", runErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not give up within the retry bound")
	}
}

func TestReaderMalformedDroppedAndCounted(t *testing.T) {
	stream := "garbage\r\n" +
		"$EXO,98.2,8.11,24.1*" + nmea.Checksum("EXO,98.2,8.11,24.1") + "\r\n" +
		"$EXO,98.2,8.11,bad*00\r\n" +
		"$EXO,98.2,8.11,24.2*" + nmea.Checksum("EXO,98.2,8.11,24.2") + "\r\n"

	source := &scriptedSource{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(stream)), nil },
	}}

	r := NewReader(source, WithBackoff(time.Millisecond, 2*time.Millisecond, 1))
	events := make(chan Event, 16)

	done, err := r.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-done
	close(events)

	var temps []string
	for ev := range events {
		temps = append(temps, ev.Frame.Field(2))
	}
	if fmt.Sprint(temps) != "[24.1 24.2]" {
		t.Errorf("delivered frames = %v, want [24.1 24.2]", temps)
	}
	if r.Malformed() != 1 {
		t.Errorf("malformed count = %d, want 1", r.Malformed())
	}
}

func TestReaderStopReleasesBlockedRead(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	source := &scriptedSource{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return pr, nil },
	}}

	r := NewReader(source)
	events := make(chan Event, 1)

	done, err := r.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release the blocked read")
	}
	<-done
}

func TestReaderRejectsDoubleRun(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	source := &scriptedSource{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return pr, nil },
	}}

	r := NewReader(source)
	events := make(chan Event, 1)

	if _, err := r.Run(context.Background(), events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer r.Stop()

	if _, err := r.Run(context.Background(), events); err == nil {
		t.Error("second Run succeeded, want error")
	}
}
