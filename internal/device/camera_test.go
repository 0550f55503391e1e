package device

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-asv/surveyor/internal/nmea"
)

// mjpegHandler serves the given payloads as one multipart MJPEG response.
func mjpegHandler(payloads ...[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, p := range payloads {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(p))
			w.Write(p)
			fmt.Fprint(w, "\r\n")
		}
		fmt.Fprint(w, "--frame--\r\n")
	}
}

func TestCameraSourceSpoolsFrames(t *testing.T) {
	first := []byte("\xff\xd8first-jpeg\xff\xd9")
	second := []byte("\xff\xd8second-jpeg-longer\xff\xd9")

	srv := httptest.NewServer(mjpegHandler(first, second))
	defer srv.Close()

	spool := t.TempDir()
	cam, err := NewCameraSource(CameraConfig{StreamURL: srv.URL, SpoolDir: spool})
	if err != nil {
		t.Fatalf("NewCameraSource failed: %v", err)
	}

	stream, err := cam.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	sc := nmea.NewScanner(stream)
	var frames []nmea.Frame
	for len(frames) < 2 && sc.Scan() {
		f, err := nmea.Decode(sc.Bytes())
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", sc.Bytes(), err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (scanner err: %v)", len(frames), sc.Err())
	}

	for i, want := range [][]byte{first, second} {
		f := frames[i]
		if f.Talker != nmea.TalkerImage {
			t.Fatalf("frame %d: talker %q, want %q", i, f.Talker, nmea.TalkerImage)
		}
		if f.Field(1) != fmt.Sprintf("%d", i+1) {
			t.Errorf("frame %d: sequence %q, want %d", i, f.Field(1), i+1)
		}
		if f.Field(3) != fmt.Sprintf("%d", len(want)) {
			t.Errorf("frame %d: size %q, want %d", i, f.Field(3), len(want))
		}

		stored, err := os.ReadFile(filepath.Join(spool, f.Field(2)))
		if err != nil {
			t.Fatalf("frame %d: reading spooled file: %v", i, err)
		}
		if string(stored) != string(want) {
			t.Errorf("frame %d: spooled bytes differ from capture", i)
		}
	}
}

func TestCameraSourceRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not a camera</html>")
	}))
	defer srv.Close()

	cam, err := NewCameraSource(CameraConfig{StreamURL: srv.URL, SpoolDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewCameraSource failed: %v", err)
	}

	if _, err := cam.Open(context.Background()); err == nil {
		t.Error("Open succeeded against a non-multipart endpoint")
	}
}

func TestCameraSourceConfigValidation(t *testing.T) {
	if _, err := NewCameraSource(CameraConfig{SpoolDir: t.TempDir()}); err == nil {
		t.Error("missing stream URL accepted")
	}
	if _, err := NewCameraSource(CameraConfig{StreamURL: "http://cam/video_feed"}); err == nil {
		t.Error("missing spool directory accepted")
	}
}
