package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

// LidarConfig describes the lidar data endpoint and the sweep spool.
type LidarConfig struct {
	// DataURL is the lidar server's range vector endpoint, e.g.
	// http://192.168.0.20:5002/data. It returns a JSON array of ranges
	// in meters, one per bearing step; zero means no return.
	DataURL string `yaml:"dataUrl"`

	// SpoolDir receives one JSON file per captured sweep.
	SpoolDir string `yaml:"spoolDir"`

	// PollInterval is the sweep capture cadence.
	PollInterval Duration `yaml:"pollInterval"`
}

// WithLidarLogger sets the logger for the lidar source.
func WithLidarLogger(logger *slog.Logger) func(*LidarSource) {
	return func(l *LidarSource) {
		l.logger = logger.With(slog.String("device", "lidar"))
	}
}

// LidarSource polls the lidar server's range vector, spools each sweep to
// the capture directory and yields LIDAR sentences referencing the stored
// files. The boat-side recorder resolves the references against the spool.
type LidarSource struct {
	config LidarConfig
	client *http.Client
	logger *slog.Logger

	sequence atomic.Int64
}

// NewLidarSource creates a lidar source and its spool directory.
func NewLidarSource(config LidarConfig, options ...func(*LidarSource)) (*LidarSource, error) {
	if config.DataURL == "" {
		return nil, fmt.Errorf("lidar data URL is required")
	}
	if config.SpoolDir == "" {
		return nil, fmt.Errorf("lidar spool directory is required")
	}
	if err := os.MkdirAll(config.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = Duration(time.Second)
	}

	l := LidarSource{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&l)
	}

	return &l, nil
}

func (l *LidarSource) String() string {
	return fmt.Sprintf("lidar %s", l.config.DataURL)
}

// Open fetches an initial sweep to verify the server is reachable, then
// keeps polling at the configured cadence. The returned stream yields
// LIDAR sentences; closing it stops the poll loop.
func (l *LidarSource) Open(ctx context.Context) (io.ReadCloser, error) {
	first, err := l.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching lidar sweep: %w", err)
	}

	pr, pw := io.Pipe()
	stream := &lidarStream{pr: pr, done: make(chan struct{})}
	go l.poll(first, pw, stream.done)

	return stream, nil
}

// poll spools sweeps and writes one LIDAR sentence per stored file. A
// fetch failure ends the stream so the reader can reconnect.
func (l *LidarSource) poll(sweep []float64, pw *io.PipeWriter, done <-chan struct{}) {
	ticker := time.NewTicker(l.config.PollInterval.Std())
	defer ticker.Stop()

	for {
		sentence, err := l.spool(sweep, time.Now().UTC())
		if err != nil {
			l.logger.Warn("dropping sweep", slog.Any("error", err))
		} else if _, err := pw.Write(sentence); err != nil {
			return // reader side closed
		}

		select {
		case <-done:
			_ = pw.Close()
			return
		case <-ticker.C:
		}

		if sweep, err = l.fetch(context.Background()); err != nil {
			pw.CloseWithError(err)
			return
		}
	}
}

// fetch retrieves one range vector from the lidar server.
func (l *LidarSource) fetch(ctx context.Context) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.DataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building data request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lidar server returned %s", resp.Status)
	}

	var sweep []float64
	if err := json.NewDecoder(resp.Body).Decode(&sweep); err != nil {
		return nil, fmt.Errorf("decoding range vector: %w", err)
	}
	return sweep, nil
}

// lidarSweep is the spooled sweep file layout. Bearings are derived from
// the vector length: the server averages over fixed bearing steps, so a
// 360-entry vector is one range per degree.
type lidarSweep struct {
	Distances []float64 `json:"distances"`
	Angles    []float64 `json:"angles"`
}

func (l *LidarSource) spool(sweep []float64, at time.Time) ([]byte, error) {
	seq := l.sequence.Add(1)

	step := 0.0
	if len(sweep) > 0 {
		step = 360.0 / float64(len(sweep))
	}
	angles := make([]float64, len(sweep))
	for i := range sweep {
		angles[i] = float64(i) * step
	}

	data, err := json.Marshal(lidarSweep{Distances: sweep, Angles: angles})
	if err != nil {
		return nil, fmt.Errorf("marshaling sweep: %w", err)
	}

	name := fmt.Sprintf("scan_%06d.json", seq)
	if err := os.WriteFile(filepath.Join(l.config.SpoolDir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("spooling %s: %w", name, err)
	}

	minRange, minBearing := nearestReturn(sweep, angles)
	l.logger.Debug("sweep spooled",
		slog.String("file", name),
		slog.Int("points", len(sweep)))

	frame := nmea.NewFrame(nmea.TalkerLidar,
		strconv.FormatInt(at.Unix(), 10),
		strconv.FormatInt(seq, 10),
		name,
		strconv.Itoa(len(sweep)),
		strconv.FormatFloat(minRange, 'f', -1, 64),
		strconv.FormatFloat(minBearing, 'f', -1, 64))
	return nmea.Encode(frame), nil
}

// nearestReturn finds the closest non-zero range and its bearing. Both
// come back zero when the sweep saw nothing.
func nearestReturn(sweep, angles []float64) (minRange, minBearing float64) {
	for i, r := range sweep {
		if r <= 0 {
			continue
		}
		if minRange == 0 || r < minRange {
			minRange = r
			minBearing = angles[i]
		}
	}
	return minRange, minBearing
}

// lidarStream ties the sentence pipe to the poll loop lifetime.
type lidarStream struct {
	pr        *io.PipeReader
	done      chan struct{}
	closeOnce sync.Once
}

func (s *lidarStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *lidarStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.pr.Close()
	})
	return nil
}
