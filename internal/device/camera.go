package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/open-asv/surveyor/internal/nmea"
)

// Annotator overlays caption lines onto a JPEG capture.
type Annotator interface {
	Annotate(jpegData []byte, lines []string) ([]byte, error)
}

// CameraConfig describes the camera stream and capture spool.
type CameraConfig struct {
	// StreamURL is the camera's MJPEG endpoint, e.g.
	// http://192.168.0.20:5001/video_feed
	StreamURL string `yaml:"streamUrl"`

	// SpoolDir receives one JPEG file per captured frame.
	SpoolDir string `yaml:"spoolDir"`

	// MinInterval throttles capture; frames arriving faster are skipped.
	MinInterval Duration `yaml:"minInterval"`
}

// WithAnnotator enables caption overlay on spooled captures.
func WithAnnotator(a Annotator) func(*CameraSource) {
	return func(c *CameraSource) {
		c.annotator = a
	}
}

// WithCameraLogger sets the logger for the camera source.
func WithCameraLogger(logger *slog.Logger) func(*CameraSource) {
	return func(c *CameraSource) {
		c.logger = logger.With(slog.String("device", "camera"))
	}
}

// CameraSource consumes a multipart MJPEG stream, spools each JPEG frame to
// the capture directory and yields CAMIMG sentences referencing the stored
// files. The boat-side recorder resolves the references against the spool.
type CameraSource struct {
	config    CameraConfig
	client    *http.Client
	annotator Annotator
	logger    *slog.Logger

	sequence atomic.Int64
}

// NewCameraSource creates a camera source and its spool directory.
func NewCameraSource(config CameraConfig, options ...func(*CameraSource)) (*CameraSource, error) {
	if config.StreamURL == "" {
		return nil, fmt.Errorf("camera stream URL is required")
	}
	if config.SpoolDir == "" {
		return nil, fmt.Errorf("camera spool directory is required")
	}
	if err := os.MkdirAll(config.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	c := CameraSource{
		config: config,
		client: &http.Client{}, // no timeout; the stream is endless
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

func (c *CameraSource) String() string {
	return fmt.Sprintf("camera %s", c.config.StreamURL)
}

// Open connects to the MJPEG stream. The returned stream yields CAMIMG
// sentences; closing it tears down the HTTP connection.
func (c *CameraSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to camera stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("camera stream returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("camera stream is not multipart MJPEG (got %q)", resp.Header.Get("Content-Type"))
	}

	pr, pw := io.Pipe()
	go c.pump(multipart.NewReader(resp.Body, params["boundary"]), pw)

	return &cameraStream{pr: pr, body: resp.Body}, nil
}

// pump spools JPEG parts and writes one CAMIMG sentence per stored frame.
func (c *CameraSource) pump(mr *multipart.Reader, pw *io.PipeWriter) {
	var lastCapture time.Time

	for {
		part, err := mr.NextPart()
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		now := time.Now().UTC()
		if c.config.MinInterval > 0 && now.Sub(lastCapture) < c.config.MinInterval.Std() {
			continue
		}
		lastCapture = now

		sentence, err := c.spool(data, now)
		if err != nil {
			c.logger.Warn("dropping capture", slog.Any("error", err))
			continue
		}

		if _, err := pw.Write(sentence); err != nil {
			return // reader side closed
		}
	}
}

func (c *CameraSource) spool(data []byte, at time.Time) ([]byte, error) {
	seq := c.sequence.Add(1)

	if c.annotator != nil {
		annotated, err := c.annotator.Annotate(data, []string{
			at.Format("2006-01-02 15:04:05 MST"),
			fmt.Sprintf("frame %d", seq),
		})
		if err != nil {
			c.logger.Warn("annotation failed, storing raw capture", slog.Any("error", err))
		} else {
			data = annotated
		}
	}

	name := fmt.Sprintf("frame_%06d.jpg", seq)
	if err := os.WriteFile(filepath.Join(c.config.SpoolDir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("spooling %s: %w", name, err)
	}

	c.logger.Debug("capture spooled",
		slog.String("file", name),
		slog.String("size", humanize.Bytes(uint64(len(data)))))

	frame := nmea.NewFrame(nmea.TalkerImage,
		strconv.FormatInt(at.Unix(), 10),
		strconv.FormatInt(seq, 10),
		name,
		strconv.Itoa(len(data)))
	return nmea.Encode(frame), nil
}

// cameraStream ties the sentence pipe to the HTTP body lifetime.
type cameraStream struct {
	pr   *io.PipeReader
	body io.ReadCloser
}

func (s *cameraStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *cameraStream) Close() error {
	err := s.body.Close()
	_ = s.pr.Close()
	return err
}
