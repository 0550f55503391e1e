package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/open-asv/surveyor/internal/nmea"
)

// SerialConfig describes the probe's serial line. The EXO probe talks
// 8N1 at 9600 baud and replies to a poll command with one reading.
type SerialConfig struct {
	Port         string   `yaml:"port"`
	BaudRate     int      `yaml:"baud"`
	PollCommand  string   `yaml:"pollCommand"`
	PollInterval Duration `yaml:"pollInterval"`
}

// SerialSource opens a serial port and, when a poll command is configured,
// keeps requesting readings at the poll interval for as long as the stream
// is open.
type SerialSource struct {
	config SerialConfig
}

// NewSerialSource creates a serial source for the given line configuration.
func NewSerialSource(config SerialConfig) (*SerialSource, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}
	if config.BaudRate <= 0 {
		config.BaudRate = 9600
	}
	if config.PollCommand != "" && config.PollInterval <= 0 {
		config.PollInterval = Duration(time.Second)
	}
	return &SerialSource{config: config}, nil
}

func (s *SerialSource) String() string {
	return fmt.Sprintf("serial %s @ %d baud", s.config.Port, s.config.BaudRate)
}

// Open acquires the port. Closing the returned stream stops the poller and
// releases the port.
func (s *SerialSource) Open(_ context.Context) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: s.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.config.Port, err)
	}

	stream := &serialStream{port: port, done: make(chan struct{})}
	if s.config.PollCommand != "" {
		stream.startPoller([]byte(s.config.PollCommand+"\r"), s.config.PollInterval.Std())
	}
	return wrapReplies(stream), nil
}

// serialStream wraps a serial port with an optional poll loop.
type serialStream struct {
	port serial.Port

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *serialStream) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *serialStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}

// wrapReplies adapts the probe's line replies into sentences. The EXO
// answers a poll with a bare comma-separated reading: no '$' sentinel and
// no checksum. Each such line is wrapped into an EXO sentence; lines that
// already carry a sentinel pass through untouched, and lines without a
// comma (command echoes, prompts) are dropped as line noise.
func wrapReplies(raw io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		sc := bufio.NewScanner(raw)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())

			var sentence []byte
			switch {
			case line == "" || !strings.Contains(line, ","):
				continue
			case strings.HasPrefix(line, "$"):
				sentence = append([]byte(line), '\r', '\n')
			default:
				sentence = nmea.Encode(nmea.NewFrame(nmea.TalkerWaterQual, strings.Split(line, ",")...))
			}

			if _, err := pw.Write(sentence); err != nil {
				return // reader side closed
			}
		}
		pw.CloseWithError(sc.Err())
	}()

	return &replyStream{pr: pr, raw: raw}
}

// replyStream ties the sentence pipe to the port lifetime.
type replyStream struct {
	pr  *io.PipeReader
	raw io.ReadCloser
}

func (s *replyStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *replyStream) Close() error {
	err := s.raw.Close()
	_ = s.pr.Close()
	return err
}

func (s *serialStream) startPoller(cmd []byte, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.port.Write(cmd); err != nil {
					return // port gone; the read side reports the loss
				}
			case <-s.done:
				return
			}
		}
	}()
}
