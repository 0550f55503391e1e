// Package device owns the physical sensor interfaces. A Reader wraps a
// Source (serial probe line, camera stream), decodes its byte stream into
// frames and survives transient I/O loss by reconnecting with exponential
// backoff. Each physical device is owned by exactly one Reader; fan-out
// happens downstream, after decode.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
)

const (
	// DefaultBackoffBase is the first reconnect delay.
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffMax caps the reconnect delay.
	DefaultBackoffMax = 8 * time.Second

	// DefaultMaxAttempts is the number of consecutive failed reconnects
	// tolerated before the device is declared lost.
	DefaultMaxAttempts = 6

	// malformedThreshold is the number of consecutive undecodable
	// sentences treated as a broken device rather than line noise.
	malformedThreshold = 16
)

// ErrDeviceDisconnected is surfaced once the reconnect bound is exceeded.
// The reader never substitutes stale or synthetic data for a lost device.
var ErrDeviceDisconnected = errors.New("device disconnected")

// Source supplies the raw byte stream of one physical device.
type Source interface {
	// Open acquires the underlying interface. The returned stream is
	// owned by the caller and released via Close.
	Open(ctx context.Context) (io.ReadCloser, error)

	// String identifies the device for logs.
	String() string
}

// Event is one item of a Reader's output stream. Gap marks the first frame
// after a recovered interruption; it is emitted exactly once per recovery.
type Event struct {
	Frame nmea.Frame
	Gap   bool
}

// WithLogger sets the logger for the reader.
func WithLogger(logger *slog.Logger) func(*Reader) {
	return func(r *Reader) {
		r.logger = logger.With(slog.String("device", r.source.String()))
	}
}

// WithBackoff overrides the reconnect policy.
func WithBackoff(base, max time.Duration, attempts int) func(*Reader) {
	return func(r *Reader) {
		r.backoffBase = base
		r.backoffMax = max
		r.maxAttempts = attempts
	}
}

// Reader drives one Source, producing an infinite stream of decoded frames
// while the device is healthy.
type Reader struct {
	source Source
	logger *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int

	running   atomic.Bool
	malformed atomic.Uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewReader creates a Reader for the given source with a discard logger.
func NewReader(source Source, options ...func(*Reader)) *Reader {
	r := Reader{
		source:      source,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		maxAttempts: DefaultMaxAttempts,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Malformed returns the number of sentences dropped because they failed to
// decode.
func (r *Reader) Malformed() uint64 { return r.malformed.Load() }

// Run opens the source and streams decoded frames into events until the
// context is cancelled or the device is lost beyond the reconnect bound.
// The returned channel yields the terminal error (nil on cancellation) and
// is closed when the reader has fully stopped. Events is not closed by the
// reader; it may be shared.
func (r *Reader) Run(ctx context.Context, events chan<- Event) (<-chan error, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("reader for %s is already running", r.source)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	done := make(chan error, 1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		defer r.running.Store(false)

		if err := r.run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			done <- err
		}
	}()

	return done, nil
}

// Stop cancels the run loop and waits for it to release the device.
func (r *Reader) Stop() {
	if !r.running.Load() {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Reader) run(ctx context.Context, events chan<- Event) error {
	var (
		attempts    int
		interrupted bool
	)

	for {
		stream, err := r.source.Open(ctx)
		if err != nil {
			attempts++
			if attempts > r.maxAttempts {
				return fmt.Errorf("%w: %s: giving up after %d attempts: %w",
					ErrDeviceDisconnected, r.source, attempts-1, err)
			}

			delay := r.backoff(attempts)
			r.logger.Warn("device open failed, retrying",
				slog.Any("error", err),
				slog.Duration("backoff", delay),
				slog.Int("attempt", attempts))

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attempts = 0
		r.logger.Info("device stream open")

		// Close the stream on cancellation so a blocked Read returns and
		// the device is released within one read cycle.
		streamCtx, release := context.WithCancel(ctx)
		go func() {
			<-streamCtx.Done()
			_ = stream.Close()
		}()

		err = r.consume(ctx, stream, events, &interrupted)
		release()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Stream ended or broke; mark the interruption and reconnect.
		interrupted = true
		r.logger.Warn("device stream lost", slog.Any("error", err))
	}
}

// consume decodes sentences from one open stream. It returns when the
// stream errors out or the context is cancelled.
func (r *Reader) consume(ctx context.Context, stream io.Reader, events chan<- Event, interrupted *bool) error {
	var consecutive int

	sc := nmea.NewScanner(stream)
	for sc.Scan() {
		frame, err := nmea.Decode(sc.Bytes())
		if err != nil {
			r.malformed.Add(1)
			consecutive++
			r.logger.Debug("dropping malformed sentence", slog.Any("error", err))

			if consecutive >= malformedThreshold {
				return fmt.Errorf("%d consecutive malformed sentences", consecutive)
			}
			continue
		}
		consecutive = 0

		ev := Event{Frame: frame, Gap: *interrupted}
		*interrupted = false

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (r *Reader) backoff(attempt int) time.Duration {
	d := r.backoffBase << (attempt - 1)
	if d > r.backoffMax || d <= 0 {
		d = r.backoffMax
	}
	return d
}
