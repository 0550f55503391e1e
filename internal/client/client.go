// Package client consumes a broadcast server's frame stream, decodes it
// into typed sensor records and keeps the latest value per record kind.
// The client reconnects transparently on stream loss and surfaces one
// interruption marker per gap so downstream logic can record it instead of
// silently repeating the last value.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/open-asv/surveyor/internal/nmea"
	"github.com/open-asv/surveyor/internal/telemetry"
)

const (
	// DefaultBackoffBase is the first reconnect delay.
	DefaultBackoffBase = 250 * time.Millisecond

	// DefaultBackoffMax caps the reconnect delay. Reconnection is
	// unbounded; the stream resumes whenever the server comes back.
	DefaultBackoffMax = 10 * time.Second

	dialTimeout = 5 * time.Second

	// subscriberQueueSize bounds each subscription channel.
	subscriberQueueSize = 64
)

// ErrConnectionRefused is returned by Connect when the broadcast endpoint
// cannot be reached at all.
var ErrConnectionRefused = errors.New("connection refused")

// Event is one item of a subscription stream. Interrupted is set on the
// first record delivered after a detected stream loss, exactly once per
// interruption.
type Event struct {
	Record      telemetry.Record
	Interrupted bool
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "client"), slog.String("source", c.source))
	}
}

// WithBackoff overrides the reconnect policy.
func WithBackoff(base, max time.Duration) func(*Client) {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// Client is one live link to a broadcast server.
type Client struct {
	addr   string
	source string
	logger *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	latest map[telemetry.Kind]telemetry.Record
	subs   []*subscription
	closed bool
}

// subscription state is mutated only by the read loop, except for the
// channel close on client shutdown.
type subscription struct {
	ch          chan Event
	interrupted bool
}

// Connect dials the broadcast endpoint and starts consuming its stream.
// An unreachable endpoint fails with ErrConnectionRefused; losses after
// the initial connect are retried transparently.
func Connect(ctx context.Context, addr, source string, options ...func(*Client)) (*Client, error) {
	c := Client{
		addr:        addr,
		source:      source,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		latest:      make(map[telemetry.Kind]telemetry.Record),
	}

	for _, option := range options {
		option(&c)
	}

	conn, err := (&net.Dialer{Timeout: dialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrConnectionRefused, addr, err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx, conn)

	return &c, nil
}

// Latest returns the most recent record of the given kind, nil when none
// has arrived yet.
func (c *Client) Latest(kind telemetry.Kind) telemetry.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest[kind]
}

// Subscribe returns a stream of decoded records. The channel is closed
// when the client is closed. A subscriber that stops draining loses
// records but never blocks the read loop.
func (c *Client) Subscribe() <-chan Event {
	sub := &subscription{ch: make(chan Event, subscriberQueueSize)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(sub.ch)
		return sub.ch
	}
	c.subs = append(c.subs, sub)
	return sub.ch
}

// Close terminates the stream and all subscriptions.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for _, sub := range c.subs {
		close(sub.ch)
	}
	c.subs = nil
	c.mu.Unlock()
}

// run consumes the stream, reconnecting with capped exponential backoff
// until the context is cancelled.
func (c *Client) run(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()

	var attempt int
	for {
		if conn == nil {
			attempt++
			delay := c.backoff(attempt)
			c.logger.Debug("reconnecting", slog.Duration("backoff", delay), slog.Int("attempt", attempt))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}

			var err error
			conn, err = (&net.Dialer{Timeout: dialTimeout}).DialContext(ctx, "tcp", c.addr)
			if err != nil {
				conn = nil
				continue
			}
		}

		attempt = 0
		c.consume(ctx, conn)
		_ = conn.Close()
		conn = nil

		if ctx.Err() != nil {
			return
		}

		// Stream lost: every subscriber gets one interruption marker on
		// its next delivered record.
		c.logger.Warn("stream interrupted, reconnecting")
		c.mu.Lock()
		for _, sub := range c.subs {
			sub.interrupted = true
		}
		c.mu.Unlock()
	}
}

func (c *Client) consume(ctx context.Context, conn net.Conn) {
	// Unblock the read on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := nmea.NewScanner(conn)
	for sc.Scan() {
		frame, err := nmea.Decode(sc.Bytes())
		if err != nil {
			c.logger.Debug("dropping malformed sentence", slog.Any("error", err))
			continue
		}

		record, err := telemetry.Decode(frame, c.source, time.Now().UTC())
		if err != nil {
			c.logger.Debug("dropping undecodable frame", slog.String("talker", frame.Talker), slog.Any("error", err))
			continue
		}

		c.deliver(record)
	}
}

func (c *Client) deliver(record telemetry.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest[record.Kind()] = record

	for _, sub := range c.subs {
		ev := Event{Record: record, Interrupted: sub.interrupted}
		select {
		case sub.ch <- ev:
			sub.interrupted = false
		default:
			// Subscriber not draining; drop the record but keep any
			// pending interruption marker for the next delivery.
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	if d > c.backoffMax || d <= 0 {
		d = c.backoffMax
	}
	return d
}
