// Package broadcast fans out one device's frame stream to any number of
// network subscribers. Each subscriber owns a bounded outbound queue; a
// slow subscriber is disconnected rather than allowed to stall acquisition
// or the other subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-asv/surveyor/internal/device"
	"github.com/open-asv/surveyor/internal/nmea"
)

const (
	// DefaultQueueSize is the per-subscriber outbound queue depth.
	DefaultQueueSize = 64

	// writeTimeout bounds a single frame write to a subscriber.
	writeTimeout = 5 * time.Second

	// readerQueueSize decouples acquisition from fan-out.
	readerQueueSize = 16
)

// Stats is a snapshot of the server's counters.
type Stats struct {
	FramesOut   uint64 // frames enqueued to subscribers
	SlowDropped uint64 // subscribers closed for not keeping up
	Malformed   uint64 // undecodable sentences dropped at the reader
	Gaps        uint64 // device interruptions recovered by the reader
	Subscribers int    // currently connected subscribers
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "broadcast"))
	}
}

// WithQueueSize overrides the per-subscriber queue depth.
func WithQueueSize(n int) func(*Server) {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Server wraps one device Reader and re-publishes its frames to every
// connected subscriber in acquisition order.
type Server struct {
	reader    *device.Reader
	addr      string
	queueSize int
	logger    *slog.Logger

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	done     chan error

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	framesOut   atomic.Uint64
	slowDropped atomic.Uint64
	gaps        atomic.Uint64
}

// NewServer creates a broadcast server for the given reader and listen
// address.
func NewServer(reader *device.Reader, addr string, options ...func(*Server)) *Server {
	s := Server{
		reader:      reader,
		addr:        addr,
		queueSize:   DefaultQueueSize,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		subscribers: make(map[*subscriber]struct{}),
		done:        make(chan error, 1),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Start binds the listen address and begins acquisition and fan-out. It
// returns once the server is accepting subscribers.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)

	events := make(chan device.Event, readerQueueSize)
	readerDone, err := s.reader.Run(ctx, events)
	if err != nil {
		_ = listener.Close()
		s.cancel()
		s.running.Store(false)
		return fmt.Errorf("starting device reader: %w", err)
	}

	s.logger.Info("broadcast server listening", slog.String("addr", listener.Addr().String()))

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.fanOut(ctx, events, readerDone)

	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done yields the terminal error once the server stops on its own, which
// happens when the device is lost beyond the reader's reconnect bound.
// Losing one device is fatal for this server only, never process-wide.
func (s *Server) Done() <-chan error { return s.done }

// Stop gracefully shuts the server down: stops accepting, disconnects
// subscribers and releases the device.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	_ = s.listener.Close()
	s.reader.Stop()

	s.mu.Lock()
	for sub := range s.subscribers {
		sub.close()
	}
	clear(s.subscribers)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("broadcast server stopped")
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.subscribers)
	s.mu.Unlock()

	return Stats{
		FramesOut:   s.framesOut.Load(),
		SlowDropped: s.slowDropped.Load(),
		Malformed:   s.reader.Malformed(),
		Gaps:        s.gaps.Load(),
		Subscribers: n,
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}

		sub := &subscriber{
			conn:  conn,
			queue: make(chan []byte, s.queueSize),
		}

		s.mu.Lock()
		s.subscribers[sub] = struct{}{}
		s.mu.Unlock()

		s.logger.Info("subscriber connected", slog.String("remote", conn.RemoteAddr().String()))

		s.wg.Add(1)
		go s.writeLoop(sub)
	}
}

// fanOut distributes each acquired frame to every live subscriber. A full
// queue disconnects that subscriber only; the loop never blocks on it.
func (s *Server) fanOut(ctx context.Context, events <-chan device.Event, readerDone <-chan error) {
	defer s.wg.Done()

	for {
		select {
		case ev := <-events:
			if ev.Gap {
				s.gaps.Add(1)
				s.logger.Warn("device stream gap recovered")
			}
			s.publish(nmea.Encode(ev.Frame))

		case err := <-readerDone:
			if err != nil {
				s.logger.Error("device lost, shutting down broadcast", slog.Any("error", err))
				s.done <- err
			}
			return

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) publish(wire []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		select {
		case sub.queue <- wire:
			s.framesOut.Add(1)
		default:
			// Slow subscriber: close it rather than stall the rest.
			s.slowDropped.Add(1)
			s.logger.Warn("disconnecting slow subscriber",
				slog.String("remote", sub.conn.RemoteAddr().String()))
			delete(s.subscribers, sub)
			sub.close()
		}
	}
}

func (s *Server) writeLoop(sub *subscriber) {
	defer s.wg.Done()

	for wire := range sub.queue {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := sub.conn.Write(wire); err != nil {
			s.drop(sub)
			return
		}
	}
	_ = sub.conn.Close()
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	_, live := s.subscribers[sub]
	delete(s.subscribers, sub)
	s.mu.Unlock()

	if live {
		sub.close()
	}
	_ = sub.conn.Close()
	s.logger.Info("subscriber disconnected", slog.String("remote", sub.conn.RemoteAddr().String()))
}

// subscriber is one live downstream connection with its bounded queue.
type subscriber struct {
	conn      net.Conn
	queue     chan []byte
	closeOnce sync.Once
}

// close shuts the queue; the write loop drains it and closes the socket.
func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.queue) })
}
