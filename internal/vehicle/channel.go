// Package vehicle drives the ASV's navigation control unit over its TCP
// command endpoint. The unit continuously streams state sentences (GPGGA,
// PSEAA, PSEAD) and acknowledges commands asynchronously; the Channel
// multiplexes one connection into a request/response contract for
// concurrent callers and keeps the latest vehicle state.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-asv/surveyor/internal/nmea"
	"github.com/open-asv/surveyor/internal/telemetry"
)

const (
	// DefaultCommandTimeout bounds a command awaiting acknowledgement.
	DefaultCommandTimeout = 2 * time.Second

	dialTimeout = 5 * time.Second

	// interFrameDelay spaces mission upload writes; the control unit's
	// line discipline drops back-to-back sentences during file download.
	interFrameDelay = 5 * time.Millisecond
)

// Correlation selects how acknowledgements are matched to commands. The
// vendor protocol does not document an echo token, so FIFO is the default;
// token mode is for firmware that echoes the command's trailing tag field.
type Correlation string

const (
	// CorrelationFIFO matches the next response to the oldest pending
	// command.
	CorrelationFIFO Correlation = "fifo"

	// CorrelationToken appends a generated tag to each outgoing command
	// and matches responses by the echoed tag.
	CorrelationToken Correlation = "token"
)

var (
	// ErrCommandTimeout is returned when no acknowledgement arrives
	// within the timeout. The channel never retries; re-sending a
	// navigation command blindly is unsafe, so retry is the caller's
	// decision.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrCommandRejected is wrapped by RejectedError when the control
	// unit answers with an error sentence.
	ErrCommandRejected = errors.New("command rejected")

	// ErrCommandCancelled fails requests still pending when the channel
	// shuts down.
	ErrCommandCancelled = errors.New("command cancelled")

	// ErrChannelClosed is returned by Send once the channel is closed or
	// the vehicle link is lost.
	ErrChannelClosed = errors.New("command channel closed")
)

// RejectedError carries the vehicle-reported rejection reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("command rejected by vehicle: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrCommandRejected }

// Response is a decoded acknowledgement.
type Response struct {
	Token  string
	Fields []string
	At     time.Time
}

// WithLogger sets the logger for the channel.
func WithLogger(logger *slog.Logger) func(*Channel) {
	return func(ch *Channel) {
		ch.logger = logger.With(slog.String("component", "vehicle"))
	}
}

// WithCorrelation selects the response correlation policy.
func WithCorrelation(c Correlation) func(*Channel) {
	return func(ch *Channel) {
		ch.correlation = c
	}
}

// WithCommandTimeout overrides the default acknowledgement timeout.
func WithCommandTimeout(d time.Duration) func(*Channel) {
	return func(ch *Channel) {
		if d > 0 {
			ch.timeout = d
		}
	}
}

// pendingRequest is one caller suspended in Send. The result channel is
// buffered so the read loop never blocks completing it.
type pendingRequest struct {
	token string
	ch    chan result
}

type result struct {
	resp Response
	err  error
}

// Channel is the command link to the vehicle control unit.
type Channel struct {
	conn        net.Conn
	logger      *slog.Logger
	correlation Correlation
	timeout     time.Duration

	writeMu sync.Mutex // serializes sentence writes

	mu      sync.Mutex // guards pending, fifo, closed, latest
	pending map[string]*pendingRequest
	fifo    []*pendingRequest
	closed  bool
	latest  map[telemetry.Kind]telemetry.Record

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to the control unit and starts the read loop.
func Dial(ctx context.Context, addr string, options ...func(*Channel)) (*Channel, error) {
	conn, err := (&net.Dialer{Timeout: dialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing vehicle at %s: %w", addr, err)
	}

	ch := Channel{
		conn:        conn,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		correlation: CorrelationFIFO,
		timeout:     DefaultCommandTimeout,
		pending:     make(map[string]*pendingRequest),
		latest:      make(map[telemetry.Kind]telemetry.Record),
	}

	for _, option := range options {
		option(&ch)
	}

	ch.wg.Add(1)
	go ch.readLoop()

	return &ch, nil
}

// Close tears the link down. In-flight requests fail with
// ErrCommandCancelled, never left pending.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.shutdown(ErrCommandCancelled)
		err = ch.conn.Close()
		ch.wg.Wait()
	})
	return err
}

// Send transmits the command and suspends the caller until the matching
// acknowledgement, the timeout, or cancellation. Only the caller is
// suspended; the read loop and concurrent senders proceed.
func (ch *Channel) Send(ctx context.Context, cmd Command) (Response, error) {
	return ch.SendTimeout(ctx, cmd, ch.timeout)
}

// SendTimeout is Send with an explicit acknowledgement timeout.
func (ch *Channel) SendTimeout(ctx context.Context, cmd Command, timeout time.Duration) (Response, error) {
	req := &pendingRequest{ch: make(chan result, 1)}

	frame := cmd.frame
	if ch.correlation == CorrelationToken {
		req.token = newToken()
		frame.Fields = append(frame.Fields, req.token)
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return Response{}, ErrChannelClosed
	}
	if ch.correlation == CorrelationToken {
		ch.pending[req.token] = req
	} else {
		ch.fifo = append(ch.fifo, req)
	}
	ch.mu.Unlock()

	if err := ch.write(frame); err != nil {
		ch.remove(req)
		return Response{}, fmt.Errorf("sending %s: %w", frame.Talker, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.ch:
		return res.resp, res.err

	case <-timer.C:
		ch.remove(req)
		// A response may have slipped in while we were removing.
		select {
		case res := <-req.ch:
			return res.resp, res.err
		default:
		}
		return Response{}, fmt.Errorf("%w: no acknowledgement within %s", ErrCommandTimeout, timeout)

	case <-ctx.Done():
		ch.remove(req)
		select {
		case res := <-req.ch:
			return res.resp, res.err
		default:
		}
		return Response{}, ctx.Err()
	}
}

// Raw transmits a sentence without registering for an acknowledgement.
// Mission uploads and mode nudges in the vendor protocol are
// fire-and-forget.
func (ch *Channel) Raw(frame nmea.Frame) error {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return ch.write(frame)
}

// Latest returns the most recent vehicle state record of the given kind.
func (ch *Channel) Latest(kind telemetry.Kind) telemetry.Record {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.latest[kind]
}

// Position returns the latest GPS fix.
func (ch *Channel) Position() (telemetry.Position, bool) {
	p, ok := ch.Latest(telemetry.KindPosition).(telemetry.Position)
	return p, ok
}

// Attitude returns the latest attitude report.
func (ch *Channel) Attitude() (telemetry.Attitude, bool) {
	a, ok := ch.Latest(telemetry.KindAttitude).(telemetry.Attitude)
	return a, ok
}

// ControlMode returns the latest reported control mode.
func (ch *Channel) ControlMode() (telemetry.ControlMode, bool) {
	m, ok := ch.Latest(telemetry.KindControlMode).(telemetry.ControlMode)
	return m, ok
}

func (ch *Channel) write(frame nmea.Frame) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_, err := ch.conn.Write(nmea.Encode(frame))
	return err
}

func (ch *Channel) readLoop() {
	defer ch.wg.Done()

	sc := nmea.NewScanner(ch.conn)
	for sc.Scan() {
		frame, err := nmea.Decode(sc.Bytes())
		if err != nil {
			ch.logger.Debug("dropping malformed sentence", slog.Any("error", err))
			continue
		}

		switch frame.Talker {
		case nmea.TalkerAck:
			ch.complete(frame, nil)

		case nmea.TalkerNak:
			reason := strings.Join(frame.Fields[1:], ",")
			if reason == "" {
				reason = frame.Field(0)
			}
			ch.complete(frame, &RejectedError{Reason: reason})

		default:
			ch.updateState(frame)
		}
	}

	// Link lost or closed: nothing pending may be left hanging.
	ch.shutdown(ErrCommandCancelled)
}

// complete resolves a pending request per the correlation policy.
func (ch *Channel) complete(frame nmea.Frame, rejection error) {
	ch.mu.Lock()
	var req *pendingRequest
	switch ch.correlation {
	case CorrelationToken:
		token := frame.Field(0)
		if req = ch.pending[token]; req != nil {
			delete(ch.pending, token)
		}
	default:
		if len(ch.fifo) > 0 {
			req = ch.fifo[0]
			ch.fifo = ch.fifo[1:]
		}
	}
	ch.mu.Unlock()

	if req == nil {
		ch.logger.Debug("unmatched acknowledgement", slog.String("frame", frame.Body()))
		return
	}

	res := result{err: rejection}
	if rejection == nil {
		res.resp = Response{Token: req.token, Fields: frame.Fields, At: time.Now().UTC()}
		if ch.correlation == CorrelationToken {
			res.resp.Fields = frame.Fields[1:]
		}
	}
	req.ch <- res
}

func (ch *Channel) updateState(frame nmea.Frame) {
	record, err := telemetry.Decode(frame, "vehicle", time.Now().UTC())
	if err != nil {
		ch.logger.Debug("ignoring frame", slog.String("talker", frame.Talker))
		return
	}

	ch.mu.Lock()
	ch.latest[record.Kind()] = record
	ch.mu.Unlock()
}

// remove unregisters a request that timed out or was cancelled.
func (ch *Channel) remove(req *pendingRequest) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if req.token != "" {
		delete(ch.pending, req.token)
		return
	}
	for i, p := range ch.fifo {
		if p == req {
			ch.fifo = append(ch.fifo[:i], ch.fifo[i+1:]...)
			return
		}
	}
}

// shutdown fails every pending request and marks the channel closed.
func (ch *Channel) shutdown(cause error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return
	}
	ch.closed = true

	for _, req := range ch.pending {
		req.ch <- result{err: cause}
	}
	clear(ch.pending)

	for _, req := range ch.fifo {
		req.ch <- result{err: cause}
	}
	ch.fifo = nil
}

func newToken() string {
	return uuid.NewString()[:8]
}
