// Package session records periodic snapshots of the vessel's state. A
// Recorder polls the latest record of each kind from the telemetry
// clients and the vehicle channel on a fixed cadence and hands the
// assembled row to one or more sinks (CSV, sqlite). Sampling never
// blocks on a source: a source that has gone quiet simply leaves its
// columns empty.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/open-asv/surveyor/internal/telemetry"
)

const (
	// DefaultInterval is the snapshot cadence.
	DefaultInterval = time.Second

	// DefaultFreshness is how old a record may be before its source is
	// considered stale and its columns left empty.
	DefaultFreshness = 10 * time.Second
)

// ErrRecorderRunning is returned when Run is called on an already
// running recorder.
var ErrRecorderRunning = errors.New("recorder is already running")

// StateSource yields the most recent record of a kind, or nil. Both the
// telemetry client and the vehicle channel satisfy it.
type StateSource interface {
	Latest(kind telemetry.Kind) telemetry.Record
}

// Row is one snapshot across all sources. A nil field means the source
// had no fresh record at the tick.
type Row struct {
	At       time.Time
	Position *telemetry.Position
	Attitude *telemetry.Attitude
	Mode     *telemetry.ControlMode
	Water    *telemetry.WaterQuality
	Image    *telemetry.Image
	Lidar    *telemetry.LidarScan
}

// Sink persists rows. Implementations are called from the recorder
// goroutine only.
type Sink interface {
	Write(ctx context.Context, row Row) error
	Close() error
}

// WithLogger sets the logger for the recorder.
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// WithInterval sets the snapshot cadence.
func WithInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithFreshness sets the staleness threshold for source records.
func WithFreshness(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		if d > 0 {
			r.freshness = d
		}
	}
}

// Recorder assembles and persists periodic snapshots.
type Recorder struct {
	logger    *slog.Logger
	interval  time.Duration
	freshness time.Duration

	sources []StateSource
	sinks   []Sink

	running atomic.Bool
	rows    atomic.Uint64

	// stale tracks which kinds were empty at the previous tick, so
	// transitions are logged once instead of every second.
	stale map[telemetry.Kind]bool
}

// NewRecorder creates a recorder over the given sources, writing to the
// given sinks.
func NewRecorder(sources []StateSource, sinks []Sink, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  DefaultInterval,
		freshness: DefaultFreshness,
		sources:   sources,
		sinks:     sinks,
		stale:     make(map[telemetry.Kind]bool),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Rows reports how many snapshots have been written.
func (r *Recorder) Rows() uint64 { return r.rows.Load() }

// Run ticks until the context is cancelled, then closes the sinks.
// It returns the first sink error encountered, if any.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRecorderRunning
	}
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var firstErr error
	for {
		select {
		case <-ctx.Done():
			for _, sink := range r.sinks {
				if err := sink.Close(); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("closing sink: %w", err)
				}
			}
			r.logger.Info("recording stopped", slog.Uint64("rows", r.rows.Load()))
			return firstErr

		case now := <-ticker.C:
			row := r.snapshot(now.UTC())
			for _, sink := range r.sinks {
				if err := sink.Write(ctx, row); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					r.logger.Error("sink write failed", slog.Any("error", err))
				}
			}
			r.rows.Add(1)
		}
	}
}

// snapshot pulls the freshest record of each kind across all sources.
func (r *Recorder) snapshot(at time.Time) Row {
	row := Row{At: at}

	if rec, ok := r.fresh(at, telemetry.KindPosition).(telemetry.Position); ok {
		row.Position = &rec
	}
	if rec, ok := r.fresh(at, telemetry.KindAttitude).(telemetry.Attitude); ok {
		row.Attitude = &rec
	}
	if rec, ok := r.fresh(at, telemetry.KindControlMode).(telemetry.ControlMode); ok {
		row.Mode = &rec
	}
	if rec, ok := r.fresh(at, telemetry.KindWaterQuality).(telemetry.WaterQuality); ok {
		row.Water = &rec
	}
	if rec, ok := r.fresh(at, telemetry.KindImage).(telemetry.Image); ok {
		row.Image = &rec
	}
	if rec, ok := r.fresh(at, telemetry.KindLidar).(telemetry.LidarScan); ok {
		row.Lidar = &rec
	}

	return row
}

// fresh returns the newest record of the kind across sources, or nil
// when every candidate is older than the freshness threshold.
func (r *Recorder) fresh(at time.Time, kind telemetry.Kind) telemetry.Record {
	var newest telemetry.Record
	for _, source := range r.sources {
		rec := source.Latest(kind)
		if rec == nil {
			continue
		}
		if newest == nil || rec.Time().After(newest.Time()) {
			newest = rec
		}
	}

	ok := newest != nil && at.Sub(newest.Time()) <= r.freshness
	if ok == r.stale[kind] {
		r.stale[kind] = !ok
		if ok {
			r.logger.Info("source recovered", slog.String("kind", string(kind)))
		} else {
			r.logger.Warn("source stale or missing", slog.String("kind", string(kind)))
		}
	}
	if !ok {
		return nil
	}
	return newest
}
