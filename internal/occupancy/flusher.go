package occupancy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

const finalFlushTimeout = 5 * time.Second

var (
	// ErrInvalidFlushInterval is returned by NewFlusher for a zero or
	// negative interval.
	ErrInvalidFlushInterval = errors.New("flush interval must be positive")
	// ErrFlusherNotRunning is returned by FlushNow outside Run.
	ErrFlusherNotRunning = errors.New("flusher is not running")
)

// Drainer is the read-and-reset side of the Aggregator.
type Drainer interface {
	Drain() Counters
}

// CountSink persists one count record per flush interval.
type CountSink interface {
	RecordCounts(ctx context.Context, rec CountRecord) error
}

// FlushObserver is notified after every hand-off attempt. err is nil on
// success.
type FlushObserver interface {
	ObserveFlush(rec CountRecord, err error)
}

// Flusher periodically drains an Aggregator into a CountSink. A failed
// hand-off drops that interval's counts; counting resumes from zero.
type Flusher struct {
	drainer   Drainer
	sink      CountSink
	sensorID  string
	interval  time.Duration
	skipEmpty bool
	clock     timeutil.Clock
	observer  FlushObserver
	logger    *log.Logger

	mu            sync.Mutex
	running       bool
	intervalStart time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// FlusherConfig contains configuration for Flusher.
type FlusherConfig struct {
	// Drainer is the Aggregator to drain.
	Drainer Drainer
	// Sink receives one record per interval.
	Sink CountSink
	// SensorID labels every record.
	SensorID string
	// Interval is how often to flush (e.g., 5*time.Second).
	Interval time.Duration
	// SkipEmpty suppresses hand-off of intervals with no crossings.
	SkipEmpty bool
	// Clock is optional; if nil, uses the wall clock.
	Clock timeutil.Clock
	// Observer is optional.
	Observer FlushObserver
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// NewFlusher creates a new Flusher.
func NewFlusher(cfg FlusherConfig) (*Flusher, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlushInterval, cfg.Interval)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Flusher{
		drainer:   cfg.Drainer,
		sink:      cfg.Sink,
		sensorID:  cfg.SensorID,
		interval:  cfg.Interval,
		skipEmpty: cfg.SkipEmpty,
		clock:     clock,
		observer:  cfg.Observer,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Run starts the periodic flushing loop. It blocks until the context is
// cancelled or Stop() is called, performing a final flush before returning.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.intervalStart = f.clock.Now()
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Printf("Flusher started: sensor=%s interval=%v", f.sensorID, f.interval)

	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("Flusher stopping due to context cancellation")
			f.flushFinal(ctx)
			return nil
		case <-f.stopCh:
			f.logger.Printf("Flusher stopping due to Stop() call")
			f.flushFinal(ctx)
			return nil
		case now := <-ticker.C():
			f.flush(ctx, now)
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	doneCh := f.doneCh
	f.mu.Unlock()

	<-doneCh
}

// IsRunning returns whether the flusher is currently running.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// FlushNow closes the current interval early and hands it off. The next
// interval starts now; the regular schedule is unchanged.
func (f *Flusher) FlushNow(ctx context.Context) error {
	if !f.IsRunning() {
		return ErrFlusherNotRunning
	}
	return f.flush(ctx, f.clock.Now())
}

// flush performs a single drain and hand-off ending at now.
func (f *Flusher) flush(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	start := f.intervalStart
	f.intervalStart = now
	f.mu.Unlock()

	rec := CountRecord{
		SensorID:      f.sensorID,
		IntervalStart: start,
		IntervalEnd:   now,
		Counters:      f.drainer.Drain(),
	}
	if f.skipEmpty && rec.IsZero() {
		return nil
	}

	err := f.sink.RecordCounts(ctx, rec)
	if err != nil {
		f.logger.Printf("Flusher: dropping interval %s-%s (traversed=%d entered=%d exited=%d): %v",
			start.Format(time.RFC3339), now.Format(time.RFC3339),
			rec.Traversed, rec.Entered, rec.Exited, err)
	} else if !rec.IsZero() {
		f.logger.Printf("Flusher: recorded traversed=%d entered=%d exited=%d",
			rec.Traversed, rec.Entered, rec.Exited)
	}
	if f.observer != nil {
		f.observer.ObserveFlush(rec, err)
	}
	return err
}

// flushFinal hands off the last partial interval before shutdown. ctx may
// already be cancelled, so the sink gets a fresh deadline.
func (f *Flusher) flushFinal(ctx context.Context) {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	if err := f.flush(finalCtx, f.clock.Now()); err == nil {
		f.logger.Printf("Flusher: final interval handed off")
	}
}
