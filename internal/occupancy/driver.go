package occupancy

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/geometry"
	"github.com/banshee-data/occupancy.report/internal/tick"
)

// EventObserver receives every classified event. Observers run on the tick
// loop and must not block.
type EventObserver interface {
	ObserveEvent(at time.Time, ev Event)
}

// TickObserver is optionally implemented by an EventObserver that also wants
// a call after every tick.
type TickObserver interface {
	ObserveTick(activeTracks int)
}

// DriverConfig contains configuration for Driver.
type DriverConfig struct {
	Detector *Detector
	// TrackIDs restricts processing to the listed ids. Empty accepts every id.
	TrackIDs []string
	// Observers are notified of every event in tick order.
	Observers []EventObserver
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Driver feeds decoded ticks to a Detector. A Driver owns its Detector's
// track store and must be driven from a single goroutine.
type Driver struct {
	det       *Detector
	allowed   map[string]struct{}
	observers []EventObserver
	logger    *log.Logger

	ticks uint64
}

// NewDriver creates a Driver for cfg.Detector.
func NewDriver(cfg DriverConfig) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	var allowed map[string]struct{}
	if len(cfg.TrackIDs) > 0 {
		allowed = make(map[string]struct{}, len(cfg.TrackIDs))
		for _, id := range cfg.TrackIDs {
			allowed[id] = struct{}{}
		}
	}
	return &Driver{
		det:       cfg.Detector,
		allowed:   allowed,
		observers: cfg.Observers,
		logger:    logger,
	}
}

// HandleTick classifies every sample in t. Tracks with a prior reading that
// are missing from t are treated as reporting the sentinel, so a track that
// silently drops out is never compared against stale state when it returns.
func (d *Driver) HandleTick(t tick.Tick) []Event {
	d.ticks++

	samples := make(map[string]geometry.Point, len(t.Samples))
	for id, p := range t.Samples {
		if d.accepts(id) {
			samples[id] = p
		}
	}
	for _, id := range d.det.Tracks().ActiveIDs() {
		if _, ok := samples[id]; !ok {
			samples[id] = geometry.Sentinel
		}
	}

	ids := make([]string, 0, len(samples))
	for id := range samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		ev := d.det.Observe(id, samples[id])
		for _, o := range d.observers {
			o.ObserveEvent(t.Time, ev)
		}
		events = append(events, ev)
	}

	active := len(d.det.Tracks().ActiveIDs())
	for _, o := range d.observers {
		if to, ok := o.(TickObserver); ok {
			to.ObserveTick(active)
		}
	}
	return events
}

// Run consumes ticks until ctx is cancelled or the channel is closed.
func (d *Driver) Run(ctx context.Context, ticks <-chan tick.Tick) error {
	d.logger.Printf("Driver started: boundary=%s", d.det.Config().Boundary)
	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("Driver stopping after %d ticks", d.ticks)
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				d.logger.Printf("Driver: tick source closed after %d ticks", d.ticks)
				return nil
			}
			d.HandleTick(t)
		}
	}
}

// TickCount returns the number of ticks handled so far.
func (d *Driver) TickCount() uint64 { return d.ticks }

func (d *Driver) accepts(id string) bool {
	if d.allowed == nil {
		return true
	}
	_, ok := d.allowed[id]
	return ok
}
