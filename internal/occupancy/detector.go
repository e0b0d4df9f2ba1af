package occupancy

import (
	"math"

	"github.com/banshee-data/occupancy.report/internal/geometry"
)

// Recorder receives crossing classifications. The Aggregator implements it.
type Recorder interface {
	Record(Kind)
}

// Detector classifies per-track samples against a single boundary.
//
// Detector is driven from one goroutine only. It increments the Recorder on
// crossings but never reads or resets it.
type Detector struct {
	cfg    Config
	kind   geometry.BoundaryKind
	tracks *TrackStore
	rec    Recorder
}

// NewDetector validates cfg and returns a Detector recording crossings on rec.
func NewDetector(cfg Config, rec Recorder) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:    cfg,
		kind:   cfg.Boundary.Kind(),
		tracks: NewTrackStore(),
		rec:    rec,
	}, nil
}

// Tracks exposes the detector's track state store.
func (d *Detector) Tracks() *TrackStore { return d.tracks }

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// Observe feeds one sample for trackID and returns its classification.
func (d *Detector) Observe(trackID string, pos geometry.Point) Event {
	ev := Event{TrackID: trackID, Position: pos}

	// A sentinel carries no position; it must never be compared to the
	// stored baseline.
	if pos.IsSentinel() {
		if d.tracks.Reset(trackID) {
			ev.Reason = ReasonLost
		} else {
			ev.Reason = ReasonIdle
		}
		return ev
	}

	prev, ok := d.tracks.Get(trackID)
	hasPrior := ok && prev.HasPrior

	if d.kind == geometry.KindPolygon {
		return d.observePolygon(ev, prev, hasPrior)
	}
	return d.observeLine(ev, prev, hasPrior)
}

func (d *Detector) observeLine(ev Event, prev TrackState, hasPrior bool) Event {
	cur := geometry.SignedDistance(ev.Position, *d.cfg.Boundary.Line)
	ev.Distance = cur
	defer d.tracks.Update(ev.TrackID, ev.Position, cur, false)

	if !hasPrior {
		ev.Reason = ReasonFirstSighting
		return ev
	}

	ev.Delta = cur - prev.LastDistance
	if d.cfg.JumpThreshold != nil && math.Abs(ev.Delta) > *d.cfg.JumpThreshold {
		ev.Kind = KindInvalidMovement
		ev.Reason = ReasonJump
		return ev
	}

	product := cur * prev.LastDistance
	switch {
	case product == 0:
		ev.Reason = ReasonOnBoundary
	case product < 0:
		ev.Kind = d.label(cur > 0)
		ev.Reason = ReasonCrossed
		d.rec.Record(ev.Kind)
	default:
		ev.Reason = ReasonSameSide
	}
	return ev
}

func (d *Detector) observePolygon(ev Event, prev TrackState, hasPrior bool) Event {
	inside := geometry.PointInPolygon(ev.Position, *d.cfg.Boundary.Polygon)
	ev.Inside = inside
	defer d.tracks.Update(ev.TrackID, ev.Position, 0, inside)

	switch {
	case !hasPrior:
		ev.Reason = ReasonFirstSighting
	case inside != prev.LastInside:
		ev.Kind = d.label(inside)
		ev.Reason = ReasonCrossed
		d.rec.Record(ev.Kind)
	default:
		ev.Reason = ReasonSameSide
	}
	return ev
}

// label maps a move onto the positive side (or into the polygon) to entered,
// honouring the inversion flag.
func (d *Detector) label(positive bool) Kind {
	if positive != d.cfg.InvertEnterExit {
		return KindEntered
	}
	return KindExited
}
