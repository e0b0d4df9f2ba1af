package occupancy

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/geometry"
)

// ErrInvalidJumpThreshold is returned for a configured threshold that is not
// strictly positive.
var ErrInvalidJumpThreshold = errors.New("jump threshold must be greater than zero")

// Kind is the classification of a single observation.
type Kind int

const (
	KindNone Kind = iota
	KindEntered
	KindExited
	KindInvalidMovement
)

func (k Kind) String() string {
	switch k {
	case KindEntered:
		return "entered"
	case KindExited:
		return "exited"
	case KindInvalidMovement:
		return "invalid_movement"
	default:
		return "none"
	}
}

// IsCrossing reports whether k counts towards the traversed total.
func (k Kind) IsCrossing() bool { return k == KindEntered || k == KindExited }

// Reason explains how an observation was classified.
type Reason string

const (
	ReasonFirstSighting Reason = "first_sighting"
	ReasonLost          Reason = "lost"
	ReasonIdle          Reason = "idle"
	ReasonJump          Reason = "jump"
	ReasonOnBoundary    Reason = "on_boundary"
	ReasonSameSide      Reason = "same_side"
	ReasonCrossed       Reason = "crossed"
)

// Event is the outcome of feeding one sample to the Detector.
type Event struct {
	TrackID  string
	Kind     Kind
	Reason   Reason
	Position geometry.Point
	// Distance is the signed distance to a line boundary.
	Distance float64
	// Delta is the change in signed distance since the previous baseline.
	Delta float64
	// Inside is the membership of a polygon boundary.
	Inside bool
}

func (e Event) String() string {
	return fmt.Sprintf("track=%s event=%s reason=%s pos=%s", e.TrackID, e.Kind, e.Reason, e.Position)
}

// Counters are the interval totals accumulated by the Aggregator.
type Counters struct {
	Traversed uint64 `json:"traversed"`
	Entered   uint64 `json:"entered"`
	Exited    uint64 `json:"exited"`
}

// IsZero reports whether no crossing was recorded.
func (c Counters) IsZero() bool { return c == Counters{} }

// Config is the immutable detector configuration.
type Config struct {
	Boundary geometry.Boundary
	// InvertEnterExit swaps the entered and exited labels.
	InvertEnterExit bool
	// JumpThreshold is the largest change in signed distance accepted between
	// consecutive samples of a track. Nil disables jump rejection. Only used
	// with line boundaries.
	JumpThreshold *float64
}

// Validate checks the boundary geometry and threshold.
func (c Config) Validate() error {
	if err := c.Boundary.Validate(); err != nil {
		return fmt.Errorf("invalid boundary: %w", err)
	}
	if c.JumpThreshold != nil && !(*c.JumpThreshold > 0) {
		return fmt.Errorf("%w, got %v", ErrInvalidJumpThreshold, *c.JumpThreshold)
	}
	return nil
}

// CountRecord is the per-interval record handed to a CountSink.
type CountRecord struct {
	SensorID      string
	IntervalStart time.Time
	IntervalEnd   time.Time
	Counters
}
