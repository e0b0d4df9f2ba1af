package occupancy

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/occupancy.report/internal/geometry"
)

func floatPtr(v float64) *float64 { return &v }

// yAxis is the line x=0 oriented upwards; signed distance equals x.
var yAxis = geometry.LineBoundary(geometry.Point{X: 0, Y: 0}, geometry.Point{X: 0, Y: 1})

func newTestDetector(t *testing.T, cfg Config) (*Detector, *Aggregator) {
	t.Helper()
	agg := NewAggregator()
	det, err := NewDetector(cfg, agg)
	if err != nil {
		t.Fatalf("NewDetector() error: %v", err)
	}
	return det, agg
}

func observeXs(det *Detector, id string, xs ...float64) []Event {
	events := make([]Event, 0, len(xs))
	for _, x := range xs {
		events = append(events, det.Observe(id, geometry.Point{X: x, Y: 0.5}))
	}
	return events
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name:    "coincident line points",
			cfg:     Config{Boundary: geometry.LineBoundary(geometry.Point{X: 1, Y: 1}, geometry.Point{X: 1, Y: 1})},
			wantErr: geometry.ErrDegenerateLine,
		},
		{
			name:    "two vertex polygon",
			cfg:     Config{Boundary: geometry.PolygonBoundary(geometry.Point{X: 1, Y: 1}, geometry.Point{X: 2, Y: 2})},
			wantErr: geometry.ErrTooFewVertices,
		},
		{
			name:    "no boundary",
			cfg:     Config{},
			wantErr: geometry.ErrNoBoundary,
		},
		{
			name:    "zero jump threshold",
			cfg:     Config{Boundary: yAxis, JumpThreshold: floatPtr(0)},
			wantErr: ErrInvalidJumpThreshold,
		},
		{
			name:    "negative jump threshold",
			cfg:     Config{Boundary: yAxis, JumpThreshold: floatPtr(-1)},
			wantErr: ErrInvalidJumpThreshold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := NewDetector(tt.cfg, NewAggregator())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewDetector() error = %v, want %v", err, tt.wantErr)
			}
			if det != nil {
				t.Error("expected nil detector on error")
			}
		})
	}
}

func TestDetector_FirstSightingNeverCrosses(t *testing.T) {
	positions := []geometry.Point{
		{X: -5, Y: 2}, {X: 5, Y: 2}, {X: 0, Y: 3}, {X: 0.0001, Y: -1}, {X: -0.0001, Y: 7},
	}
	for _, boundary := range []geometry.Boundary{
		yAxis,
		geometry.PolygonBoundary(geometry.Point{X: -1, Y: -1}, geometry.Point{X: 1, Y: -1}, geometry.Point{X: 1, Y: 4}, geometry.Point{X: -1, Y: 4}),
	} {
		det, agg := newTestDetector(t, Config{Boundary: boundary})
		for i, p := range positions {
			id := testTrackID(i)
			ev := det.Observe(id, p)
			if ev.Kind != KindNone || ev.Reason != ReasonFirstSighting {
				t.Errorf("%s: first sample at %s gave %v/%v", boundary.Kind(), p, ev.Kind, ev.Reason)
			}
		}
		if got := agg.Snapshot(); !got.IsZero() {
			t.Errorf("%s: counters = %+v, want zero", boundary.Kind(), got)
		}
	}
}

func testTrackID(i int) string { return string(rune('a' + i)) }

func TestDetector_SentinelResetsAndNeverCrosses(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis})

	det.Observe("t_0", geometry.Point{X: -1, Y: 0})

	ev := det.Observe("t_0", geometry.Sentinel)
	if ev.Kind != KindNone || ev.Reason != ReasonLost {
		t.Errorf("sentinel after reading gave %v/%v, want none/lost", ev.Kind, ev.Reason)
	}
	if st, ok := det.Tracks().Get("t_0"); !ok || st.HasPrior {
		t.Errorf("track state after sentinel = %+v (known=%v), want known without prior", st, ok)
	}

	// Re-appearing on the other side is a first sighting, not a crossing.
	ev = det.Observe("t_0", geometry.Point{X: 1, Y: 0})
	if ev.Reason != ReasonFirstSighting {
		t.Errorf("reappearance reason = %v, want first_sighting", ev.Reason)
	}
	if got := agg.Snapshot(); !got.IsZero() {
		t.Errorf("counters = %+v, want zero", got)
	}

	// A second sentinel for a track that was never seen is idle.
	ev = det.Observe("t_4", geometry.Sentinel)
	if ev.Reason != ReasonIdle {
		t.Errorf("unknown track sentinel reason = %v, want idle", ev.Reason)
	}
	if det.Tracks().Len() != 1 {
		t.Errorf("track store len = %d, want 1", det.Tracks().Len())
	}
}

func TestDetector_SignChangeIsOneCrossing(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis})

	events := observeXs(det, "t_0", -1, 1)

	if diff := cmp.Diff([]Kind{KindNone, KindEntered}, kinds(events)); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if events[1].Reason != ReasonCrossed {
		t.Errorf("reason = %v, want crossed", events[1].Reason)
	}
	if got, want := agg.Snapshot(), (Counters{Traversed: 1, Entered: 1}); got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}

	events = observeXs(det, "t_0", -2)
	if events[0].Kind != KindExited {
		t.Errorf("crossing back = %v, want exited", events[0].Kind)
	}
}

func TestDetector_SameSideNoOp(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis})

	events := observeXs(det, "t_0", 1, 2, 3, 2.5)

	for _, ev := range events[1:] {
		if ev.Kind != KindNone || ev.Reason != ReasonSameSide {
			t.Errorf("got %v/%v, want none/same_side", ev.Kind, ev.Reason)
		}
	}
	if got := agg.Snapshot(); !got.IsZero() {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestDetector_JumpRejection(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis, JumpThreshold: floatPtr(1.0)})

	events := observeXs(det, "t_0", 0.2, 5.0)

	ev := events[1]
	if ev.Kind != KindInvalidMovement || ev.Reason != ReasonJump {
		t.Fatalf("got %v/%v, want invalid_movement/jump", ev.Kind, ev.Reason)
	}
	if diff := ev.Delta - 4.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("delta = %v, want 4.8", ev.Delta)
	}
	st, _ := det.Tracks().Get("t_0")
	if st.LastDistance != 5.0 {
		t.Errorf("baseline = %v, want 5.0", st.LastDistance)
	}

	// The advanced baseline means a small follow-up move is accepted.
	events = observeXs(det, "t_0", 5.5)
	if events[0].Reason != ReasonSameSide {
		t.Errorf("follow-up reason = %v, want same_side", events[0].Reason)
	}
	if got := agg.Snapshot(); !got.IsZero() {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestDetector_JumpAcrossBoundaryIsNotCounted(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis, JumpThreshold: floatPtr(1.2)})

	events := observeXs(det, "t_0", -1, 1)

	if events[1].Kind != KindInvalidMovement {
		t.Errorf("kind = %v, want invalid_movement", events[1].Kind)
	}
	if got := agg.Snapshot(); !got.IsZero() {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestDetector_OnBoundaryIsInconclusive(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis})

	events := observeXs(det, "t_0", -1, 0, 1)

	for _, ev := range events[1:] {
		if ev.Kind != KindNone || ev.Reason != ReasonOnBoundary {
			t.Errorf("got %v/%v, want none/on_boundary", ev.Kind, ev.Reason)
		}
	}
	if got := agg.Snapshot(); !got.IsZero() {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestDetector_InversionSymmetry(t *testing.T) {
	xs := []float64{-1, 1, -1, 1, 2}

	plain, plainAgg := newTestDetector(t, Config{Boundary: yAxis})
	inverted, invAgg := newTestDetector(t, Config{Boundary: yAxis, InvertEnterExit: true})

	pe := observeXs(plain, "t_0", xs...)
	ie := observeXs(inverted, "t_0", xs...)

	swap := map[Kind]Kind{KindEntered: KindExited, KindExited: KindEntered, KindNone: KindNone}
	for i := range pe {
		if swap[pe[i].Kind] != ie[i].Kind {
			t.Errorf("sample %d: plain=%v inverted=%v", i, pe[i].Kind, ie[i].Kind)
		}
	}

	p, inv := plainAgg.Snapshot(), invAgg.Snapshot()
	if p.Traversed != inv.Traversed {
		t.Errorf("traversed differs: %d vs %d", p.Traversed, inv.Traversed)
	}
	if p.Entered != inv.Exited || p.Exited != inv.Entered {
		t.Errorf("labels not swapped: plain=%+v inverted=%+v", p, inv)
	}
	if want := (Counters{Traversed: 3, Entered: 2, Exited: 1}); p != want {
		t.Errorf("plain counters = %+v, want %+v", p, want)
	}
}

func TestDetector_TracksAreIndependent(t *testing.T) {
	det, agg := newTestDetector(t, Config{Boundary: yAxis})

	det.Observe("t_0", geometry.Point{X: -1, Y: 1})
	det.Observe("t_1", geometry.Point{X: 1, Y: 1})
	det.Observe("t_0", geometry.Point{X: 1, Y: 1})
	det.Observe("t_1", geometry.Point{X: 2, Y: 1})

	if got, want := agg.Snapshot(), (Counters{Traversed: 1, Entered: 1}); got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}
}

func TestDetector_Polygon(t *testing.T) {
	square := geometry.PolygonBoundary(
		geometry.Point{X: 1, Y: 1}, geometry.Point{X: 3, Y: 1},
		geometry.Point{X: 3, Y: 3}, geometry.Point{X: 1, Y: 3},
	)
	det, agg := newTestDetector(t, Config{Boundary: square, JumpThreshold: floatPtr(0.1)})

	path := []geometry.Point{
		{X: 0.5, Y: 2}, // outside
		{X: 2, Y: 2},   // inside
		{X: 2.5, Y: 2}, // inside
		{X: 4, Y: 2},   // outside
	}
	var got []Kind
	for _, p := range path {
		got = append(got, det.Observe("t_0", p).Kind)
	}

	// The jump threshold only applies to line boundaries.
	want := []Kind{KindNone, KindEntered, KindNone, KindExited}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if c, want := agg.Snapshot(), (Counters{Traversed: 2, Entered: 1, Exited: 1}); c != want {
		t.Errorf("counters = %+v, want %+v", c, want)
	}
}

func TestDetector_PolygonInverted(t *testing.T) {
	tri := geometry.PolygonBoundary(
		geometry.Point{X: 1, Y: 1}, geometry.Point{X: 5, Y: 1}, geometry.Point{X: 3, Y: 4},
	)
	det, _ := newTestDetector(t, Config{Boundary: tri, InvertEnterExit: true})

	det.Observe("t_2", geometry.Point{X: 3, Y: 5})
	ev := det.Observe("t_2", geometry.Point{X: 3, Y: 2})

	if ev.Kind != KindExited || !ev.Inside {
		t.Errorf("got kind=%v inside=%v, want exited/true", ev.Kind, ev.Inside)
	}
}
