package geometry

import (
	"errors"
	"math"
	"testing"
)

func TestSignedDistance(t *testing.T) {
	yAxis := Line{P1: Point{0, 0}, P2: Point{0, 1}}
	tests := []struct {
		name string
		p    Point
		line Line
		want float64
	}{
		{"right of y-axis", Point{1, 0}, yAxis, 1},
		{"left of y-axis", Point{-1, 0}, yAxis, -1},
		{"on y-axis", Point{0, 5}, yAxis, 0},
		{"long segment scales out", Point{2, 3}, Line{P1: Point{0, -1}, P2: Point{0, 1}}, 2},
		{"reversed orientation flips sign", Point{2, 0}, Line{P1: Point{0, 1}, P2: Point{0, 0}}, -2},
		{"diagonal", Point{1, 0}, Line{P1: Point{0, 0}, P2: Point{1, 1}}, math.Sqrt2 / 2},
		{"horizontal line above origin", Point{3, 4}, Line{P1: Point{-2, 1.8}, P2: Point{2, 1.8}}, -2.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignedDistance(tt.p, tt.line)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SignedDistance(%v, %v) = %v, want %v", tt.p, tt.line, got, tt.want)
			}
		})
	}
}

func TestSignedDistance_MatchesClosedForm(t *testing.T) {
	l := Line{P1: Point{-1.5, 0.7}, P2: Point{2.25, 3.1}}
	x1, y1, x2, y2 := l.P1.X, l.P1.Y, l.P2.X, l.P2.Y
	for _, p := range []Point{{0, 0}, {1, 1}, {-3, 2}, {4.5, -0.25}} {
		want := ((y2-y1)*p.X - (x2-x1)*p.Y + x2*y1 - y2*x1) / math.Hypot(x2-x1, y2-y1)
		if got := SignedDistance(p, l); math.Abs(got-want) > 1e-9 {
			t.Errorf("SignedDistance(%v) = %v, closed form %v", p, got, want)
		}
	}
}

func TestGeometryIsDeterministic(t *testing.T) {
	l := Line{P1: Point{0.1, -0.3}, P2: Point{0.7, 2.9}}
	poly := Polygon{Vertices: []Point{{-2, 3}, {-2, 1.8}, {2, 1.8}, {2, 3}}}
	for _, p := range []Point{{0.5, 2}, {-1.99, 2.5}, {3, 3}, {0, 1.8}} {
		d := SignedDistance(p, l)
		in := PointInPolygon(p, poly)
		for i := 0; i < 100; i++ {
			if got := SignedDistance(p, l); got != d {
				t.Fatalf("SignedDistance(%v) changed between calls: %v != %v", p, got, d)
			}
			if got := PointInPolygon(p, poly); got != in {
				t.Fatalf("PointInPolygon(%v) changed between calls: %v != %v", p, got, in)
			}
		}
	}
}

func TestPointInPolygon(t *testing.T) {
	area := Polygon{Vertices: []Point{{-2, 3}, {-2, 1.8}, {2, 1.8}, {2, 3}}}
	concave := Polygon{Vertices: []Point{{0, 0}, {4, 0}, {4, 4}, {2, 2}, {0, 4}}}

	tests := []struct {
		name string
		p    Point
		poly Polygon
		want bool
	}{
		{"centre", Point{0, 2.4}, area, true},
		{"outside left", Point{-3, 2.4}, area, false},
		{"outside below", Point{0, 1}, area, false},
		{"on bottom edge", Point{0, 1.8}, area, true},
		{"on left edge", Point{-2, 2.5}, area, true},
		{"on vertex", Point{2, 3}, area, true},
		{"concave notch is outside", Point{2, 3}, concave, false},
		{"concave arm is inside", Point{1, 2.5}, concave, true},
		{"concave reflex vertex", Point{2, 2}, concave, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInPolygon(tt.p, tt.poly); got != tt.want {
				t.Errorf("PointInPolygon(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPointInPolygon_TooFewVertices(t *testing.T) {
	if PointInPolygon(Point{0, 0}, Polygon{Vertices: []Point{{0, 0}, {1, 1}}}) {
		t.Error("expected false for a two-vertex polygon")
	}
}

func TestBoundaryValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       Boundary
		wantErr error
	}{
		{"valid line", LineBoundary(Point{0, -1}, Point{0, 1}), nil},
		{"degenerate line", LineBoundary(Point{1, 1}, Point{1, 1}), ErrDegenerateLine},
		{"valid polygon", PolygonBoundary(Point{0, 0}, Point{1, 0}, Point{0, 1}), nil},
		{"two vertex polygon", PolygonBoundary(Point{0, 0}, Point{1, 0}), ErrTooFewVertices},
		{"empty", Boundary{}, ErrNoBoundary},
		{"both kinds", Boundary{Line: &Line{P2: Point{1, 0}}, Polygon: &Polygon{}}, ErrAmbiguousBoundary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBoundaryKind(t *testing.T) {
	if k := LineBoundary(Point{0, 0}, Point{0, 1}).Kind(); k != KindLine {
		t.Errorf("Kind() = %q, want %q", k, KindLine)
	}
	if k := PolygonBoundary(Point{0, 0}, Point{1, 0}, Point{0, 1}).Kind(); k != KindPolygon {
		t.Errorf("Kind() = %q, want %q", k, KindPolygon)
	}
}

func TestSentinel(t *testing.T) {
	if !(Point{}).IsSentinel() {
		t.Error("zero point should be the sentinel")
	}
	if (Point{0, 0.01}).IsSentinel() {
		t.Error("non-zero point should not be the sentinel")
	}
}
