package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrDegenerateLine is returned when both points of a line coincide.
	ErrDegenerateLine = errors.New("line boundary requires two distinct points")
	// ErrTooFewVertices is returned for polygons with fewer than three vertices.
	ErrTooFewVertices = errors.New("polygon boundary requires at least 3 vertices")
	// ErrNoBoundary is returned when neither a line nor a polygon is set.
	ErrNoBoundary = errors.New("boundary requires a line or a polygon")
	// ErrAmbiguousBoundary is returned when both a line and a polygon are set.
	ErrAmbiguousBoundary = errors.New("boundary must be either a line or a polygon, not both")
)

// Point is a position in the sensor plane, in metres.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sentinel is the reserved "no detection" position reported by the sensor.
var Sentinel = Point{}

// IsSentinel reports whether p is the reserved no-detection position.
func (p Point) IsSentinel() bool { return p == Sentinel }

func (p Point) String() string { return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y) }

func (p Point) vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Line is an infinite oriented line through P1 and P2. The positive side is
// the half-plane to the right of the direction P1->P2.
type Line struct {
	P1 Point `json:"p1" yaml:"p1"`
	P2 Point `json:"p2" yaml:"p2"`
}

// Validate rejects lines whose points coincide.
func (l Line) Validate() error {
	if l.P1 == l.P2 {
		return fmt.Errorf("%w: p1=%s p2=%s", ErrDegenerateLine, l.P1, l.P2)
	}
	return nil
}

// Polygon is a closed region described by its ordered vertices. The last
// vertex connects back to the first.
type Polygon struct {
	Vertices []Point `json:"vertices" yaml:"vertices"`
}

// Validate rejects polygons with fewer than three vertices.
func (p Polygon) Validate() error {
	if len(p.Vertices) < 3 {
		return fmt.Errorf("%w: got %d", ErrTooFewVertices, len(p.Vertices))
	}
	return nil
}

// BoundaryKind identifies which evaluator a boundary uses.
type BoundaryKind string

const (
	KindLine    BoundaryKind = "line"
	KindPolygon BoundaryKind = "polygon"
)

// Boundary holds exactly one of Line or Polygon.
type Boundary struct {
	Line    *Line    `json:"line,omitempty" yaml:"line,omitempty"`
	Polygon *Polygon `json:"polygon,omitempty" yaml:"polygon,omitempty"`
}

// LineBoundary wraps l in a Boundary.
func LineBoundary(p1, p2 Point) Boundary {
	return Boundary{Line: &Line{P1: p1, P2: p2}}
}

// PolygonBoundary wraps the given vertices in a Boundary.
func PolygonBoundary(vertices ...Point) Boundary {
	return Boundary{Polygon: &Polygon{Vertices: vertices}}
}

// Kind returns the active boundary kind. Call Validate first.
func (b Boundary) Kind() BoundaryKind {
	if b.Line != nil {
		return KindLine
	}
	return KindPolygon
}

// Validate checks that exactly one boundary kind is set and that it is not
// degenerate.
func (b Boundary) Validate() error {
	switch {
	case b.Line == nil && b.Polygon == nil:
		return ErrNoBoundary
	case b.Line != nil && b.Polygon != nil:
		return ErrAmbiguousBoundary
	case b.Line != nil:
		return b.Line.Validate()
	default:
		return b.Polygon.Validate()
	}
}

func (b Boundary) String() string {
	if b.Line != nil {
		return fmt.Sprintf("line %s-%s", b.Line.P1, b.Line.P2)
	}
	if b.Polygon != nil {
		return fmt.Sprintf("polygon %v", b.Polygon.Vertices)
	}
	return "none"
}

// SignedDistance returns the distance from p to the infinite line through
// l.P1 and l.P2, signed by the half-plane p lies in:
//
//	((y2-y1)*x - (x2-x1)*y + x2*y1 - y2*x1) / |p2-p1|
//
// The line must have been validated; a degenerate line yields NaN.
func SignedDistance(p Point, l Line) float64 {
	dir := r2.Sub(l.P2.vec(), l.P1.vec())
	return r2.Cross(r2.Sub(p.vec(), l.P1.vec()), dir) / r2.Norm(dir)
}

// PointInPolygon reports whether p lies inside poly using even-odd ray
// casting. Points exactly on an edge or vertex count as inside.
func PointInPolygon(p Point, poly Polygon) bool {
	n := len(poly.Vertices)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly.Vertices[i], poly.Vertices[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// onSegment reports whether p lies on the closed segment a-b.
func onSegment(p, a, b Point) bool {
	if r2.Cross(r2.Sub(b.vec(), a.vec()), r2.Sub(p.vec(), a.vec())) != 0 {
		return false
	}
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) &&
		p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}
