// Package geometry evaluates the position of a track relative to a monitored
// boundary.
//
// A boundary is either an oriented Line through two points, evaluated by
// signed distance, or a closed Polygon, evaluated by point-in-region
// membership. All functions here are pure: identical inputs always produce
// identical outputs.
package geometry
