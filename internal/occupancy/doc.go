// Package occupancy turns a stream of per-track positions into boundary
// crossing events and periodic count records.
//
// The tick loop owns a Detector (and through it the TrackStore) and feeds it
// one sample per track per tick. Crossings are recorded on an Aggregator,
// which a Flusher drains on a fixed interval and hands to a CountSink. The
// Aggregator is the only state shared between the two loops.
package occupancy
