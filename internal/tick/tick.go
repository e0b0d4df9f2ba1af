// Package tick decodes radar gateway payloads into per-track position
// samples.
//
// Two payload shapes are accepted. The raw topic publishes one object per
// track slot:
//
//	{"t_0": {"x": -0.42, "y": 2.1}, "t_1": {"x": 0, "y": 0}, ...}
//
// The data topic nests an ordered detection list, which is mapped onto the
// same t_<index> ids:
//
//	{"ld2461": {"detections": [{"x": -0.42, "y": 2.1}]}, "pir": {"detection": 1}}
//
// (0,0) is the sentinel for "no detection". Malformed samples are rejected
// here and never reach the detector.
package tick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/geometry"
)

// ErrMalformedSample is returned when a track entry is missing a coordinate
// or is not an object of numbers.
var ErrMalformedSample = errors.New("malformed sample")

// Tick is one sampling interval of the sensor.
type Tick struct {
	Time    time.Time
	Samples map[string]geometry.Point
}

// IDs returns the track ids present in the tick, sorted.
func (t Tick) IDs() []string {
	ids := make([]string, 0, len(t.Samples))
	for id := range t.Samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TrackID returns the id used for the detection at slot index.
func TrackID(index int) string { return fmt.Sprintf("t_%d", index) }

type rawSample struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (s rawSample) point() (geometry.Point, bool) {
	if s.X == nil || s.Y == nil {
		return geometry.Point{}, false
	}
	return geometry.Point{X: *s.X, Y: *s.Y}, true
}

type dataPayload struct {
	LD2461 *struct {
		Detections []rawSample `json:"detections"`
	} `json:"ld2461"`
}

// Decode parses a gateway payload received at the given time.
func Decode(payload []byte, at time.Time) (Tick, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Tick{}, fmt.Errorf("%w: empty payload", ErrMalformedSample)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Tick{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	t := Tick{Time: at, Samples: make(map[string]geometry.Point, len(fields))}

	if _, ok := fields["ld2461"]; ok {
		var data dataPayload
		if err := json.Unmarshal(payload, &data); err != nil {
			return Tick{}, fmt.Errorf("%w: ld2461: %v", ErrMalformedSample, err)
		}
		if data.LD2461 == nil {
			return t, nil
		}
		for i, s := range data.LD2461.Detections {
			p, ok := s.point()
			if !ok {
				return Tick{}, fmt.Errorf("%w: detection %d missing coordinate", ErrMalformedSample, i)
			}
			t.Samples[TrackID(i)] = p
		}
		return t, nil
	}

	for id, raw := range fields {
		var s rawSample
		if err := json.Unmarshal(raw, &s); err != nil {
			return Tick{}, fmt.Errorf("%w: track %s: %v", ErrMalformedSample, id, err)
		}
		p, ok := s.point()
		if !ok {
			return Tick{}, fmt.Errorf("%w: track %s missing coordinate", ErrMalformedSample, id)
		}
		t.Samples[id] = p
	}
	return t, nil
}

// StreamConfig contains configuration for DecodeStream.
type StreamConfig struct {
	// Now stamps each decoded tick; if nil, uses time.Now.
	Now func() time.Time
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// OnDrop is called for every payload that fails to decode.
	OnDrop func(payload string, err error)
}

// DecodeStream decodes payload lines from in until ctx is cancelled or in is
// closed. Payloads that fail to decode are logged and dropped. The returned
// channel is closed when decoding stops.
func DecodeStream(ctx context.Context, in <-chan string, cfg StreamConfig) <-chan Tick {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	out := make(chan Tick)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-in:
				if !ok {
					return
				}
				t, err := Decode([]byte(line), now())
				if err != nil {
					logger.Printf("dropping payload %q: %v", line, err)
					if cfg.OnDrop != nil {
						cfg.OnDrop(line, err)
					}
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
