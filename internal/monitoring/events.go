package monitoring

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// EventLogger writes classified track events as one line each:
//
//	2025-06-23T10:00:02.5Z track=t_0 event=entered reason=crossed x=1.000 y=0.000 d=1.000
//
// Idle sentinels and same-side observations are omitted unless Verbose is
// set.
type EventLogger struct {
	mu      sync.Mutex
	w       io.Writer
	Verbose bool
}

// NewEventLogger returns an EventLogger writing to w.
func NewEventLogger(w io.Writer) *EventLogger {
	return &EventLogger{w: w}
}

// ObserveEvent implements occupancy.EventObserver.
func (l *EventLogger) ObserveEvent(at time.Time, ev occupancy.Event) {
	if !l.Verbose && (ev.Reason == occupancy.ReasonIdle || ev.Reason == occupancy.ReasonSameSide) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s track=%s event=%s reason=%s x=%.3f y=%.3f d=%.3f\n",
		at.UTC().Format(time.RFC3339Nano), ev.TrackID, ev.Kind, ev.Reason,
		ev.Position.X, ev.Position.Y, ev.Distance)
}
