// Package metrics exposes crossing and flush counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

const namespace = "occupancy"

// Metrics holds the service counters. It implements
// occupancy.EventObserver and occupancy.FlushObserver.
type Metrics struct {
	registry *prometheus.Registry

	Events         *prometheus.CounterVec
	Ticks          prometheus.Counter
	ActiveTracks   prometheus.Gauge
	Flushes        *prometheus.CounterVec
	LastFlush      prometheus.Gauge
	FlushedCrossed *prometheus.CounterVec
	DroppedPayload prometheus.Counter
}

// New creates Metrics registered on a fresh registry together with the Go
// runtime and process collectors.
func New(sensorID string) *Metrics {
	constLabels := prometheus.Labels{"sensor_id": sensorID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "detector",
				Name:        "events_total",
				Help:        "Classified track observations by event kind and reason",
				ConstLabels: constLabels,
			},
			[]string{"event", "reason"},
		),

		Ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "driver",
				Name:        "ticks_total",
				Help:        "Total number of sensor ticks handled",
				ConstLabels: constLabels,
			},
		),

		ActiveTracks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "driver",
				Name:        "active_tracks",
				Help:        "Tracks holding a prior reading after the last tick",
				ConstLabels: constLabels,
			},
		),

		Flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "flush",
				Name:        "total",
				Help:        "Interval hand-offs to the count store by status (ok, failed)",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),

		LastFlush: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "flush",
				Name:        "last_success_timestamp_seconds",
				Help:        "Unix time of the end of the last persisted interval",
				ConstLabels: constLabels,
			},
		),

		FlushedCrossed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "flush",
				Name:        "crossings_total",
				Help:        "Crossings handed to the count store by direction and status",
				ConstLabels: constLabels,
			},
			[]string{"direction", "status"},
		),

		DroppedPayload: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ingest",
				Name:        "dropped_payloads_total",
				Help:        "Payloads that failed to decode",
				ConstLabels: constLabels,
			},
		),
	}

	m.registry.MustRegister(
		m.Events, m.Ticks, m.ActiveTracks, m.Flushes, m.LastFlush, m.FlushedCrossed, m.DroppedPayload,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveEvent counts one classified observation.
func (m *Metrics) ObserveEvent(_ time.Time, ev occupancy.Event) {
	m.Events.WithLabelValues(ev.Kind.String(), string(ev.Reason)).Inc()
}

// ObserveTick records a handled tick and the resulting active track count.
func (m *Metrics) ObserveTick(activeTracks int) {
	m.Ticks.Inc()
	m.ActiveTracks.Set(float64(activeTracks))
}

// ObserveFlush records one interval hand-off.
func (m *Metrics) ObserveFlush(rec occupancy.CountRecord, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	} else {
		m.LastFlush.Set(float64(rec.IntervalEnd.Unix()))
	}
	m.Flushes.WithLabelValues(status).Inc()
	m.FlushedCrossed.WithLabelValues("entered", status).Add(float64(rec.Entered))
	m.FlushedCrossed.WithLabelValues("exited", status).Add(float64(rec.Exited))
}

// RecordDroppedPayload counts a payload rejected by the decoder.
func (m *Metrics) RecordDroppedPayload() { m.DroppedPayload.Inc() }
