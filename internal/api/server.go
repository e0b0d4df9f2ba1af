// Package api serves the HTTP read side of the counter: persisted interval
// history, daily rollups, the live interval and the site configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultCountsLimit = 100
	maxCountsLimit     = 10000
	maxRollupDays      = 366
)

// CountStore is the persisted side of the counter.
type CountStore interface {
	RecentCounts(ctx context.Context, sensorID string, limit int) ([]db.CrossingCount, error)
	DailyRollup(ctx context.Context, sensorID string, since, until time.Time) ([]db.DailyCount, error)
}

// LiveCounter exposes the counts of the interval that has not been flushed yet.
type LiveCounter interface {
	Snapshot() occupancy.Counters
}

// IntervalFlusher closes the interval being counted ahead of schedule.
type IntervalFlusher interface {
	FlushNow(ctx context.Context) error
}

type Server struct {
	m       serialmux.SerialMuxInterface
	store   CountStore
	live    LiveCounter
	flusher IntervalFlusher
	site    *config.SiteConfig
	metrics http.Handler
	now     func() time.Time
}

// ServerConfig wires a Server. Metrics and Now are optional.
type ServerConfig struct {
	SerialMux serialmux.SerialMuxInterface
	Store     CountStore
	Live      LiveCounter
	Flusher   IntervalFlusher
	Site      *config.SiteConfig
	Metrics   http.Handler
	Now       func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := cfg.SerialMux
	if m == nil {
		m = serialmux.NewDisabledSerialMux()
	}
	return &Server{
		m:       m,
		store:   cfg.Store,
		live:    cfg.Live,
		flusher: cfg.Flusher,
		site:    cfg.Site,
		metrics: cfg.Metrics,
		now:     now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counts", s.listCounts)
	mux.HandleFunc("/api/counts/live", s.showLiveCounts)
	mux.HandleFunc("/api/counts/rollup", s.showRollup)
	mux.HandleFunc("/api/counts/flush", s.flushCounts)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/command", s.sendCommandHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) sensorID() string {
	if s.site == nil {
		return ""
	}
	return s.site.SensorID
}

// positiveIntParam parses an optional positive integer query parameter.
func positiveIntParam(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > max {
		return 0, fmt.Errorf("Invalid '%s' parameter", name)
	}
	return n, nil
}

func (s *Server) listCounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Count store not configured")
		return
	}

	limit, err := positiveIntParam(r, "limit", defaultCountsLimit, maxCountsLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := s.store.RecentCounts(r.Context(), s.sensorID(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve counts: %v", err))
		return
	}
	if counts == nil {
		counts = []db.CrossingCount{}
	}

	if err := json.NewEncoder(w).Encode(counts); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write counts")
		return
	}
}

// liveCounts is the response of /api/counts/live.
type liveCounts struct {
	SensorID string    `json:"sensor_id"`
	AsOf     time.Time `json:"as_of"`
	occupancy.Counters
}

func (s *Server) showLiveCounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.live == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Live counter not configured")
		return
	}

	resp := liveCounts{
		SensorID: s.sensorID(),
		AsOf:     s.now().UTC(),
		Counters: s.live.Snapshot(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write live counts")
		return
	}
}

// flushCounts hands off the live interval now, e.g. before a maintenance
// restart or at the end of an event.
func (s *Server) flushCounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.flusher == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Flusher not configured")
		return
	}

	err := s.flusher.FlushNow(r.Context())
	switch {
	case errors.Is(err, occupancy.ErrFlusherNotRunning):
		s.writeJSONError(w, http.StatusServiceUnavailable, "Flusher not running")
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to flush counts: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "flushed"})
}

// showRollup returns per-day totals for the last N UTC days, today included.
func (s *Server) showRollup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Count store not configured")
		return
	}

	days, err := positiveIntParam(r, "days", 1, maxRollupDays)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))
	until := today.AddDate(0, 0, 1)

	rollup, err := s.store.DailyRollup(r.Context(), s.sensorID(), since, until)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve rollup: %v", err))
		return
	}
	if rollup == nil {
		rollup = []db.DailyCount{}
	}

	if err := json.NewEncoder(w).Encode(rollup); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write rollup")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.site == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Site config not loaded")
		return
	}

	cfg := map[string]interface{}{
		"sensor_id":            s.site.SensorID,
		"sensor_model":         s.site.GetSensorModel(),
		"boundary":             s.site.Boundary,
		"invert_enter_exit":    s.site.GetInvertEnterExit(),
		"jump_threshold":       s.site.JumpThreshold,
		"flush_interval":       s.site.GetFlushInterval().String(),
		"skip_empty_intervals": s.site.GetSkipEmptyIntervals(),
		"track_ids":            s.site.TrackIDs,
	}

	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
