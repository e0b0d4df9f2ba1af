package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// CrossingCount is one persisted flush interval.
type CrossingCount struct {
	ID            string    `json:"id"`
	SensorID      string    `json:"sensor_id"`
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
	Traversed     int64     `json:"traversed"`
	Entered       int64     `json:"entered"`
	Exited        int64     `json:"exited"`
}

// DailyCount summarises one UTC day of intervals.
type DailyCount struct {
	Day       string `json:"day"` // YYYY-MM-DD
	Intervals int    `json:"intervals"`
	Traversed int64  `json:"traversed"`
	Entered   int64  `json:"entered"`
	Exited    int64  `json:"exited"`
	// Net is entered minus exited over the day.
	Net int64 `json:"net"`
	// MeanTraversed and StdDevTraversed describe crossings per interval.
	MeanTraversed   float64 `json:"mean_traversed"`
	StdDevTraversed float64 `json:"stddev_traversed"`
	PeakTraversed   int64   `json:"peak_traversed"`
}

func toUnix(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromUnix(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9)).UTC()
}

// RecordCounts inserts one interval record. It implements occupancy.CountSink.
func (db *DB) RecordCounts(ctx context.Context, rec occupancy.CountRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO crossing_counts (
			count_id, sensor_id, interval_start, interval_end, traversed, entered, exited
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.SensorID, toUnix(rec.IntervalStart), toUnix(rec.IntervalEnd),
		rec.Traversed, rec.Entered, rec.Exited,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crossing count: %w", err)
	}
	return tx.Commit()
}

// RecentCounts returns the newest records for sensorID, newest first. An
// empty sensorID matches every sensor.
func (db *DB) RecentCounts(ctx context.Context, sensorID string, limit int) ([]CrossingCount, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT count_id, sensor_id, interval_start, interval_end, traversed, entered, exited
		FROM crossing_counts
		WHERE (? = '' OR sensor_id = ?)
		ORDER BY interval_start DESC
		LIMIT ?`,
		sensorID, sensorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CrossingCount
	for rows.Next() {
		var (
			c          CrossingCount
			start, end float64
		)
		if err := rows.Scan(&c.ID, &c.SensorID, &start, &end, &c.Traversed, &c.Entered, &c.Exited); err != nil {
			return nil, err
		}
		c.IntervalStart = fromUnix(start)
		c.IntervalEnd = fromUnix(end)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailyRollup summarises the intervals of sensorID that started in
// [since, until), one entry per UTC day in ascending order. An empty
// sensorID rolls up every sensor.
func (db *DB) DailyRollup(ctx context.Context, sensorID string, since, until time.Time) ([]DailyCount, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT interval_start, traversed, entered, exited
		FROM crossing_counts
		WHERE (? = '' OR sensor_id = ?) AND interval_start >= ? AND interval_start < ?
		ORDER BY interval_start ASC`,
		sensorID, sensorID, toUnix(since), toUnix(until),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		days      []DailyCount
		traversed []float64
	)
	closeDay := func() {
		if len(days) == 0 {
			return
		}
		d := &days[len(days)-1]
		d.MeanTraversed, d.StdDevTraversed = stat.MeanStdDev(traversed, nil)
		if len(traversed) < 2 {
			d.StdDevTraversed = 0
		}
		traversed = traversed[:0]
	}

	for rows.Next() {
		var (
			start                 float64
			nTraversed, nIn, nOut int64
		)
		if err := rows.Scan(&start, &nTraversed, &nIn, &nOut); err != nil {
			return nil, err
		}
		day := fromUnix(start).Format("2006-01-02")
		if len(days) == 0 || days[len(days)-1].Day != day {
			closeDay()
			days = append(days, DailyCount{Day: day})
		}
		d := &days[len(days)-1]
		d.Intervals++
		d.Traversed += nTraversed
		d.Entered += nIn
		d.Exited += nOut
		d.Net = d.Entered - d.Exited
		if nTraversed > d.PeakTraversed {
			d.PeakTraversed = nTraversed
		}
		traversed = append(traversed, float64(nTraversed))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	closeDay()
	return days, nil
}
