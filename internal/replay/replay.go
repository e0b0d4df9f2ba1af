// Package replay plays back gateway recordings as a tick source.
//
// A recording holds one payload per line, prefixed with the wall-clock time
// it was captured:
//
//	2024-10-02 14:03:11.482113;{"t_0":{"x":-0.42,"y":2.1},...}
//
// A single space may be used instead of the semicolon.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// TimeLayout is the timestamp format written by the gateway recorder. The
// fraction is optional: stamps landing on a whole second carry none.
const TimeLayout = "2006-01-02 15:04:05.999999"

// maxLineSize bounds a single recorded line.
const maxLineSize = 64 * 1024

// ErrMalformedRecord is returned for lines that do not carry a timestamp and
// a payload.
var ErrMalformedRecord = errors.New("malformed record")

// Record is one line of a recording.
type Record struct {
	Time    time.Time
	Payload string
}

// ParseRecordLine splits a recorded line into its timestamp and payload.
// Timestamps are interpreted as UTC.
func ParseRecordLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, fmt.Errorf("%w: empty line", ErrMalformedRecord)
	}

	var stamp, payload string
	if i := strings.IndexByte(line, ';'); i >= 0 {
		stamp, payload = line[:i], line[i+1:]
	} else {
		// "<date> <time> <payload>": the payload starts after the second space.
		i := strings.IndexByte(line, ' ')
		if i < 0 {
			return Record{}, fmt.Errorf("%w: no payload", ErrMalformedRecord)
		}
		j := strings.IndexByte(line[i+1:], ' ')
		if j < 0 {
			return Record{}, fmt.Errorf("%w: no payload", ErrMalformedRecord)
		}
		stamp, payload = line[:i+1+j], line[i+1+j+1:]
	}

	at, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(stamp), time.UTC)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Record{}, fmt.Errorf("%w: no payload", ErrMalformedRecord)
	}
	return Record{Time: at, Payload: payload}, nil
}

// Player paces recorded payloads by the gaps between their timestamps.
type Player struct {
	// Clock drives pacing; defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Speed scales playback: 1 is real time, 2 twice as fast. Zero or
	// negative plays as fast as the consumer reads.
	Speed float64
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Stats summarises a playback.
type Stats struct {
	Played  int
	Skipped int
}

// Play reads r to EOF and sends every payload to out. Malformed lines are
// logged and skipped. Play does not close out.
func (p *Player) Play(ctx context.Context, r io.Reader, out chan<- string) (Stats, error) {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}

	var stats Stats
	var prev time.Time
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		rec, err := ParseRecordLine(scanner.Text())
		if err != nil {
			logger.Printf("replay: skipping line %d: %v", lineNo, err)
			stats.Skipped++
			continue
		}

		if !prev.IsZero() && p.Speed > 0 {
			if gap := rec.Time.Sub(prev); gap > 0 {
				if err := sleep(ctx, clock, time.Duration(float64(gap)/p.Speed)); err != nil {
					return stats, err
				}
			}
		}
		prev = rec.Time

		select {
		case out <- rec.Payload:
			stats.Played++
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read recording: %w", err)
	}
	return stats, nil
}

func sleep(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	timer := clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
