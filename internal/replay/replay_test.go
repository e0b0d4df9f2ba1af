package replay

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

const recording = `2024-10-02 14:03:11.000000;{"t_0":{"x":-1,"y":0}}
2024-10-02 14:03:11.500000;{"t_0":{"x":1,"y":0}}

not a record
2024-10-02 14:03:13.500000 {"t_0":{"x":0,"y":0}}
`

func TestParseRecordLine(t *testing.T) {
	const payload = `{"t_0":{"x":-0.42,"y":2.1}}`
	fractional := time.Date(2024, 10, 2, 14, 3, 11, 482113000, time.UTC)
	whole := time.Date(2024, 10, 2, 14, 3, 11, 0, time.UTC)

	tests := []struct {
		name string
		line string
		want Record
	}{
		{"semicolon", "2024-10-02 14:03:11.482113;" + payload, Record{fractional, payload}},
		{"space", "2024-10-02 14:03:11.482113 " + payload, Record{fractional, payload}},
		{"padded crlf", "  2024-10-02 14:03:11.482113;" + payload + "\r\n", Record{fractional, payload}},
		{"whole second semicolon", "2024-10-02 14:03:11;" + payload, Record{whole, payload}},
		{"whole second space", "2024-10-02 14:03:11 " + payload, Record{whole, payload}},
		{"short fraction", "2024-10-02 14:03:11.5;" + payload, Record{whole.Add(500 * time.Millisecond), payload}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecordLine(tt.line)
			if err != nil {
				t.Fatalf("ParseRecordLine(%q): %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRecordLine(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseRecordLine_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"no separator": "2024-10-02",
		"date only":    "2024-10-02 14:03:11.482113",
		"bad time":     "yesterday;{}",
		"no payload":   "2024-10-02 14:03:11.482113;   ",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRecordLine(line); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("ParseRecordLine(%q) error = %v, want ErrMalformedRecord", line, err)
			}
		})
	}
}

func TestPlay_AsFastAsPossible(t *testing.T) {
	var logs bytes.Buffer
	p := &Player{Logger: log.New(&logs, "", 0)}
	out := make(chan string, 8)

	stats, err := p.Play(context.Background(), strings.NewReader(recording), out)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	close(out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	want := []string{
		`{"t_0":{"x":-1,"y":0}}`,
		`{"t_0":{"x":1,"y":0}}`,
		`{"t_0":{"x":0,"y":0}}`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Played: 3, Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs.String(), "skipping line 4") {
		t.Errorf("expected skipped line to be logged, got %q", logs.String())
	}
}

func TestPlay_PacedByRecordedGaps(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p := &Player{Clock: clock, Speed: 2, Logger: log.New(&bytes.Buffer{}, "", 0)}
	out := make(chan string, 8)

	done := make(chan error, 1)
	go func() {
		_, err := p.Play(context.Background(), strings.NewReader(recording), out)
		done <- err
	}()

	waitFor := func(cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for condition")
			}
			time.Sleep(time.Millisecond)
		}
	}

	// First payload goes out immediately.
	<-out
	// 500ms recorded gap at 2x speed.
	waitFor(func() bool { return clock.TimerCount() >= 1 })
	select {
	case line := <-out:
		t.Fatalf("payload %q delivered before its gap elapsed", line)
	default:
	}
	clock.Advance(250 * time.Millisecond)
	if got := <-out; got != `{"t_0":{"x":1,"y":0}}` {
		t.Errorf("second payload = %q", got)
	}

	// 2s recorded gap at 2x speed.
	waitFor(func() bool { return clock.TimerCount() >= 2 })
	clock.Advance(time.Second)
	if got := <-out; got != `{"t_0":{"x":0,"y":0}}` {
		t.Errorf("third payload = %q", got)
	}

	if err := <-done; err != nil {
		t.Fatalf("Play: %v", err)
	}
}

func TestPlay_Cancelled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p := &Player{Clock: clock, Speed: 1, Logger: log.New(&bytes.Buffer{}, "", 0)}
	out := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Play(ctx, strings.NewReader(recording), out)
		done <- err
	}()

	<-out
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Play error = %v, want context.Canceled", err)
	}
}
