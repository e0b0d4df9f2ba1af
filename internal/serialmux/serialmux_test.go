package serialmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

const tickLine = `{"t_0": {"x": -0.42, "y": 2.1}, "t_1": {"x": 0, "y": 0}}`

func recvLine(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Fatal("expected unique subscriber ids")
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	// Unknown ids are ignored.
	mux.Unsubscribe("does-not-exist")

	if len(mux.subs) != 1 {
		t.Errorf("subscribers = %d, want 1", len(mux.subs))
	}
}

func TestSendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("restart"); err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if err := mux.SendCommand("status\n"); err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "restart\nstatus\n" {
		t.Errorf("written = %q", got)
	}

	port.WriteError = errors.New("device unplugged")
	if err := mux.SendCommand("status"); err == nil {
		t.Error("expected write error")
	}
}

func TestMonitor_BroadcastsLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte(tickLine + "\nI (1234) sensor: ready\n"))

	for _, ch := range []chan string{ch1, ch2} {
		if got := recvLine(t, ch); got != tickLine {
			t.Errorf("first line = %q", got)
		}
		if got := recvLine(t, ch); got != "I (1234) sensor: ready" {
			t.Errorf("second line = %q", got)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor() = %v, want context.Canceled", err)
	}
	if err := mux.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestMonitor_EOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte(tickLine + "\n"))
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error: %v", err)
	}
	if got := recvLine(t, ch); got != tickLine {
		t.Errorf("line = %q", got)
	}
}

func TestMonitor_ReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("framing error")
	mux := NewSerialMux(port)

	if err := mux.Monitor(context.Background()); err == nil || err.Error() != "framing error" {
		t.Errorf("Monitor() = %v, want framing error", err)
	}
}

func TestClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}
	if !port.Closed {
		t.Error("expected port closed")
	}
}

func TestMonitor_TickSubscribersSeeTicksOnly(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("I (10) sensor: booting\n" +
		tickLine + "  \n" +
		"rst:0x1 (POWERON_RESET)\n" +
		`{"t_0": {"x": 1, "y": 1}}` + "\n"))
	mux := NewSerialMux(port)
	_, all := mux.Subscribe()
	_, ticks := mux.SubscribeTicks()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error: %v", err)
	}

	if got := recvLine(t, ticks); got != tickLine {
		t.Errorf("first tick = %q", got)
	}
	if got := recvLine(t, ticks); got != `{"t_0": {"x": 1, "y": 1}}` {
		t.Errorf("second tick = %q", got)
	}
	select {
	case line := <-ticks:
		t.Errorf("unexpected tick %q", line)
	default:
	}

	// console subscribers get every line untouched
	for _, want := range []string{"I (10) sensor: booting", tickLine + "  ", "rst:0x1 (POWERON_RESET)"} {
		if got := recvLine(t, all); got != want {
			t.Errorf("console line = %q, want %q", got, want)
		}
	}

	want := LineStats{Ticks: 2, Logs: 1, Unknown: 1}
	if got := mux.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestMonitor_CountsDroppedLines(t *testing.T) {
	port := NewTestableSerialPort()
	for i := 0; i < subscriberBuffer+3; i++ {
		port.AddReadData([]byte(tickLine + "\n"))
	}
	mux := NewSerialMux(port)
	_, ticks := mux.SubscribeTicks()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error: %v", err)
	}
	if got := len(ticks); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}
	if got := mux.Stats(); got.Ticks != subscriberBuffer+3 || got.Dropped != 3 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	_, ch := mux.SubscribeTicks()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
}

func TestMonitor_LogsFirmwareLines(t *testing.T) {
	var logged []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	port := NewTestableSerialPort()
	port.AddReadData([]byte("E (99) ld2461: checksum mismatch\n" + tickLine + "\n"))
	mux := NewSerialMux(port)
	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error: %v", err)
	}

	if len(logged) != 1 || !strings.Contains(logged[0], "[gateway] E (99) ld2461: checksum mismatch") {
		t.Errorf("logged = %q", logged)
	}
}
