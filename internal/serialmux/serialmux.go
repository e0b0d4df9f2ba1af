// Serialmux provides an abstraction over the gateway's serial console with
// the ability for multiple clients to subscribe to its lines and send commands
// to the device.
//
// The console interleaves tick payloads with firmware log output. Monitor
// classifies every line once: tick subscribers receive trimmed payloads only,
// console subscribers receive everything, and log lines are echoed to the
// diagnostic logger.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// subscriberBuffer absorbs short bursts at the sensor tick rate.
const subscriberBuffer = 16

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// subscription is one reader of the console. A ticksOnly subscription sees
// tick payloads with surrounding whitespace removed.
type subscription struct {
	ch        chan string
	ticksOnly bool
}

// SerialMux multiplexes one gateway console among many subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	mu      sync.Mutex // guards subs, stats and closing
	subs    map[string]subscription
	stats   LineStats
	closing bool

	commandMu sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe returns a channel receiving every console line. The ID is
	// passed to Unsubscribe.
	Subscribe() (string, chan string)
	// SubscribeTicks returns a channel receiving tick payloads only.
	SubscribeTicks() (string, chan string)
	// Unsubscribe removes and closes a subscription.
	Unsubscribe(string)
	// SendCommand writes the provided command to the console.
	SendCommand(string) error
	// Monitor reads the console and fans lines out to subscribers.
	Monitor(context.Context) error
	// Stats reports the lines seen so far by type.
	Stats() LineStats
	// Close closes all subscribed channels and the port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux reading from port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port: port,
		subs: make(map[string]subscription),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) subscribe(ticksOnly bool) (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subs[id] = subscription{ch: ch, ticksOnly: ticksOnly}
	return id, ch
}

// Subscribe registers a console subscriber. Lines are dropped for a
// subscriber that is not ready to receive.
func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.subscribe(false) }

// SubscribeTicks registers a subscriber for tick payloads.
func (s *SerialMux[T]) SubscribeTicks() (string, chan string) { return s.subscribe(true) }

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		close(sub.ch)
		delete(s.subs, id)
	}
}

// Stats returns the line counters.
func (s *SerialMux[T]) Stats() LineStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the serial port and fans them out to subscribers
// until ctx is cancelled, the port reaches EOF or Close is called.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			if !s.dispatch(line) {
				return nil
			}
		}
	}
}

// dispatch classifies line and delivers it. It reports false once the mux
// is closing.
func (s *SerialMux[T]) dispatch(line string) bool {
	kind := ClassifyLine(line)
	if kind == LineTypeLog {
		monitoring.Logf("[gateway] %s", line)
	}
	payload := strings.TrimSpace(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.stats.count(kind)
	for id, sub := range s.subs {
		out := line
		if sub.ticksOnly {
			if kind != LineTypeTick {
				continue
			}
			out = payload
		}
		select {
		case sub.ch <- out:
		default:
			// never block the reader on a slow subscriber
			s.stats.Dropped++
			monitoring.Logf("[SerialMux] subscriber %s full, dropped %s line", id, kind)
		}
	}
	return true
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	s.closing = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes mounts the console page, the command endpoint, line
// statistics and the live tail stream under /debug/.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "gateway console", func(w http.ResponseWriter, r *http.Request) {
		if err := sendCommandTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	debug.HandleFunc("serial-stats", "console line counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	// Server-Sent Events of console lines; ?ticks=1 restricts the stream to
	// tick payloads.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		var id string
		var c chan string
		if r.URL.Query().Get("ticks") == "1" {
			id, c = s.SubscribeTicks()
		} else {
			id, c = s.Subscribe()
		}
		defer s.Unsubscribe(id)

		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, adminTemplateFS, "templates/tail.js")
	})
}
