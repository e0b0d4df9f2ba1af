// Package natsbus subscribes to the gateway's tick subject on a NATS server
// and exposes the payloads as lines.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned by Run before a successful Connect.
var ErrNotConnected = errors.New("not connected to NATS")

const (
	defaultQueueSize     = 64
	defaultReconnectWait = 2 * time.Second
	defaultClientName    = "occupancy"
)

// Config contains configuration for Source.
type Config struct {
	URL     string
	Subject string
	// ClientName is reported to the server; defaults to "occupancy".
	ClientName string
	// MaxReconnects of -1 retries forever.
	MaxReconnects int
	ReconnectWait time.Duration
	// QueueSize bounds the payloads buffered ahead of the consumer. When
	// full, the oldest payload is dropped.
	QueueSize int
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Source forwards every message on the subject to Lines.
type Source struct {
	cfg    Config
	logger *log.Logger

	connMu sync.Mutex
	conn   *nats.Conn

	outMu  sync.Mutex
	out    chan string
	closed bool

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewSource creates a Source. Call Connect then Run.
func NewSource(cfg Config) *Source {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaultReconnectWait
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Source{
		cfg:    cfg,
		logger: logger,
		out:    make(chan string, cfg.QueueSize),
	}
}

// Lines returns the payload channel. It is closed when Run returns.
func (s *Source) Lines() <-chan string { return s.out }

// Received returns the number of messages delivered to the source.
func (s *Source) Received() uint64 { return s.received.Load() }

// Dropped returns the number of payloads discarded because the queue was full.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

func (s *Source) options() []nats.Option {
	return []nats.Option{
		nats.Name(s.cfg.ClientName),
		nats.MaxReconnects(s.cfg.MaxReconnects),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Printf("[NATS] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Printf("[NATS] reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.logger.Printf("[NATS] connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Printf("[NATS] error: %v", err)
		}),
	}
}

// Connect dials the server, giving up when ctx is done.
func (s *Source) Connect(ctx context.Context) error {
	s.logger.Printf("[NATS] connecting to %s", s.cfg.URL)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(s.cfg.URL, s.options()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("connect to %s: %w", s.cfg.URL, r.err)
		}
		s.connMu.Lock()
		s.conn = r.conn
		s.connMu.Unlock()
		s.logger.Printf("[NATS] connected to %s", r.conn.ConnectedUrl())
		return nil
	case <-ctx.Done():
		// Close a connection that completes after we gave up.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("connect to %s: %w", s.cfg.URL, ctx.Err())
	}
}

// Run subscribes to the subject and blocks until ctx is cancelled. The
// subscription is drained and the connection closed before Run returns.
func (s *Source) Run(ctx context.Context) error {
	defer s.closeOut()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	defer conn.Close()

	sub, err := conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}
	s.logger.Printf("[NATS] subscribed to %s", s.cfg.Subject)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.logger.Printf("[NATS] drain %s: %v", s.cfg.Subject, err)
	}
	s.logger.Printf("[NATS] unsubscribed from %s after %d messages (%d dropped)",
		s.cfg.Subject, s.Received(), s.Dropped())
	return nil
}

// deliver queues one payload, evicting the oldest queued payload when the
// consumer has fallen behind.
func (s *Source) deliver(data []byte) {
	s.received.Add(1)
	line := string(data)

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.out <- line:
			return
		default:
		}
		select {
		case <-s.out:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Source) closeOut() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
