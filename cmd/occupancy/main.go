package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/metrics"
	"github.com/banshee-data/occupancy.report/internal/natsbus"
	"github.com/banshee-data/occupancy.report/internal/replay"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/version"
)

var (
	configPath    = flag.String("config", config.ExampleConfigPath, "Path to the site configuration (.yaml or .json)")
	dbPath        = flag.String("db-path", "occupancy.db", "Path to the SQLite count store")
	listen        = flag.String("listen", ":8080", "Listen address")
	source        = flag.String("source", sourceSerial, "Tick source: serial, nats or replay")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port to use, or \"mock\" for a synthetic feed")
	baud          = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	natsURL       = flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	natsSubject   = flag.String("nats-subject", "", "NATS subject carrying tick payloads (default derived from the site config)")
	replayFile    = flag.String("replay-file", "", "Recording to replay when -source=replay")
	replaySpeed   = flag.Float64("replay-speed", 1, "Replay speed factor; 0 replays as fast as possible")
	verboseEvents = flag.Bool("verbose-events", false, "Log idle and same-side observations as well as crossings")
	versionFlag   = flag.Bool("version", false, "Print version and exit")
)

const (
	sourceSerial = "serial"
	sourceNATS   = "nats"
	sourceReplay = "replay"
)

func validateFlags() error {
	if *listen == "" {
		return errors.New("listen address is required")
	}
	switch *source {
	case sourceSerial:
		if *port == "" {
			return errors.New("serial port is required with -source=serial")
		}
	case sourceNATS:
		if *natsURL == "" {
			return errors.New("-nats-url is required with -source=nats")
		}
	case sourceReplay:
		if *replayFile == "" {
			return errors.New("-replay-file is required with -source=replay")
		}
		if *replaySpeed < 0 {
			return fmt.Errorf("-replay-speed must not be negative, got %v", *replaySpeed)
		}
	default:
		return fmt.Errorf("unknown -source %q: expected serial, nats or replay", *source)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}
	if err := validateFlags(); err != nil {
		log.Fatal(err)
	}

	site, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load site config %s: %v", *configPath, err)
	}
	log.Printf("%s: sensor=%s boundary=%s flush=%v",
		version.String(), site.SensorID, site.Boundary.Geometry(), site.GetFlushInterval())

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	m := metrics.New(site.SensorID)
	p, err := newPipeline(site, database, m, os.Stdout, *verboseEvents)
	if err != nil {
		log.Fatalf("failed to build counting pipeline: %v", err)
	}

	// Create a wait group for the HTTP server, source and counting routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serialMux, lines, err := startSource(ctx, &wg, site)
	if err != nil {
		log.Fatalf("failed to start %s source: %v", *source, err)
	}
	defer serialMux.Close()

	// counting routine; a finished replay shuts the process down
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.run(ctx, lines); err != nil {
			log.Printf("counting pipeline error: %v", err)
		}
		log.Print("counting routine terminated")
		stop()
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.ServerConfig{
			SerialMux: serialMux,
			Store:     database,
			Live:      p.aggregator,
			Flusher:   p.flusher,
			Site:      site,
			Metrics:   m.Handler(),
		}).ServeMux()

		// mount the admin debugging routes (accessible only over loopback or Tailscale)
		database.AttachAdminRoutes(mux)
		serialMux.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// startSource starts the configured tick source and returns the payload
// channel. The returned mux is the serial device for -source=serial and a
// disabled stand-in otherwise, so admin routes are always mounted.
func startSource(ctx context.Context, wg *sync.WaitGroup, site *config.SiteConfig) (serialmux.SerialMuxInterface, <-chan string, error) {
	switch *source {
	case sourceNATS:
		subject := *natsSubject
		if subject == "" {
			subject = site.DefaultSubject()
		}
		src := natsbus.NewSource(natsbus.Config{
			URL:           *natsURL,
			Subject:       subject,
			MaxReconnects: -1,
		})
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := src.Connect(connectCtx); err != nil {
			return nil, nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx); err != nil {
				log.Printf("NATS source error: %v", err)
			}
		}()
		return serialmux.NewDisabledSerialMux(), src.Lines(), nil

	case sourceReplay:
		f, err := os.Open(*replayFile)
		if err != nil {
			return nil, nil, err
		}
		lines := make(chan string)
		player := &replay.Player{Speed: *replaySpeed}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.Close()
			defer close(lines)
			stats, err := player.Play(ctx, f, lines)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("replay error: %v", err)
			}
			log.Printf("replay finished: played=%d skipped=%d", stats.Played, stats.Skipped)
		}()
		return serialmux.NewDisabledSerialMux(), lines, nil
	}

	m, err := serialmux.OpenGateway(*port, serialmux.PortOptions{BaudRate: *baud})
	if err != nil {
		return nil, nil, err
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	lines := make(chan string, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(lines)
		serialmux.ForwardTicks(ctx, m, lines)
		log.Print("subscribe routine terminated")
	}()
	return m, lines, nil
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db-path", "occupancy.db", "Path to the SQLite count store")
	fs.Usage = func() { db.PrintMigrateHelp(os.Stderr) }
	fs.Parse(args)

	if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}
