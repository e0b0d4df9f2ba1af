package main

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/metrics"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/tick"
)

// pipeline is the counting core for one site: decoder, driver, detector,
// aggregator and flusher.
type pipeline struct {
	site       *config.SiteConfig
	aggregator *occupancy.Aggregator
	driver     *occupancy.Driver
	flusher    *occupancy.Flusher
	metrics    *metrics.Metrics
	logger     *log.Logger
}

func newPipeline(site *config.SiteConfig, sink occupancy.CountSink, m *metrics.Metrics, events io.Writer, verbose bool) (*pipeline, error) {
	agg := occupancy.NewAggregator()
	det, err := occupancy.NewDetector(site.DetectorConfig(), agg)
	if err != nil {
		return nil, err
	}

	flusher, err := occupancy.NewFlusher(occupancy.FlusherConfig{
		Drainer:   agg,
		Sink:      sink,
		SensorID:  site.SensorID,
		Interval:  site.GetFlushInterval(),
		SkipEmpty: site.GetSkipEmptyIntervals(),
		Observer:  m,
	})
	if err != nil {
		return nil, err
	}

	eventLog := monitoring.NewEventLogger(events)
	eventLog.Verbose = verbose

	return &pipeline{
		site:       site,
		aggregator: agg,
		driver: occupancy.NewDriver(occupancy.DriverConfig{
			Detector:  det,
			TrackIDs:  site.TrackIDs,
			Observers: []occupancy.EventObserver{eventLog, m},
		}),
		flusher: flusher,
		metrics: m,
		logger:  log.Default(),
	}, nil
}

// run counts the payloads on lines until ctx is cancelled or lines is
// closed. The flusher's final interval is handed off before run returns.
func (p *pipeline) run(ctx context.Context, lines <-chan string) error {
	flushCtx, stopFlush := context.WithCancel(ctx)
	defer stopFlush()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.flusher.Run(flushCtx); err != nil {
			p.logger.Printf("flusher error: %v", err)
		}
	}()

	ticks := tick.DecodeStream(ctx, lines, tick.StreamConfig{
		Logger: p.logger,
		OnDrop: func(string, error) { p.metrics.RecordDroppedPayload() },
	})
	err := p.driver.Run(ctx, ticks)

	stopFlush()
	wg.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}
