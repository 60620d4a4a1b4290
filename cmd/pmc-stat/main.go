// pmc-stat measures hardware performance counter events for its own
// process over a fixed duration, optionally reporting interval rates,
// recording samples to a Parquet file, and serving Prometheus metrics.
package main

import (
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unvariance/pmc/pkg/metrics"
	"github.com/unvariance/pmc/pkg/pmc"
	"github.com/unvariance/pmc/pkg/trace"
	"github.com/unvariance/pmc/pkg/window"
)

func main() {
	events := flag.String("events", "instructions,cpu-cycles", "Comma-separated event names to count")
	scopeName := flag.String("scope", "process", "Measurement scope: process or system")
	duration := flag.Duration("duration", 10*time.Second, "How long to measure")
	interval := flag.Duration("interval", 0, "Interval for rate reporting (0 disables)")
	parquetPath := flag.String("parquet", "", "Record samples to this Parquet file")
	listenAddr := flag.String("metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :2112)")
	flag.Parse()

	var scope pmc.Scope
	switch *scopeName {
	case "process":
		scope = pmc.ScopeProcess
	case "system":
		scope = pmc.ScopeSystem
	default:
		log.Fatalf("Unknown scope %q\n", *scopeName)
	}

	if err := pmc.EnsureReady(); err != nil {
		log.Fatalf("Performance monitoring not available: %v\n", err)
	}

	names := strings.Split(*events, ",")
	counters := make(map[string]*pmc.Counter, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		c, err := pmc.NewCounter(name, scope)
		if err != nil {
			log.Fatalf("Failed to allocate counter %q: %v\n", name, err)
		}
		defer c.Release()
		counters[name] = c
	}

	collector := metrics.NewCollector()
	for name, c := range counters {
		collector.Track(name, c)
	}
	if *listenAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*listenAddr, nil); err != nil {
				log.Fatalf("Metrics server failed: %v\n", err)
			}
		}()
	}

	var recorder *trace.Recorder
	if *parquetPath != "" {
		w, err := trace.NewWriter(*parquetPath)
		if err != nil {
			log.Fatalf("Failed to create Parquet writer: %v\n", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("Failed to close Parquet writer: %v\n", err)
			}
		}()

		recorder = trace.NewRecorder(w)
		for name, c := range counters {
			recorder.Track(name, c)
		}
	}

	for name, c := range counters {
		if err := c.Start(); err != nil {
			log.Fatalf("Failed to start counter %q: %v\n", name, err)
		}
	}
	if recorder != nil {
		sampleEvery := *interval
		if sampleEvery == 0 {
			sampleEvery = time.Second
		}
		recorder.Start(sampleEvery)
		defer recorder.Stop()
	}

	if *interval > 0 {
		reportRates(counters, *duration, *interval)
	} else {
		time.Sleep(*duration)
	}

	for name, c := range counters {
		if err := c.Stop(); err != nil {
			log.Fatalf("Failed to stop counter %q: %v\n", name, err)
		}
		value, err := c.Read()
		if err != nil {
			log.Fatalf("Failed to read counter %q: %v\n", name, err)
		}
		log.Printf("%s: %d\n", name, value)
	}
}

// reportRates samples the counters every interval and prints per-slot
// deltas until the measurement duration elapses.
func reportRates(counters map[string]*pmc.Counter, duration, interval time.Duration) {
	w, err := window.New(window.Config{
		SlotLength: uint64(interval.Nanoseconds()),
		WindowSize: 2,
	})
	if err != nil {
		log.Fatalf("Failed to create window: %v\n", err)
	}

	printSlots := func(slots []*window.Slot) {
		for _, slot := range slots {
			for event, delta := range slot.Deltas {
				rate := float64(delta) / interval.Seconds()
				log.Printf("%s: %d (%.0f/s)\n", event, delta, rate)
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(duration)

	for {
		select {
		case <-deadline:
			printSlots(w.Flush())
			return
		case now := <-ticker.C:
			ts := uint64(now.UnixNano())
			for name, c := range counters {
				value, err := c.Read()
				if err != nil {
					log.Fatalf("Failed to read counter %q: %v\n", name, err)
				}
				printSlots(w.Add(window.Sample{Event: name, Value: value, Timestamp: ts}))
			}
		}
	}
}
