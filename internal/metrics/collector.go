// Package metrics provides Prometheus metrics for room-progress.
//
// A run is a short batch, so the metrics are mostly read once at the end:
// from the optional /metrics endpoint while the run is in progress, from a
// node_exporter textfile, or from a Pushgateway.
package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-room-progress/internal/orchestrator"
	"github.com/randomizedcoder/go-room-progress/internal/session"
	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// ConnectionBuckets covers the plausible time-to-connect range in seconds.
var ConnectionBuckets = []float64{0, 1, 2, 3, 4, 5, 7, 10, 15, 20, 25, 30, 35}

// Collector manages the Prometheus metrics for a run. It implements
// orchestrator.Observer.
type Collector struct {
	// --- Panel 1: Run Overview ---
	info          *prometheus.GaugeVec
	daysPlanned   prometheus.Gauge
	daysProcessed prometheus.Counter
	daysSkipped   prometheus.Counter
	coldStarts    prometheus.Counter
	lastDay       prometheus.Gauge
	dayDuration   prometheus.Histogram

	// --- Panel 2: Input ---
	records   prometheus.Counter
	malformed prometheus.Counter
	anomalies *prometheus.CounterVec

	// --- Panel 3: Segments ---
	segments       *prometheus.CounterVec
	connectionTime *prometheus.HistogramVec
	exceptionTime  prometheus.Histogram
	exceptions     *prometheus.CounterVec

	// --- Panel 4: World ---
	openRooms      prometheus.Gauge
	inSessionRooms prometheus.Gauge

	// Internal tracking for delta calculations
	mu            sync.Mutex
	prevAnomalies map[string]int64

	// For summary generation
	startTime    time.Time
	plan         orchestrator.Plan
	processed    int
	skipped      int
	segmentTotal int64
}

// NewCollector creates a collector registered with the default registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "room_progress_info",
				Help: "Information about the run (value always 1)",
			},
			[]string{"run_id", "cold_start"},
		),
		daysPlanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_progress_days_planned",
			Help: "Days the run intends to process",
		}),
		daysProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_progress_days_processed_total",
			Help: "Days fetched and aggregated",
		}),
		daysSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_progress_days_skipped_total",
			Help: "Days skipped because their index does not exist",
		}),
		coldStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_progress_cold_starts_total",
			Help: "Runs that recomputed from the beginning of time",
		}),
		lastDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_progress_last_day_timestamp_seconds",
			Help: "UTC midnight of the last processed day",
		}),
		dayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "room_progress_day_duration_seconds",
			Help:    "Wall time spent on one day",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_progress_records_total",
			Help: "Raw records fetched from the event source",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_progress_malformed_records_total",
			Help: "Records skipped because they could not be classified",
		}),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_progress_anomalies_total",
				Help: "Tolerated irregularities in the event stream by kind",
			},
			[]string{"kind"},
		),

		segments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_progress_segments_total",
				Help: "Closed segments by furthest state reached",
			},
			[]string{"state"},
		),
		connectionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "room_progress_connection_seconds",
				Help:    "Time from overlap start to channel establishment, connected segments only",
				Buckets: ConnectionBuckets,
			},
			[]string{"channel"},
		),
		exceptionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "room_progress_exception_seconds",
			Help:    "Time from overlap start to the first exception",
			Buckets: ConnectionBuckets,
		}),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_progress_exceptions_total",
				Help: "First exception codes of stalled segments",
			},
			[]string{"code"},
		),

		openRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_progress_open_rooms",
			Help: "Rooms with someone present at the end of the last processed day",
		}),
		inSessionRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_progress_in_session_rooms",
			Help: "Rooms holding an open segment at the end of the last processed day",
		}),

		prevAnomalies: make(map[string]int64),
		startTime:     time.Now(),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		c.info,
		c.daysPlanned,
		c.daysProcessed,
		c.daysSkipped,
		c.coldStarts,
		c.lastDay,
		c.dayDuration,

		// Panel 2: Input
		c.records,
		c.malformed,
		c.anomalies,

		// Panel 3: Segments
		c.segments,
		c.connectionTime,
		c.exceptionTime,
		c.exceptions,

		// Panel 4: World
		c.openRooms,
		c.inSessionRooms,
	)

	return c
}

// =============================================================================
// Observer
// =============================================================================

// ObserveStart records the plan of a run.
func (c *Collector) ObserveStart(p orchestrator.Plan) {
	c.mu.Lock()
	c.plan = p
	c.mu.Unlock()

	cold := "false"
	if p.ColdStart {
		cold = "true"
		c.coldStarts.Inc()
	}
	c.info.WithLabelValues(p.RunID, cold).Set(1)
	c.daysPlanned.Set(float64(p.Days))
}

// ObserveDay records one processed or skipped day.
func (c *Collector) ObserveDay(r orchestrator.DayReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records.Add(float64(r.Records))
	c.malformed.Add(float64(r.Malformed))
	c.recordAnomalies(r.Anomalies)
	c.openRooms.Set(float64(r.OpenRooms))
	c.inSessionRooms.Set(float64(r.InSession))
	c.dayDuration.Observe(r.Elapsed.Seconds())

	if r.Skipped || r.Summary == nil {
		c.skipped++
		c.daysSkipped.Inc()
		return
	}

	c.processed++
	c.daysProcessed.Inc()
	c.lastDay.Set(float64(r.Day.Unix()))
	c.recordDay(r.Summary)
}

// recordDay adds one day's aggregates.
func (c *Collector) recordDay(d *stats.DaySummary) {
	for state, n := range d.States.AsMap() {
		c.segments.WithLabelValues(string(state)).Add(float64(n))
		c.segmentTotal += n
	}

	for channel, times := range d.Times {
		h := c.connectionTime.WithLabelValues(channel)
		for _, sec := range times {
			if sec == session.UnknownSeconds {
				continue
			}
			h.Observe(float64(sec))
		}
	}

	for code, n := range d.ExceptionCodes.AsMap() {
		c.exceptions.WithLabelValues(code).Add(float64(n))
	}
	for _, sec := range d.ExceptionTimes {
		c.exceptionTime.Observe(float64(sec))
	}
}

// recordAnomalies converts cumulative counts into counter increments.
func (c *Collector) recordAnomalies(cumulative map[string]int64) {
	for kind, total := range cumulative {
		if delta := total - c.prevAnomalies[kind]; delta > 0 {
			c.anomalies.WithLabelValues(kind).Add(float64(delta))
		}
	}
	c.prevAnomalies = maps.Clone(cumulative)
	if c.prevAnomalies == nil {
		c.prevAnomalies = make(map[string]int64)
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds what the collector saw, for logging at exit.
type Summary struct {
	Duration      time.Duration
	RunID         string
	DaysPlanned   int
	DaysProcessed int
	DaysSkipped   int
	Segments      int64
	Anomalies     map[string]int64
}

// GenerateSummary creates a summary of the run so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &Summary{
		Duration:      time.Since(c.startTime),
		RunID:         c.plan.RunID,
		DaysPlanned:   c.plan.Days,
		DaysProcessed: c.processed,
		DaysSkipped:   c.skipped,
		Segments:      c.segmentTotal,
		Anomalies:     maps.Clone(c.prevAnomalies),
	}
}
