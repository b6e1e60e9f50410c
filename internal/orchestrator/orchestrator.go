// Package orchestrator drives a room-progress run: it decides which days to
// process, feeds each day's events through the World, aggregates the closed
// segments and publishes the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/logging"
	"github.com/randomizedcoder/go-room-progress/internal/session"
	"github.com/randomizedcoder/go-room-progress/internal/source"
	"github.com/randomizedcoder/go-room-progress/internal/stats"
	"github.com/randomizedcoder/go-room-progress/internal/storage"
)

// publishTimeout bounds the final writes when the run context is already
// cancelled.
const publishTimeout = 30 * time.Second

// Config holds the run parameters.
type Config struct {
	// Start is the first day processed on a cold start.
	Start time.Time

	// End is the exclusive last day, normally today (UTC).
	End time.Time

	// NoPublish starts cold and never touches the stores.
	NoPublish bool

	// Durations collects success and failure duration series.
	Durations bool

	// RunID tags log lines and snapshots. Generated when empty.
	RunID string
}

// Deps are the collaborators of a run. Stores may be nil with NoPublish.
type Deps struct {
	Source     source.Source
	Classifier *events.Classifier
	Channels   []events.Channel

	Metrics *storage.MetricsStore
	World   *storage.WorldStore

	Anomalies *logging.AnomalyLog
	Observers []Observer

	// Out receives the per-day histograms. Defaults to io.Discard.
	Out io.Writer
}

// Orchestrator runs the day loop.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	order     *events.MilestoneOrder
	worldOpts []session.Option
	world     *session.World
	period    *stats.PeriodSummary
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Anomalies == nil {
		deps.Anomalies = logging.NewAnomalyLog(logger, false)
	}
	logger = logger.With("run_id", cfg.RunID)

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		order:  deps.Classifier.Order(),
	}
	o.worldOpts = []session.Option{
		session.WithLogger(logger),
		session.WithRunID(cfg.RunID),
		session.WithAnomalyFunc(func(kind string, ev events.Event) {
			o.deps.Anomalies.Record(kind, ev.RoomID, ev.String())
		}),
	}
	return o
}

// RunID returns the id of this run.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// World returns the current world. It is only meaningful after Run.
func (o *Orchestrator) World() *session.World {
	return o.world
}

// Run processes every day from the resume point up to Config.End and
// publishes the results unless NoPublish is set. The returned Result is
// never nil. A day that fails to fetch for any reason other than a missing
// index stops the loop; everything before it is still published and the
// fetch error is returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	metrics, cold, err := o.load(ctx)
	if err != nil {
		return &Result{Period: stats.NewPeriodSummary(o.order, o.deps.Channels)}, err
	}

	plan, err := o.plan(metrics, cold)
	if err != nil {
		return &Result{Period: stats.NewPeriodSummary(o.order, o.deps.Channels)}, err
	}
	if cold {
		metrics = nil
	}

	o.period = stats.NewPeriodSummary(o.order, o.deps.Channels)
	res := &Result{
		Plan:   plan,
		Period: o.period,
	}

	o.logger.Info("run_starting",
		"start", plan.Start.Format(stats.DateLayout),
		"end", plan.End.Format(stats.DateLayout),
		"days", plan.Days,
		"cold_start", plan.ColdStart,
		"no_publish", o.cfg.NoPublish,
	)
	for _, obs := range o.deps.Observers {
		obs.ObserveStart(plan)
	}

	var runErr error
	index := 0
	for day := range days(plan.Start, plan.End) {
		index++
		if err := ctx.Err(); err != nil {
			o.logger.Info("context_cancelled", "day", day.Format(stats.DateLayout))
			res.StoppedAt = day
			runErr = err
			break
		}

		report, err := o.processDay(ctx, day, index)
		if err != nil {
			o.logger.Error("day_failed",
				"day", day.Format(stats.DateLayout),
				"error", err,
			)
			res.StoppedAt = day
			runErr = fmt.Errorf("processing %s: %w", day.Format(stats.DateLayout), err)
			break
		}

		if report.Skipped {
			res.DaysSkipped++
		} else {
			res.DaysProcessed++
			metrics = append(metrics, report.Summary.AsDayMetrics(day))
			res.Period.Append(report.Summary)
		}
		report.Anomalies = o.deps.Anomalies.Counts()
		for _, obs := range o.deps.Observers {
			obs.ObserveDay(report)
		}
	}
	res.Metrics = metrics

	if !o.cfg.NoPublish {
		if err := o.publish(ctx, metrics); err != nil {
			runErr = errors.Join(runErr, err)
		} else {
			res.Published = true
		}
	}

	res.Duration = time.Since(startTime)
	o.logger.Info("run_complete",
		"days_processed", res.DaysProcessed,
		"days_skipped", res.DaysSkipped,
		"open_rooms", o.world.OpenRooms(),
		"anomalies", o.deps.Anomalies.Summary(),
		"published", res.Published,
		"duration", res.Duration.String(),
	)
	return res, runErr
}

// load reads the persisted metrics and world. cold reports that the stored
// state cannot be resumed from; o.world is always set.
func (o *Orchestrator) load(ctx context.Context) (metrics []stats.DayMetrics, cold bool, err error) {
	if o.cfg.NoPublish {
		o.world = session.NewWorld(o.worldOpts...)
		return nil, true, nil
	}

	version, metrics, err := o.deps.Metrics.Read(ctx)
	if err != nil {
		o.world = session.NewWorld(o.worldOpts...)
		return nil, false, err
	}

	world, err := o.deps.World.Read(ctx, o.worldOpts...)
	o.world = world
	if err == nil && len(metrics) > 0 {
		err = inStep(world, metrics[len(metrics)-1])
	}
	if err != nil {
		if len(metrics) > 0 {
			o.logger.Warn("world_state_unreadable", "error", err, "action", "recompute_from_beginning")
		}
		return metrics, true, nil
	}

	switch {
	case len(metrics) == 0:
		return nil, true, nil
	case version < storage.MetricsVersion:
		o.logger.Info("metrics_version_changed",
			"stored", version,
			"current", storage.MetricsVersion,
			"action", "recompute_from_beginning",
		)
		return metrics, true, nil
	}
	return metrics, false, nil
}

// inStep checks that the world snapshot was taken through the last stored
// metrics day. A publish that wrote the world but not the metrics leaves the
// world ahead, and replaying those days would apply their events twice.
func inStep(w *session.World, last stats.DayMetrics) error {
	day, err := last.Day()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStateUnreadable, err)
	}
	if through := w.Through(); !through.Equal(day) {
		got := "unset"
		if !through.IsZero() {
			got = through.Format(stats.DateLayout)
		}
		return fmt.Errorf("%w: world snapshot through %s, metrics through %s",
			storage.ErrStateUnreadable, got, last.Date)
	}
	return nil
}

// plan picks the first day. A cold start discards the stored world.
func (o *Orchestrator) plan(metrics []stats.DayMetrics, cold bool) (Plan, error) {
	p := Plan{
		RunID:     o.cfg.RunID,
		Start:     utcDay(o.cfg.Start),
		End:       utcDay(o.cfg.End),
		ColdStart: cold,
	}

	if cold {
		o.world = session.NewWorld(o.worldOpts...)
	} else {
		last, err := metrics[len(metrics)-1].Day()
		if err != nil {
			return p, fmt.Errorf("last stored metrics record: %w", err)
		}
		p.Start = last.AddDate(0, 0, 1)
	}

	for range days(p.Start, p.End) {
		p.Days++
	}
	return p, nil
}

// processDay fetches, classifies and aggregates one day. On a fetch error
// the world and the anomaly counts are rolled back to their state before
// the day.
func (o *Orchestrator) processDay(ctx context.Context, day time.Time, index int) (DayReport, error) {
	started := time.Now()
	iso := day.Format(stats.DateLayout)
	o.logger.Info("day_processing", "day", iso)

	report := DayReport{Day: day, Index: index}
	before := o.world.Snapshot()
	anomalies := o.deps.Anomalies.Counts()

	var fetchErr error
	records := o.deps.Source.Day(ctx, day)
	evs := o.classify(records, &report, &fetchErr)

	var segs []*session.Segment
	closed := o.world.Process(evs)
	if o.cfg.Durations {
		closed = collect(closed, &segs)
	}
	summary := stats.CountDay(closed, o.order, o.deps.Channels)

	switch {
	case errors.Is(fetchErr, source.ErrDayNotFound):
		o.logger.Info("day_skipped", "day", iso, "reason", "index not found")
		report.Skipped = true
		report.OpenRooms = o.world.OpenRooms()
		report.InSession = o.world.InSessionRooms()
		report.Elapsed = time.Since(started)
		return report, nil
	case fetchErr != nil:
		o.world, _ = session.Restore(before, o.worldOpts...)
		o.deps.Anomalies.RestoreCounts(anomalies)
		return report, fetchErr
	}
	o.world.SetThrough(day)

	if o.cfg.Durations {
		o.period.AddDurations(
			stats.SuccessDurations(slices.Values(segs), o.order),
			stats.FailureDurations(slices.Values(segs), o.order),
		)
	}

	report.Summary = summary
	report.OpenRooms = o.world.OpenRooms()
	report.InSession = o.world.InSessionRooms()
	report.Elapsed = time.Since(started)

	o.logger.Info("day_processed",
		"day", iso,
		"records", report.Records,
		"malformed", report.Malformed,
		"segments", summary.Segments(),
		"open_rooms", report.OpenRooms,
		"elapsed", report.Elapsed.String(),
	)
	o.printDay(report)
	return report, nil
}

// classify turns the raw record stream into events. Malformed records are
// counted and skipped; any other error ends the stream and is stored in
// *fetchErr.
func (o *Orchestrator) classify(records iter.Seq2[events.Record, error], report *DayReport, fetchErr *error) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		for rec, err := range records {
			if err != nil {
				if errors.Is(err, events.ErrMalformedEvent) {
					report.Malformed++
					o.deps.Anomalies.Record("malformed_event", "", err.Error())
					continue
				}
				*fetchErr = err
				return
			}

			report.Records++
			ev, err := o.deps.Classifier.Classify(rec)
			if err != nil {
				report.Malformed++
				o.deps.Anomalies.Record("malformed_event", rec.RoomToken, err.Error())
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// printDay writes the day's histogram and the midnight ratio.
func (o *Orchestrator) printDay(r DayReport) {
	w := o.deps.Out
	fmt.Fprintf(w, "Furthest-state histogram for %s:\n", r.Day.Format(stats.DateLayout))
	fmt.Fprint(w, r.Summary.States.String())
	fmt.Fprintf(w, "%d sessions span midnight (%s).\n", r.OpenRooms, r.SpanMidnightPercent())
	fmt.Fprint(w, r.Summary.Format())
	fmt.Fprintln(w)
}

// publish writes the world snapshot and the metrics. A cancelled run still
// publishes what it completed.
func (o *Orchestrator) publish(ctx context.Context, metrics []stats.DayMetrics) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
	}

	if err := o.deps.World.Write(ctx, o.world); err != nil {
		return fmt.Errorf("publishing world state: %w", err)
	}
	if err := o.deps.Metrics.Write(ctx, metrics); err != nil {
		return fmt.Errorf("publishing metrics: %w", err)
	}
	o.logger.Info("published", "days", len(metrics), "open_rooms", o.world.OpenRooms())
	return nil
}

// days yields each UTC midnight in [start, end).
func days(start, end time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for d := utcDay(start); d.Before(end); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// collect passes segments through while keeping them in *dst.
func collect(segs iter.Seq[*session.Segment], dst *[]*session.Segment) iter.Seq[*session.Segment] {
	return func(yield func(*session.Segment) bool) {
		for seg := range segs {
			*dst = append(*dst, seg)
			if !yield(seg) {
				return
			}
		}
	}
}
