package orchestrator

import (
	"fmt"
	"io"

	"github.com/randomizedcoder/go-room-progress/internal/logging"
	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// PrintExitSummary writes the run summary followed by the period summary.
func PrintExitSummary(w io.Writer, res *Result, anomalies *logging.AnomalyLog) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                          room-progress Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run ID:                 %s\n", res.Plan.RunID)
	fmt.Fprintf(w, "Run Duration:           %s\n", stats.FormatDuration(res.Duration))
	if res.Plan.Days > 0 {
		fmt.Fprintf(w, "Period:                 %s .. %s\n",
			res.Plan.Start.Format(stats.DateLayout),
			res.Plan.End.AddDate(0, 0, -1).Format(stats.DateLayout))
	}
	fmt.Fprintf(w, "Cold Start:             %v\n", res.Plan.ColdStart)
	fmt.Fprintf(w, "Days Processed:         %d\n", res.DaysProcessed)
	fmt.Fprintf(w, "Days Skipped:           %d\n", res.DaysSkipped)
	if !res.StoppedAt.IsZero() {
		fmt.Fprintf(w, "Stopped At:             %s\n", res.StoppedAt.Format(stats.DateLayout))
	}
	fmt.Fprintf(w, "Published:              %v\n", res.Published)
	fmt.Fprintln(w)

	if anomalies != nil && anomalies.Total() > 0 {
		fmt.Fprintln(w, "Anomalies:")
		fmt.Fprintf(w, "  %s\n", anomalies.Summary())
		for _, line := range anomalies.RecentLines(5) {
			fmt.Fprintf(w, "  %s\n", line)
		}
		fmt.Fprintln(w)
	}

	if res.Period != nil {
		fmt.Fprint(w, res.Period.Format())
	}
}
