package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// PushJob is the Pushgateway job name for a run.
const PushJob = "room_progress"

// WriteTextfile writes the gathered metrics in the text exposition format
// for node_exporter's textfile collector. The file is replaced atomically so
// the collector never reads a partial file.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeFamilies(tmp, families); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting textfile mode: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func encodeFamilies(f *os.File, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Push sends the gathered metrics to a Pushgateway under PushJob, replacing
// whatever the previous run pushed. The run id travels in room_progress_info.
func Push(ctx context.Context, url string, gatherer prometheus.Gatherer) error {
	if err := push.New(url, PushJob).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
