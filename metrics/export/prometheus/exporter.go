// Package prometheus renders tabauth counters in the Prometheus text
// exposition format, without pulling in a client library: the metric
// surface is a fixed table of monotonic counters.
package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	tabauth "github.com/prosecheck/tabauth"
)

type metricsSource interface {
	MetricsSnapshot() tabauth.MetricsSnapshot
	EventsDropped() uint64
}

// Exporter renders coordinator metrics in Prometheus text format.
type Exporter struct {
	source metricsSource
}

// NewExporter creates an Exporter reading from the given [tabauth.Coordinator].
func NewExporter(coord *tabauth.Coordinator) *Exporter {
	return &Exporter{source: coord}
}

// NewExporterFromSource creates an Exporter from a custom source.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the rendered metrics.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render writes every non-zero counter plus the dispatcher drop count.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()

	lines := make([]string, 0, len(snapshot.Counters)+1)
	for id, value := range snapshot.Counters {
		name := tabauth.MetricName(id)
		if name == "" {
			continue
		}
		lines = append(lines, counterBlock(name, value))
	}
	if dropped := e.source.EventsDropped(); dropped > 0 {
		lines = append(lines, counterBlock("tabauth_events_dropped_total", dropped))
	}

	sort.Strings(lines)
	return strings.Join(lines, "")
}

func counterBlock(name string, value uint64) string {
	var b strings.Builder
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
	return b.String()
}
