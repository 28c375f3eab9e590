package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() otpauth.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *otpauth.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render as text/plain.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. It is empty while metrics are
// disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var w textWriter
	w.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		w.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		w.histogram(def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])))
	}
	w.counter("otpauth_audit_dropped_total", "Audit events dropped on a full dispatcher buffer.", dropped)

	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) header(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *textWriter) sample(name string, value uint64) {
	w.WriteString(name)
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(value, 10))
	w.WriteByte('\n')
}

func (w *textWriter) counter(name, help string, value uint64) {
	w.header(name, help, "counter")
	w.sample(name, value)
}

func (w *textWriter) histogram(name, help string, cumulative [8]uint64) {
	w.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.sample(name+`_bucket{le="`+le+`"}`, cumulative[i])
	}
	w.sample(name+"_count", cumulative[len(cumulative)-1])
	// Snapshots carry no sum.
	w.sample(name+"_sum", 0)
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
