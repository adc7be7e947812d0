// Package metrics exposes import and generation counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/movimentacao/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "movimentacao_"

// Metrics implements core.Recorder.
type Metrics struct {
	imports       *prometheus.CounterVec
	importedRows  prometheus.Counter
	importSeconds *prometheus.HistogramVec
	generated     prometheus.Counter
	generatedRows prometheus.Counter
	workspaces    prometheus.Gauge
}

var _ core.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	reg = prometheus.WrapRegistererWithPrefix(Namespace, reg)

	m := &Metrics{
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imports_total",
			Help: "Spreadsheet imports by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		importedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imported_rows_total",
			Help: "Rows loaded by successful imports.",
		}),
		importSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "import_duration_seconds",
			Help:    "Wall time from upload to completion.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"strategy"}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "files_generated_total",
			Help: "Movement files generated.",
		}),
		generatedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generated_records_total",
			Help: "Records written to generated movement files.",
		}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workspaces_active",
			Help: "Workspaces held in memory.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.imports, m.importedRows, m.importSeconds, m.generated, m.generatedRows, m.workspaces,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ImportFinished records one finished import. Imports that failed before a
// strategy was chosen are labelled "none".
func (m *Metrics) ImportFinished(strategy core.Strategy, outcome string, rows int, d time.Duration) {
	label := string(strategy)
	if label == "" {
		label = "none"
	}
	m.imports.WithLabelValues(label, outcome).Inc()
	m.importSeconds.WithLabelValues(label).Observe(d.Seconds())
	if rows > 0 {
		m.importedRows.Add(float64(rows))
	}
}

// FileGenerated records one generated file.
func (m *Metrics) FileGenerated(records int) {
	m.generated.Inc()
	m.generatedRows.Add(float64(records))
}

// WorkspacesActive sets the workspace gauge.
func (m *Metrics) WorkspacesActive(n int) {
	m.workspaces.Set(float64(n))
}

// LimiterCollector exports import limiter occupancy at scrape time.
type LimiterCollector struct {
	status func() core.ImportLimiterStatus
	active *prometheus.Desc
	max    *prometheus.Desc
}

// NewLimiterCollector reads status on every scrape.
func NewLimiterCollector(status func() core.ImportLimiterStatus) *LimiterCollector {
	return &LimiterCollector{
		status: status,
		active: prometheus.NewDesc(Namespace+"import_slots_active", "Import slots in use.", nil, nil),
		max:    prometheus.NewDesc(Namespace+"import_slots_max", "Import slot capacity.", nil, nil),
	}
}

func (c *LimiterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.max
}

func (c *LimiterCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.status()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(st.Active))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(st.MaxConcurrent))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
