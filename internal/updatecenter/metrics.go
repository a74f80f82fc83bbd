package updatecenter

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the update center's counters and gauges over Prometheus,
// alongside the Status API's own JSON view of the same state. Grounded on
// the teacher's use of client_golang for its own server-health gauges.
type Metrics struct {
	jobsTotal       *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	restartRequired prometheus.Gauge
	siteRefreshes   *prometheus.CounterVec
}

// NewMetrics registers the update center's collectors against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "updatecenter",
			Name:      "jobs_total",
			Help:      "Jobs that have reached a terminal state, by kind and final state.",
		}, []string{"kind", "state"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "updatecenter",
			Name:      "queue_depth",
			Help:      "Number of jobs ever submitted to the installer worker's queue (including completed ones).",
		}),
		restartRequired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "updatecenter",
			Name:      "restart_required",
			Help:      "1 if a pending change requires a process restart to take effect, else 0.",
		}),
		siteRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "updatecenter",
			Name:      "site_refreshes_total",
			Help:      "Update site metadata refresh attempts, by site and outcome.",
		}, []string{"site", "outcome"}),
	}
	reg.MustRegister(m.jobsTotal, m.queueDepth, m.restartRequired, m.siteRefreshes)
	return m
}

// ObserveTerminal records a job's final state once it has been dispatched.
// Non-terminal states (a job re-dispatched mid-flight never happens in this
// queue, but dispatch always calls this once at the end regardless) are
// still counted under their current state for visibility.
func (m *Metrics) ObserveTerminal(j *Job) {
	status := j.Status()
	m.jobsTotal.WithLabelValues(string(j.Kind), string(status.State)).Inc()
	if status.RequiresRestart {
		m.restartRequired.Set(1)
	}
}

// SetQueueDepth reports the current total number of jobs the queue has ever
// accepted.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// ObserveSiteRefresh records one UpdateAllSites outcome for siteID.
func (m *Metrics) ObserveSiteRefresh(siteID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.siteRefreshes.WithLabelValues(siteID, outcome).Inc()
}
