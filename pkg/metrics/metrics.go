// Package metrics exposes the Prometheus instrumentation used by the
// transaction stack, script registry, listener and monitor.
//
// Every method is safe to call on a nil *Metrics, so components can be
// built without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walrus"

// Metrics groups the collectors registered by New.
type Metrics struct {
	txBegins       prometheus.Counter
	txCommits      prometheus.Counter
	txAborts       prometheus.Counter
	txCommitErrors prometheus.Counter
	txBatchSize    prometheus.Histogram
	txActive       prometheus.Gauge

	scriptRuns   *prometheus.CounterVec
	scriptsReady prometheus.Gauge

	pubsubMessages prometheus.Counter
	monitorLines   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		txBegins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "begins_total",
			Help:      "Total number of pipelines pushed onto a transaction stack",
		}),
		txCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "commits_total",
			Help:      "Total number of pipelines sent to the store",
		}),
		txAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "aborts_total",
			Help:      "Total number of pipelines discarded without sending",
		}),
		txCommitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "commit_errors_total",
			Help:      "Total number of commits that returned an error",
		}),
		txBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "batch_commands",
			Help:      "Number of commands sent per committed pipeline",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		txActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "active_pipelines",
			Help:      "Pipelines currently open across all sessions",
		}),
		scriptRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "runs_total",
			Help:      "Total number of script invocations by name",
		}, []string{"script"}),
		scriptsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "registered",
			Help:      "Number of scripts in the active registry",
		}),
		pubsubMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_total",
			Help:      "Total number of messages delivered to listener handlers",
		}),
		monitorLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "lines_total",
			Help:      "Total number of command trace lines delivered",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.txBegins, m.txCommits, m.txAborts, m.txCommitErrors, m.txBatchSize, m.txActive,
		m.scriptRuns, m.scriptsReady, m.pubsubMessages, m.monitorLines,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TxBegin() {
	if m == nil {
		return
	}
	m.txBegins.Inc()
	m.txActive.Inc()
}

// TxCommit records a pipeline of n commands being sent.
func (m *Metrics) TxCommit(n int, err error) {
	if m == nil {
		return
	}
	m.txCommits.Inc()
	m.txActive.Dec()
	m.txBatchSize.Observe(float64(n))
	if err != nil {
		m.txCommitErrors.Inc()
	}
}

func (m *Metrics) TxAbort() {
	if m == nil {
		return
	}
	m.txAborts.Inc()
	m.txActive.Dec()
}

func (m *Metrics) ScriptRun(name string) {
	if m == nil {
		return
	}
	m.scriptRuns.WithLabelValues(name).Inc()
}

func (m *Metrics) ScriptsRegistered(n int) {
	if m == nil {
		return
	}
	m.scriptsReady.Set(float64(n))
}

func (m *Metrics) PubSubMessage() {
	if m == nil {
		return
	}
	m.pubsubMessages.Inc()
}

func (m *Metrics) MonitorLine() {
	if m == nil {
		return
	}
	m.monitorLines.Inc()
}
