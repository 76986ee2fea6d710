package alert

import (
	"btc-signal-desk/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Runs             *prometheus.CounterVec
	Evaluated        prometheus.Counter
	Triggered        prometheus.Counter
	Sent             prometheus.Counter
	DeliveryFailures prometheus.Counter
	PersistFailures  prometheus.Counter
	LastPrice        prometheus.Gauge
	LastRun          prometheus.Gauge
	RunDuration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "runs_total",
			Help:      "Alert runs by outcome",
		}, []string{"outcome"}),
		Evaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "alerts_evaluated_total",
			Help:      "Alerts evaluated against the run price",
		}),
		Triggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "alerts_triggered_total",
			Help:      "Alerts whose rule fired",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "emails_sent_total",
			Help:      "Notifications delivered",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "delivery_failures_total",
			Help:      "Notifications the notifier rejected",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "persist_failures_total",
			Help:      "Notifications sent whose last_sent_at could not be stored",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "last_price_usd",
			Help:      "Price used by the latest run",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the latest run",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "btc_signal_desk",
			Subsystem: "alert_worker",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full alert run",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Runs, m.Evaluated, m.Triggered, m.Sent, m.DeliveryFailures,
		m.PersistFailures, m.LastPrice, m.LastRun, m.RunDuration)
	return m
}

func (m *Metrics) observe(r types.RunReport) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !r.OK() {
		outcome = "partial"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.Evaluated.Add(float64(r.Evaluated))
	m.Triggered.Add(float64(r.Triggered))
	m.Sent.Add(float64(r.Sent))
	m.DeliveryFailures.Add(float64(len(r.DeliveryFailures)))
	m.PersistFailures.Add(float64(len(r.PersistFailures)))
	m.LastPrice.Set(r.Price)
	m.LastRun.Set(float64(r.StartedAt.Unix()))
	m.RunDuration.Observe(r.Duration.Seconds())
}

func (m *Metrics) failed(stage string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(stage).Inc()
}
