package loop

import "github.com/prometheus/client_golang/prometheus"

// Recorder receives measurement-loop events for export. The loop always
// has one; NoopRecorder keeps the hot path free of nil checks when
// metrics are disabled.
type Recorder interface {
	CycleCompleted()
	TransmitFailure()
	QueueDepth(n int)
	QueueEviction()
	SensorFault(name string)
}

// NoopRecorder discards every event.
type NoopRecorder struct{}

func (NoopRecorder) CycleCompleted()    {}
func (NoopRecorder) TransmitFailure()   {}
func (NoopRecorder) QueueDepth(int)     {}
func (NoopRecorder) QueueEviction()     {}
func (NoopRecorder) SensorFault(string) {}

var _ Recorder = NoopRecorder{}

// PrometheusRecorder exports loop events as Prometheus metrics.
type PrometheusRecorder struct {
	cycles    prometheus.Counter
	txFail    prometheus.Counter
	depth     prometheus.Gauge
	evictions prometheus.Counter
	faults    *prometheus.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the loop metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aqnode_cycles_completed_total",
			Help: "Measurement cycles whose record was delivered.",
		}),
		txFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aqnode_transmit_failures_total",
			Help: "Cycles whose record could not be transmitted.",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aqnode_pending_queue_depth",
			Help: "Payloads waiting in the pending queue.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aqnode_pending_queue_evictions_total",
			Help: "Oldest entries dropped by queue overflow.",
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aqnode_sensor_faults_total",
			Help: "Adapter transitions into the faulted state.",
		}, []string{"sensor"}),
	}
	reg.MustRegister(r.cycles, r.txFail, r.depth, r.evictions, r.faults)
	return r
}

func (r *PrometheusRecorder) CycleCompleted()        { r.cycles.Inc() }
func (r *PrometheusRecorder) TransmitFailure()       { r.txFail.Inc() }
func (r *PrometheusRecorder) QueueDepth(n int)       { r.depth.Set(float64(n)) }
func (r *PrometheusRecorder) QueueEviction()         { r.evictions.Inc() }
func (r *PrometheusRecorder) SensorFault(name string) { r.faults.WithLabelValues(name).Inc() }
