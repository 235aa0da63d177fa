// Package metrics exposes Prometheus counters for the automation stack.
// A nil *Recorder is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder holds the counters registered on one registry.
type Recorder struct {
	oracleCalls    *prometheus.CounterVec
	decodeFallback *prometheus.CounterVec
	turns          *prometheus.CounterVec
	deviceActions  *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
}

// New registers the counters on registry. A nil registry yields a nil Recorder.
func New(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		return nil
	}

	r := &Recorder{
		oracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uta_oracle_calls_total",
				Help: "Decision oracle calls by request kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		decodeFallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uta_oracle_decode_fallback_total",
				Help: "Oracle responses recovered by the key/value fallback decoder",
			},
			[]string{"kind"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uta_loop_turns_total",
				Help: "Automation loop turns by the state they ended in",
			},
			[]string{"state"},
		),
		deviceActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uta_device_actions_total",
				Help: "Device actions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uta_tasks_finished_total",
				Help: "Tasks that reached a terminal result, by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		r.oracleCalls,
		r.decodeFallback,
		r.turns,
		r.deviceActions,
		r.tasksFinished,
	)
	return r
}

// OracleCall counts one oracle request.
func (r *Recorder) OracleCall(kind string, err error) {
	if r != nil {
		r.oracleCalls.WithLabelValues(kind, outcome(err)).Inc()
	}
}

// DecodeFallback counts one response recovered by the fallback decoder.
func (r *Recorder) DecodeFallback(kind string) {
	if r != nil {
		r.decodeFallback.WithLabelValues(kind).Inc()
	}
}

// Turn counts one loop turn.
func (r *Recorder) Turn(state string) {
	if r != nil {
		r.turns.WithLabelValues(state).Inc()
	}
}

// DeviceAction counts one action sent to the device.
func (r *Recorder) DeviceAction(kind string, err error) {
	if r != nil {
		r.deviceActions.WithLabelValues(kind, outcome(err)).Inc()
	}
}

// TaskFinished counts a task reaching a terminal status.
func (r *Recorder) TaskFinished(status string) {
	if r != nil {
		r.tasksFinished.WithLabelValues(status).Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
