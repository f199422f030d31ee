package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "satellited"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	activeTimers    prom.Gauge
	timerEvents     *prom.CounterVec
	menuWrites      *prom.CounterVec
	menuTransitions *prom.CounterVec
	alarmSessions   *prom.CounterVec
	actions         *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg,
// together with the Go and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	pr := &PrometheusRecorder{
		activeTimers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_active",
			Help:      "Timers currently scheduled to fire",
		}),
		timerEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "timer_events_total",
			Help:      "Timer lifecycle events",
		}, []string{"event"}),
		menuWrites: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "menu_writes_total",
			Help:      "Menu attribute writes to the state store by result",
		}, []string{"result"}),
		menuTransitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "menu_transitions_total",
			Help:      "Menu open/close transitions",
		}, []string{"to"}),
		alarmSessions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_sessions_total",
			Help:      "Alarm sessions by final outcome",
		}, []string{"outcome"}),
		actions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions handled by the router",
		}, []string{"action", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			pr.activeTimers, pr.timerEvents, pr.menuWrites,
			pr.menuTransitions, pr.alarmSessions, pr.actions,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return pr
}

func (p *PrometheusRecorder) SetActiveTimers(n int) {
	p.activeTimers.Set(float64(n))
}

func (p *PrometheusRecorder) IncTimerEvent(event string) {
	p.timerEvents.WithLabelValues(event).Inc()
}

func (p *PrometheusRecorder) IncMenuWrite(result ResultLabel) {
	p.menuWrites.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncMenuTransition(to string) {
	p.menuTransitions.WithLabelValues(to).Inc()
}

func (p *PrometheusRecorder) IncAlarmSession(outcome string) {
	p.alarmSessions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncAction(action string, result ResultLabel) {
	p.actions.WithLabelValues(action, string(result)).Inc()
}
