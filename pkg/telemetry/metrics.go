// Package telemetry carries the observability surfaces of a session:
// prometheus metrics, opentelemetry spans and the event hub embedders
// subscribe to.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "constellation"

var (
	metricPipelinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipelines_active",
		Help:      "Pipelines launched and not yet torn down.",
	})
	metricPipelinesLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_launched_total",
		Help:      "Pipelines launched, by mode.",
	})
	metricPipelinesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_closed_total",
		Help:      "Pipelines whose exit handshake completed, by outcome.",
	}, []string{"outcome"})
	metricChaosClosures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chaos_closures_total",
		Help:      "Close requests synthesized by the fault-injection hook.",
	})
	metricEpochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "epochs_total",
		Help:      "Display-list epochs seen by the compositor, by result.",
	}, []string{"result"})
	metricFramesPresented = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_presented_total",
		Help:      "Frames composited and presented.",
	})
	metricScreenshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "screenshots_total",
		Help:      "Screenshot requests resolved, by outcome.",
	}, []string{"outcome"})
	metricDroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Messages dropped because the receiving actor was gone.",
	}, []string{"target"})
	metricStaleReferences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_references_total",
		Help:      "Tree traversals that skipped an already-removed context or pipeline.",
	})
	metricInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invariant_violations_total",
		Help:      "Protocol invariant violations logged and degraded.",
	})
	metricHubDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_events_dropped_total",
		Help:      "Session events dropped for slow subscribers.",
	})
)

// Pipeline close outcomes.
const (
	OutcomeExited       = "exited"
	OutcomeDisconnected = "disconnected"
	OutcomeTimedOut     = "timed_out"
)

// Screenshot outcomes.
const (
	ScreenshotOK       = "ok"
	ScreenshotGone     = "webview_gone"
	ScreenshotReadback = "readback_failed"
)

func RecordPipelineLaunched() {
	metricPipelinesLaunched.Inc()
	metricPipelinesActive.Inc()
}

func RecordPipelineClosed(outcome string) {
	metricPipelinesClosed.WithLabelValues(outcome).Inc()
	metricPipelinesActive.Dec()
}

func RecordChaosClose() {
	metricChaosClosures.Inc()
}

func RecordEpoch(accepted bool) {
	if accepted {
		metricEpochs.WithLabelValues("accepted").Inc()
		return
	}
	metricEpochs.WithLabelValues("rejected").Inc()
}

func RecordFramePresented() {
	metricFramesPresented.Inc()
}

func RecordScreenshot(outcome string) {
	metricScreenshots.WithLabelValues(outcome).Inc()
}

func RecordDroppedMessage(target string) {
	metricDroppedMessages.WithLabelValues(target).Inc()
}

func RecordStaleReference() {
	metricStaleReferences.Inc()
}

func RecordInvariantViolation() {
	metricInvariantViolations.Inc()
}

func RecordHubDrop() {
	metricHubDrops.Inc()
}
