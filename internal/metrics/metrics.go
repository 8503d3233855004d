package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clusterwatch"

var (
	pollFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "fetch_total",
		Help:      "Upstream fetches made by the polling loops, by view and result.",
	}, []string{"view", "result"})

	pollDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "fetch_seconds",
		Help:      "Time spent fetching and decoding one poll payload.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"view"})

	actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "action",
		Name:      "total",
		Help:      "Remote actions issued from the dashboard, by action and result.",
	}, []string{"action", "result"})

	actionsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "action",
		Name:      "in_flight",
		Help:      "Remote actions currently waiting for the upstream.",
	}, []string{"action"})

	duplicateQueues = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "duplicate_names_total",
		Help:      "Sibling queues dropped because another sibling had the same name.",
	})

	leafQueues = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "leaves",
		Help:      "Leaf queues in the last scheduler payload.",
	})

	trackedJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracking",
		Name:      "jobs",
		Help:      "Jobs in the last tracking list.",
	})
)

// Register adds all collectors to the default registry.
func Register() {
	prometheus.MustRegister(pollFetches, pollDuration, actions, actionsInFlight)
	prometheus.MustRegister(duplicateQueues, leafQueues, trackedJobs)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObservePoll records one loop fetch.
func ObservePoll(view string, took time.Duration, err error) {
	pollFetches.WithLabelValues(view, result(err)).Inc()
	pollDuration.WithLabelValues(view).Observe(took.Seconds())
}

// ActionStarted marks a remote action as in flight.
func ActionStarted(action string) {
	actionsInFlight.WithLabelValues(action).Inc()
}

// ActionFinished records the outcome of a remote action.
func ActionFinished(action string, err error) {
	actionsInFlight.WithLabelValues(action).Dec()
	actions.WithLabelValues(action, result(err)).Inc()
}

// AddDuplicateQueues counts overwritten sibling queues.
func AddDuplicateQueues(n int) {
	duplicateQueues.Add(float64(n))
}

// SetLeafQueues records the leaf count of the last scheduler payload.
func SetLeafQueues(n int) {
	leafQueues.Set(float64(n))
}

// SetTrackedJobs records the size of the last tracking list.
func SetTrackedJobs(n int) {
	trackedJobs.Set(float64(n))
}
