// Package metrics holds the prometheus collectors of the storage layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_sequence_allocations_total",
			Help: "Number of uids and mod-sequences allocated.",
		},
		[]string{"kind"},
	)
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_messages_total",
			Help: "Number of messages added and removed.",
		},
		[]string{"op"},
	)
	metricFlagUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_flag_updates_total",
			Help: "Number of message records inspected by flag updates, by outcome.",
		},
		[]string{"result"},
	)
	metricExpungeRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailstore_expunge_skipped_total",
			Help: "Number of rows an expunge found already removed by a concurrent operation.",
		},
	)
	metricCounterDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_counter_drift_total",
			Help: "Number of mailbox counters found wrong and fixed by a recount.",
		},
		[]string{"counter"},
	)
	metricQuotaUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_quota_updates_total",
			Help: "Number of quota current value updates.",
		},
		[]string{"type", "direction"},
	)
	metricBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_backend_errors_total",
			Help: "Number of failed storage operations, by kind.",
		},
		[]string{"op", "kind"},
	)
)

func UIDAllocated() {
	metricAllocations.WithLabelValues("uid").Inc()
}

func ModSeqAllocated() {
	metricAllocations.WithLabelValues("modseq").Inc()
}

func MessagesAdded(n int) {
	metricMessages.WithLabelValues("added").Add(float64(n))
}

func MessagesRemoved(n int) {
	metricMessages.WithLabelValues("removed").Add(float64(n))
}

func FlagsChanged() {
	metricFlagUpdates.WithLabelValues("changed").Inc()
}

func FlagsUnchanged() {
	metricFlagUpdates.WithLabelValues("unchanged").Inc()
}

func FlagsFailed() {
	metricFlagUpdates.WithLabelValues("failed").Inc()
}

func FlagsSkipped() {
	metricFlagUpdates.WithLabelValues("skipped").Inc()
}

func ExpungeRowSkipped() {
	metricExpungeRaces.Inc()
}

func CounterDrift(counter string) {
	metricCounterDrift.WithLabelValues(counter).Inc()
}

func QuotaUpdated(typ string, delta int64) {
	direction := "increase"
	if delta < 0 {
		direction = "decrease"
	}

	metricQuotaUpdates.WithLabelValues(typ, direction).Inc()
}

func BackendError(op, kind string) {
	metricBackendErrors.WithLabelValues(op, kind).Inc()
}
