package dialer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================
// RECONCILER METRICS
// ============================================

var (
	metricPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialer",
		Name:      "polls_total",
		Help:      "Completed call-list poll cycles.",
	})
	metricPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialer",
		Name:      "poll_errors_total",
		Help:      "Failed call-list fetches.",
	})
	metricSnapshotReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialer",
		Name:      "snapshot_replacements_total",
		Help:      "Times the current-calls snapshot was structurally replaced.",
	})
	metricCallEndedNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialer",
		Name:      "call_ended_notifications_total",
		Help:      "Deduplicated call-ended notifications emitted.",
	})
)
