package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_submissions_total",
		Help: "Check-in submissions by outcome (on_time, late, absent or the rejection reason).",
	}, []string{"outcome"})

	rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_window_rotations_total",
		Help: "Window rotations by result.",
	}, []string{"result"})

	activeWindowCreated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkin_active_window_created_timestamp_seconds",
		Help: "Unix time at which the current active window was opened by this process.",
	})
)

// ObserveSubmission counts one check-in submission.
func ObserveSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// ObserveRotation counts one rotation; createdAt is recorded when it succeeded.
func ObserveRotation(result string, createdAt time.Time) {
	rotations.WithLabelValues(result).Inc()
	if !createdAt.IsZero() {
		activeWindowCreated.Set(float64(createdAt.Unix()))
	}
}
