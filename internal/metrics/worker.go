package metrics

import "time"

// JobStarted marks a scheduled job as running on this instance.
func JobStarted(jobType string) {
	JobsInFlight.WithLabelValues(jobType).Inc()
}

// JobCompleted records a successful job run
func JobCompleted(jobType string, duration time.Duration) {
	JobsInFlight.WithLabelValues(jobType).Dec()
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a failed job run
func JobFailed(jobType string, duration time.Duration) {
	JobsInFlight.WithLabelValues(jobType).Dec()
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobSkipped records a tick that another instance already holds.
func JobSkipped(jobType string) {
	JobsTotal.WithLabelValues(jobType, "skipped").Inc()
}

// NotificationDelivered records a delivered notification.
func NotificationDelivered(notificationType string) {
	NotificationsSent.WithLabelValues(notificationType, "delivered").Inc()
}

// NotificationFailed records a delivery failure. Failures never fail the
// state change that triggered them.
func NotificationFailed(notificationType string) {
	NotificationsSent.WithLabelValues(notificationType, "failed").Inc()
}

// JobLeaseFailed records a tick that could not reach the lease backend.
func JobLeaseFailed(jobType string) {
	JobsTotal.WithLabelValues(jobType, "lease_error").Inc()
}
