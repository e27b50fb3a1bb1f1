package metrics

import (
	"strconv"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
)

// JobCompleted records a successful job completion
func JobCompleted(jobType string, duration time.Duration) {
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a job failure
func JobFailed(jobType string) {
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
}

// JobRetried records a job retry attempt
func JobRetried(jobType string) {
	JobRetriesTotal.WithLabelValues(jobType).Inc()
}

// QuotaCheck records the outcome of a quota check for an action.
func QuotaCheck(action domain.ActionType, result string) {
	QuotaChecksTotal.WithLabelValues(string(action), result).Inc()
}

// QuotaFailOpen records a request let through after a quota failure.
func QuotaFailOpen(action domain.ActionType) {
	QuotaFailOpenTotal.WithLabelValues(string(action)).Inc()
}

// QuotaReleased records a released reservation.
func QuotaReleased(action domain.ActionType) {
	QuotaReleasesTotal.WithLabelValues(string(action)).Inc()
}

// ThresholdNotified records an emitted threshold notification.
func ThresholdNotified(threshold domain.Threshold) {
	QuotaThresholdNotificationsTotal.WithLabelValues(strconv.Itoa(int(threshold))).Inc()
}

// UsageRecorded records units charged to a dimension.
func UsageRecorded(dim domain.Dimension, quantity int64) {
	UsageRecordedUnitsTotal.WithLabelValues(string(dim)).Add(float64(quantity))
}
