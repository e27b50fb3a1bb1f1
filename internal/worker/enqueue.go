package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeQuotaThreshold = "quota_threshold"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// QuotaThresholdPayload is the payload for usage threshold notification jobs.
type QuotaThresholdPayload struct {
	UserID    uuid.UUID `json:"user_id"`
	Month     string    `json:"month"` // YYYY-MM
	Dimension string    `json:"dimension"`
	Threshold int       `json:"threshold"`
	Usage     int64     `json:"usage"`
	Limit     int64     `json:"limit"`
	PlanName  string    `json:"plan_name"`
}

// NewQuotaThresholdPayload converts a threshold event to a job payload.
func NewQuotaThresholdPayload(event domain.ThresholdEvent) QuotaThresholdPayload {
	return QuotaThresholdPayload{
		UserID:    event.UserID,
		Month:     event.Month.Format("2006-01"),
		Dimension: string(event.Dimension),
		Threshold: int(event.Threshold),
		Usage:     event.Usage,
		Limit:     event.Limit,
		PlanName:  event.PlanName,
	}
}

// Event converts the payload back to a threshold event.
func (p QuotaThresholdPayload) Event() (domain.ThresholdEvent, error) {
	month, err := time.Parse("2006-01", p.Month)
	if err != nil {
		return domain.ThresholdEvent{}, fmt.Errorf("parse month %q: %w", p.Month, err)
	}
	return domain.ThresholdEvent{
		UserID:    p.UserID,
		Month:     month,
		Dimension: domain.Dimension(p.Dimension),
		Threshold: domain.Threshold(p.Threshold),
		Usage:     p.Usage,
		Limit:     p.Limit,
		PlanName:  p.PlanName,
	}, nil
}

// Enqueuer inserts jobs. *repository.Queries satisfies it.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	queries Enqueuer,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// EnqueueQuotaThreshold enqueues a notification for a crossed usage threshold.
// Exhausted limits are sent ahead of warnings.
func EnqueueQuotaThreshold(
	ctx context.Context,
	queries Enqueuer,
	event domain.ThresholdEvent,
	opts ...EnqueueOption,
) (repository.Job, error) {
	if event.Threshold >= domain.Threshold100 {
		opts = append([]EnqueueOption{WithPriority(PriorityHigh)}, opts...)
	}
	return EnqueueJob(ctx, queries, JobTypeQuotaThreshold, NewQuotaThresholdPayload(event), opts...)
}

// =============================================================================
// Notifier
// =============================================================================

// Notifier delivers threshold events through the job queue so that email
// delivery never blocks the request that crossed the threshold.
type Notifier struct {
	queries Enqueuer
}

// NewNotifier creates a Notifier that enqueues into queries.
func NewNotifier(queries Enqueuer) *Notifier {
	return &Notifier{queries: queries}
}

// NotifyThreshold enqueues a quota_threshold job for event.
func (n *Notifier) NotifyThreshold(ctx context.Context, event domain.ThresholdEvent) error {
	_, err := EnqueueQuotaThreshold(ctx, n.queries, event)
	return err
}
