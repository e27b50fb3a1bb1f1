// Package service contains the business logic layer.
//
// This file implements the quota service: plan limit resolution, enforcement
// of per-month caps and atomic usage recording.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Collaborators
// =============================================================================

// PlanStore resolves the plan attached to a user.
type PlanStore interface {
	// GetActivePlan returns the plan of the user's latest active subscription.
	// It returns (nil, nil) when the user has none.
	GetActivePlan(ctx context.Context, userID uuid.UUID) (*domain.Plan, error)
}

// UsageStore persists per-user, per-month usage counters.
type UsageStore interface {
	// GetOrCreate returns the counter for (userID, month), materializing a
	// zeroed row when none exists.
	GetOrCreate(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error)

	// Get returns the counter for (userID, month), or (nil, nil) when absent.
	Get(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error)

	// Increment atomically checks the cap and adds the quantity, flipping
	// threshold flags in the same write. A rejected increment returns
	// Allowed=false and no error.
	Increment(ctx context.Context, inc domain.UsageIncrement) (*domain.IncrementResult, error)

	// MarkThresholds atomically flips the flags the dimension's current value
	// reaches and returns the newly crossed thresholds.
	MarkThresholds(ctx context.Context, mark domain.ThresholdMark) (*domain.IncrementResult, error)

	// Decrement subtracts quantity from a dimension, flooring at zero.
	// Threshold flags are left as they are.
	Decrement(ctx context.Context, userID uuid.UUID, month time.Time, dim domain.Dimension, quantity int64) (*domain.UsageCounter, error)
}

// Notifier delivers usage threshold events.
type Notifier interface {
	NotifyThreshold(ctx context.Context, event domain.ThresholdEvent) error
}

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for enforcing plan quotas.
type QuotaService interface {
	// ResolveLimits returns the caps of the user's effective plan: the latest
	// active subscription's plan, or the free tier.
	ResolveLimits(ctx context.Context, userID uuid.UUID) (domain.PlanLimits, error)

	// EnforceQuotaLimit checks whether the user may perform action with the
	// given quantity. Returns nil if allowed, or *domain.QuotaExceededError.
	// It does not change usage.
	EnforceQuotaLimit(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) error

	// RecordUsage atomically checks the cap and charges quantity to the
	// action's dimension for the current month.
	RecordUsage(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) (*domain.UsageCounter, error)

	// Reserve charges usage like RecordUsage and returns a handle that is
	// settled with Commit or Release once the guarded operation finishes.
	// Thresholds are not evaluated until Commit.
	Reserve(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) (*Reservation, error)

	// Commit keeps a reservation's charge, flips the threshold flags it
	// reaches and emits their events. Committing twice is a no-op.
	Commit(ctx context.Context, r *Reservation) error

	// Release undoes a reservation.
	Release(ctx context.Context, r *Reservation) error

	// GetUsage returns the user's usage report for the current month.
	GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageReport, error)
}

// Reservation is usage charged ahead of a guarded operation.
type Reservation struct {
	UserID    uuid.UUID
	Action    domain.ActionType
	Dimension domain.Dimension
	Month     time.Time
	Quantity  int64

	limit     domain.Limit
	planName  string
	committed bool
}

// QuotaConfig holds quota service settings.
type QuotaConfig struct {
	// Location is the reference timezone for month boundaries. Default: UTC
	Location *time.Location

	// FreePlan applies to users without an active subscription.
	FreePlan domain.PlanLimits

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	plans    PlanStore
	usage    UsageStore
	notifier Notifier
	config   QuotaConfig
	messages *quotaMessages
	lookups  singleflight.Group
	logger   *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(plans PlanStore, usage UsageStore, notifier Notifier, config QuotaConfig, logger *slog.Logger) QuotaService {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &quotaService{
		plans:    plans,
		usage:    usage,
		notifier: notifier,
		config:   config,
		messages: newQuotaMessages(),
		logger:   logger,
	}
}

// ResolveLimits returns the caps of the user's effective plan.
func (s *quotaService) ResolveLimits(ctx context.Context, userID uuid.UUID) (domain.PlanLimits, error) {
	const op = "quota.resolve_limits"

	// The shared lookup outlives any one caller's cancellation.
	lookupCtx := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(userID.String(), func() (interface{}, error) {
		plan, err := s.plans.GetActivePlan(lookupCtx, userID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return s.config.FreePlan, nil
		}
		return plan.Limits(), nil
	})

	select {
	case <-ctx.Done():
		return domain.PlanLimits{}, domain.Internal(ctx.Err(), op, "failed to resolve plan limits")
	case r := <-ch:
		if r.Err != nil {
			return domain.PlanLimits{}, domain.Internal(r.Err, op, "failed to resolve plan limits")
		}
		return r.Val.(domain.PlanLimits), nil
	}
}

// EnforceQuotaLimit checks the cap without charging usage.
func (s *quotaService) EnforceQuotaLimit(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) error {
	const op = "quota.enforce"

	dim, err := validateCharge(op, action, quantity)
	if err != nil {
		return err
	}

	month := s.currentMonth()
	counter, err := s.usage.GetOrCreate(ctx, userID, month)
	if err != nil {
		metrics.QuotaCheck(action, "error")
		return domain.Internal(err, op, "failed to load usage counter")
	}

	limits, err := s.ResolveLimits(ctx, userID)
	if err != nil {
		metrics.QuotaCheck(action, "error")
		return err
	}

	limit := limits.For(dim)
	current := counter.Value(dim)
	if !limit.Allows(current, quantity) {
		return s.exceeded(op, userID, action, limits, current, quantity)
	}

	metrics.QuotaCheck(action, "allowed")
	return nil
}

// RecordUsage charges quantity to the action's dimension.
func (s *quotaService) RecordUsage(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) (*domain.UsageCounter, error) {
	const op = "quota.record_usage"

	res, inc, limits, err := s.charge(ctx, op, userID, action, quantity)
	if err != nil {
		return nil, err
	}

	s.notifyThresholds(ctx, inc.UserID, inc.Month, inc.Dimension, res.Crossed, res.Counter.Value(inc.Dimension), inc.Limit, limits.PlanName)
	return res.Counter, nil
}

// Reserve charges usage and returns a handle for Commit or Release.
func (s *quotaService) Reserve(ctx context.Context, userID uuid.UUID, action domain.ActionType, quantity int64) (*Reservation, error) {
	const op = "quota.reserve"

	_, inc, limits, err := s.chargeDeferred(ctx, op, userID, action, quantity)
	if err != nil {
		return nil, err
	}

	return &Reservation{
		UserID:    userID,
		Action:    action,
		Dimension: inc.Dimension,
		Month:     inc.Month,
		Quantity:  inc.Quantity,
		limit:     inc.Limit,
		planName:  limits.PlanName,
	}, nil
}

// Commit marks the thresholds a kept reservation reaches and signals them.
func (s *quotaService) Commit(ctx context.Context, r *Reservation) error {
	const op = "quota.commit"

	if r == nil || r.committed {
		return nil
	}

	res, err := s.usage.MarkThresholds(ctx, domain.ThresholdMark{
		UserID:    r.UserID,
		Month:     r.Month,
		Dimension: r.Dimension,
		Limit:     r.limit,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to mark usage thresholds")
	}
	r.committed = true

	s.notifyThresholds(ctx, r.UserID, r.Month, r.Dimension, res.Crossed, res.Counter.Value(r.Dimension), r.limit, r.planName)
	return nil
}

// Release undoes a reservation. The month recorded at reservation time is
// used, so a release that straddles a month boundary still hits the right row.
func (s *quotaService) Release(ctx context.Context, r *Reservation) error {
	const op = "quota.release"

	if r == nil {
		return nil
	}

	if _, err := s.usage.Decrement(ctx, r.UserID, r.Month, r.Dimension, r.Quantity); err != nil {
		return domain.Internal(err, op, "failed to release usage")
	}

	metrics.QuotaReleased(r.Action)
	s.logger.Debug("Released quota reservation",
		"user_id", r.UserID,
		"action", r.Action,
		"quantity", r.Quantity,
	)
	return nil
}

// GetUsage returns the current month's usage report.
func (s *quotaService) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageReport, error) {
	const op = "quota.get_usage"

	limits, err := s.ResolveLimits(ctx, userID)
	if err != nil {
		return nil, err
	}

	month := s.currentMonth()
	counter, err := s.usage.Get(ctx, userID, month)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load usage counter")
	}
	if counter == nil {
		counter = domain.NewUsageCounter(userID, month)
	}

	return domain.NewUsageReport(counter, limits), nil
}

// charge runs one guarded increment that also marks thresholds. Their events
// are left to the caller.
func (s *quotaService) charge(ctx context.Context, op string, userID uuid.UUID, action domain.ActionType, quantity int64) (*domain.IncrementResult, domain.UsageIncrement, domain.PlanLimits, error) {
	return s.increment(ctx, op, userID, action, quantity, false)
}

// chargeDeferred runs one guarded increment and leaves thresholds for Commit.
func (s *quotaService) chargeDeferred(ctx context.Context, op string, userID uuid.UUID, action domain.ActionType, quantity int64) (*domain.IncrementResult, domain.UsageIncrement, domain.PlanLimits, error) {
	return s.increment(ctx, op, userID, action, quantity, true)
}

func (s *quotaService) increment(ctx context.Context, op string, userID uuid.UUID, action domain.ActionType, quantity int64, deferThresholds bool) (*domain.IncrementResult, domain.UsageIncrement, domain.PlanLimits, error) {
	dim, err := validateCharge(op, action, quantity)
	if err != nil {
		return nil, domain.UsageIncrement{}, domain.PlanLimits{}, err
	}

	limits, err := s.ResolveLimits(ctx, userID)
	if err != nil {
		metrics.QuotaCheck(action, "error")
		return nil, domain.UsageIncrement{}, domain.PlanLimits{}, err
	}

	inc := domain.UsageIncrement{
		UserID:          userID,
		Month:           s.currentMonth(),
		Dimension:       dim,
		Quantity:        quantity,
		Limit:           limits.For(dim),
		DeferThresholds: deferThresholds,
	}

	res, err := s.usage.Increment(ctx, inc)
	if err != nil {
		metrics.QuotaCheck(action, "error")
		return nil, inc, limits, domain.Internal(err, op, "failed to record usage")
	}
	if !res.Allowed {
		return nil, inc, limits, s.exceeded(op, userID, action, limits, res.Counter.Value(dim), quantity)
	}

	metrics.QuotaCheck(action, "allowed")
	metrics.UsageRecorded(dim, quantity)
	return res, inc, limits, nil
}

// notifyThresholds emits one event per threshold. Delivery failures are
// logged; the flags are already written.
func (s *quotaService) notifyThresholds(ctx context.Context, userID uuid.UUID, month time.Time, dim domain.Dimension, thresholds []domain.Threshold, usage int64, limit domain.Limit, planName string) {
	for _, threshold := range thresholds {
		event := domain.ThresholdEvent{
			UserID:    userID,
			Month:     month,
			Dimension: dim,
			Threshold: threshold,
			Usage:     usage,
			Limit:     limit.Int64(),
			PlanName:  planName,
		}

		metrics.ThresholdNotified(threshold)
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.NotifyThreshold(ctx, event); err != nil {
			s.logger.Warn("Failed to send quota threshold notification",
				"user_id", userID,
				"dimension", dim,
				"threshold", int(threshold),
				"error", err,
			)
		}
	}
}

// exceeded logs a rejection and builds the error returned to callers.
func (s *quotaService) exceeded(op string, userID uuid.UUID, action domain.ActionType, limits domain.PlanLimits, current, quantity int64) error {
	dim, _ := action.Dimension()
	max := limits.For(dim).Max()

	s.logger.Info("Quota exceeded",
		"user_id", userID,
		"plan", limits.PlanName,
		"action", action,
		"used", current,
		"requested", quantity,
		"limit", max,
	)
	metrics.QuotaCheck(action, "exceeded")

	msg := s.messages.exceeded(action, limits.PlanName, current, max)
	return domain.QuotaExceeded(op, action, msg, current, max)
}

// currentMonth returns the first day of the current month in the reference timezone.
func (s *quotaService) currentMonth() time.Time {
	return domain.MonthStart(s.config.Now(), s.config.Location)
}

// validateCharge checks the action and quantity and returns the charged dimension.
func validateCharge(op string, action domain.ActionType, quantity int64) (domain.Dimension, error) {
	dim, ok := action.Dimension()
	if !ok {
		return "", domain.Errorf(domain.EINVALID, op, "unknown action type %q", action)
	}
	if quantity <= 0 {
		return "", domain.Errorf(domain.EINVALID, op, "quantity must be positive, got %d", quantity)
	}
	return dim, nil
}
