package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// entitledStatuses are the subscription statuses that grant a plan's limits.
var entitledStatuses = []string{string(domain.SubscriptionStatusActive)}

// PlanStore reads and writes plans and subscriptions.
type PlanStore struct {
	queries *repository.Queries
}

// NewPlanStore creates a PlanStore.
func NewPlanStore(queries *repository.Queries) *PlanStore {
	return &PlanStore{queries: queries}
}

// GetActivePlan returns the plan of the user's latest active subscription, or nil.
func (s *PlanStore) GetActivePlan(ctx context.Context, userID uuid.UUID) (*domain.Plan, error) {
	row, err := s.queries.GetActivePlanForUser(ctx, repository.GetActivePlanForUserParams{
		UserID:   userID,
		Statuses: entitledStatuses,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active plan: %w", err)
	}
	return toDomainPlan(row), nil
}

// GetPlanByName returns the named plan.
func (s *PlanStore) GetPlanByName(ctx context.Context, name string) (*domain.Plan, error) {
	const op = "plan.get_by_name"

	row, err := s.queries.GetPlanByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ENOTFOUND, op, "plan %q not found", name)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to get plan")
	}
	return toDomainPlan(row), nil
}

// CreatePlan inserts a plan. Duplicate names are reported as ECONFLICT.
func (s *PlanStore) CreatePlan(ctx context.Context, plan domain.Plan) (*domain.Plan, error) {
	const op = "plan.create"

	row, err := s.queries.CreatePlan(ctx, repository.CreatePlanParams{
		Name:                   plan.Name,
		PriceCents:             plan.PriceCents,
		BillingRefs:            toNullRawMessage(plan.BillingRefs),
		MaxForms:               plan.MaxForms.Int64(),
		MaxSubmissionsPerMonth: plan.MaxSubmissionsPerMonth.Int64(),
		MaxStorageMb:           plan.MaxStorageMB.Int64(),
	})
	if err != nil {
		if isPgError(err, codeUniqueViolation) {
			return nil, domain.Errorf(domain.ECONFLICT, op, "plan %q already exists", plan.Name)
		}
		if isPgError(err, codeCheckViolation) {
			return nil, domain.Invalid(op, "plan limits must be -1 (unlimited) or non-negative")
		}
		return nil, domain.Internal(err, op, "failed to create plan")
	}
	return toDomainPlan(row), nil
}

// Subscribe attaches a plan to a user.
func (s *PlanStore) Subscribe(ctx context.Context, userID, planID uuid.UUID, status domain.SubscriptionStatus, endsAt *time.Time) (*domain.Subscription, error) {
	const op = "subscription.create"

	if !status.IsValid() {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown subscription status %q", status))
	}

	row, err := s.queries.CreateSubscription(ctx, repository.CreateSubscriptionParams{
		UserID:   userID,
		PlanID:   planID,
		Status:   string(status),
		StartsAt: time.Now(),
		EndsAt:   domain.ToNullTime(endsAt),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create subscription")
	}

	return &domain.Subscription{
		ID:        row.ID,
		UserID:    row.UserID,
		PlanID:    row.PlanID,
		Status:    domain.SubscriptionStatus(row.Status),
		StartsAt:  row.StartsAt,
		EndsAt:    domain.NullTimeValue(row.EndsAt),
		CreatedAt: row.CreatedAt,
	}, nil
}

func toDomainPlan(row repository.Plan) *domain.Plan {
	var refs json.RawMessage
	if row.BillingRefs.Valid {
		refs = row.BillingRefs.RawMessage
	}
	return &domain.Plan{
		ID:                     row.ID,
		Name:                   row.Name,
		PriceCents:             row.PriceCents,
		BillingRefs:            refs,
		MaxForms:               domain.LimitFromInt(row.MaxForms),
		MaxSubmissionsPerMonth: domain.LimitFromInt(row.MaxSubmissionsPerMonth),
		MaxStorageMB:           domain.LimitFromInt(row.MaxStorageMb),
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
}

func toNullRawMessage(raw json.RawMessage) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
