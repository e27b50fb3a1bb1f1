// This file defines subscription plans and the subscriptions that attach a
// plan to a user.

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// IsValid returns true if the status is a known subscription status.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCancelled,
		SubscriptionStatusPastDue, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Entitles reports whether a subscription in this status grants its plan's limits.
// Only "active" does. Every other status falls back to the free tier.
func (s SubscriptionStatus) Entitles() bool {
	return s == SubscriptionStatusActive
}

// Plan is a named bundle of quota caps. A cap of -1 in storage means unlimited.
type Plan struct {
	ID                     uuid.UUID
	Name                   string
	PriceCents             int64
	BillingRefs            json.RawMessage // opaque payment-provider references
	MaxForms               Limit
	MaxSubmissionsPerMonth Limit
	MaxStorageMB           Limit
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Limits returns the plan's caps as PlanLimits.
func (p *Plan) Limits() PlanLimits {
	return PlanLimits{
		PlanID:                 p.ID,
		PlanName:               p.Name,
		MaxForms:               p.MaxForms,
		MaxSubmissionsPerMonth: p.MaxSubmissionsPerMonth,
		MaxStorageMB:           p.MaxStorageMB,
	}
}

// FreePlanName is the display name of the fallback tier.
const FreePlanName = "Free"

// FreePlanLimits returns the fallback tier for users without an active
// subscription. The caps come from configuration.
func FreePlanLimits(maxForms, maxSubmissions, maxStorageMB int64) PlanLimits {
	return PlanLimits{
		PlanID:                 uuid.Nil,
		PlanName:               FreePlanName,
		MaxForms:               LimitFromInt(maxForms),
		MaxSubmissionsPerMonth: LimitFromInt(maxSubmissions),
		MaxStorageMB:           LimitFromInt(maxStorageMB),
	}
}

// Subscription links a user to a plan.
type Subscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PlanID    uuid.UUID
	Status    SubscriptionStatus
	StartsAt  time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
}

// IsActive returns true if the subscription currently entitles its plan.
func (s *Subscription) IsActive() bool {
	return s.Status.Entitles()
}
