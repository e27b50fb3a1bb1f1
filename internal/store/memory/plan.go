package memory

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/google/uuid"
)

// PlanStore keeps plans and subscriptions in memory.
type PlanStore struct {
	mu            sync.RWMutex
	plans         map[uuid.UUID]*domain.Plan
	subscriptions map[uuid.UUID][]domain.Subscription
	now           func() time.Time
}

// NewPlanStore creates an empty PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{
		plans:         make(map[uuid.UUID]*domain.Plan),
		subscriptions: make(map[uuid.UUID][]domain.Subscription),
		now:           time.Now,
	}
}

// AddPlan stores a plan, assigning an ID when it has none.
func (s *PlanStore) AddPlan(plan domain.Plan) *domain.Plan {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	now := s.now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = &plan
	cp := plan
	return &cp
}

// Subscribe attaches a plan to a user with the given status.
func (s *PlanStore) Subscribe(userID, planID uuid.UUID, status domain.SubscriptionStatus) domain.Subscription {
	now := s.now()
	sub := domain.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    planID,
		Status:    status,
		StartsAt:  now,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[userID] = append(s.subscriptions[userID], sub)
	return sub
}

// GetActivePlan returns the plan of the latest-created active subscription
// that has not ended, or nil.
func (s *PlanStore) GetActivePlan(ctx context.Context, userID uuid.UUID) (*domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var latest *domain.Subscription
	for i := range s.subscriptions[userID] {
		sub := &s.subscriptions[userID][i]
		if !sub.IsActive() {
			continue
		}
		if sub.EndsAt != nil && !sub.EndsAt.After(now) {
			continue
		}
		if latest == nil || !sub.CreatedAt.Before(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, nil
	}

	plan, ok := s.plans[latest.PlanID]
	if !ok {
		return nil, nil
	}
	cp := *plan
	return &cp, nil
}
