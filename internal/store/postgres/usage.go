package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/google/uuid"
)

// UsageStore persists usage counters in the usage_counters table.
//
// Every increment runs in its own transaction that materializes the
// (user, month) row, locks it with SELECT ... FOR UPDATE, applies the cap
// check and writes the new values. Concurrent increments for the same user
// and month are therefore serialized by the row lock.
type UsageStore struct {
	db      *sql.DB
	queries *repository.Queries
}

// NewUsageStore creates a UsageStore.
func NewUsageStore(db *sql.DB, queries *repository.Queries) *UsageStore {
	return &UsageStore{db: db, queries: queries}
}

// GetOrCreate returns the counter for (userID, month), inserting a zeroed row if needed.
func (s *UsageStore) GetOrCreate(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error) {
	if err := s.queries.EnsureUsageCounter(ctx, repository.EnsureUsageCounterParams{
		UserID: userID,
		Month:  month,
	}); err != nil {
		return nil, fmt.Errorf("ensure usage counter: %w", err)
	}

	row, err := s.queries.GetUsageCounter(ctx, repository.GetUsageCounterParams{
		UserID: userID,
		Month:  month,
	})
	if err != nil {
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	return toDomainCounter(row, month), nil
}

// Get returns the counter for (userID, month), or nil when no row exists.
func (s *UsageStore) Get(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error) {
	row, err := s.queries.GetUsageCounter(ctx, repository.GetUsageCounterParams{
		UserID: userID,
		Month:  month,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	return toDomainCounter(row, month), nil
}

// Increment performs the guarded increment under a row lock.
func (s *UsageStore) Increment(ctx context.Context, inc domain.UsageIncrement) (*domain.IncrementResult, error) {
	var result *domain.IncrementResult

	err := withTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		if err := q.EnsureUsageCounter(ctx, repository.EnsureUsageCounterParams{
			UserID: inc.UserID,
			Month:  inc.Month,
		}); err != nil {
			return fmt.Errorf("ensure usage counter: %w", err)
		}

		row, err := q.GetUsageCounterForUpdate(ctx, repository.GetUsageCounterForUpdateParams{
			UserID: inc.UserID,
			Month:  inc.Month,
		})
		if err != nil {
			return fmt.Errorf("lock usage counter: %w", err)
		}

		counter := toDomainCounter(row, inc.Month)
		crossed, ok := counter.Apply(inc)
		if !ok {
			result = &domain.IncrementResult{Counter: counter, Allowed: false}
			return nil
		}

		row, err = q.UpdateUsageCounter(ctx, toUpdateParams(counter))
		if err != nil {
			return fmt.Errorf("update usage counter: %w", err)
		}

		result = &domain.IncrementResult{
			Counter: toDomainCounter(row, inc.Month),
			Allowed: true,
			Crossed: crossed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkThresholds flips the flags the current value reaches, under the same
// row lock Increment takes.
func (s *UsageStore) MarkThresholds(ctx context.Context, mark domain.ThresholdMark) (*domain.IncrementResult, error) {
	var result *domain.IncrementResult

	err := withTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		row, err := q.GetUsageCounterForUpdate(ctx, repository.GetUsageCounterForUpdateParams{
			UserID: mark.UserID,
			Month:  mark.Month,
		})
		if errors.Is(err, sql.ErrNoRows) {
			result = &domain.IncrementResult{Counter: domain.NewUsageCounter(mark.UserID, mark.Month), Allowed: true}
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock usage counter: %w", err)
		}

		counter := toDomainCounter(row, mark.Month)
		crossed := counter.MarkThresholds(mark.Dimension, mark.Limit)
		if len(crossed) == 0 {
			result = &domain.IncrementResult{Counter: counter, Allowed: true}
			return nil
		}

		row, err = q.UpdateUsageCounter(ctx, toUpdateParams(counter))
		if err != nil {
			return fmt.Errorf("update usage counter: %w", err)
		}

		result = &domain.IncrementResult{
			Counter: toDomainCounter(row, mark.Month),
			Allowed: true,
			Crossed: crossed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Decrement subtracts quantity from one dimension, flooring at zero. A missing
// row is treated as already released.
func (s *UsageStore) Decrement(ctx context.Context, userID uuid.UUID, month time.Time, dim domain.Dimension, quantity int64) (*domain.UsageCounter, error) {
	var counter *domain.UsageCounter

	err := withTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		row, err := q.GetUsageCounterForUpdate(ctx, repository.GetUsageCounterForUpdateParams{
			UserID: userID,
			Month:  month,
		})
		if errors.Is(err, sql.ErrNoRows) {
			counter = domain.NewUsageCounter(userID, month)
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock usage counter: %w", err)
		}

		c := toDomainCounter(row, month)
		c.Add(dim, -quantity)

		row, err = q.UpdateUsageCounter(ctx, toUpdateParams(c))
		if err != nil {
			return fmt.Errorf("update usage counter: %w", err)
		}
		counter = toDomainCounter(row, month)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decrement usage counter: %w", err)
	}
	return counter, nil
}

// toDomainCounter converts a row. DATE columns scan as UTC midnight, so the
// caller's month (in the reference timezone) replaces the scanned value.
func toDomainCounter(row repository.UsageCounter, month time.Time) *domain.UsageCounter {
	return &domain.UsageCounter{
		UserID:          row.UserID,
		Month:           month,
		FormCount:       row.FormCount,
		SubmissionCount: row.SubmissionCount,
		StorageUsedMB:   row.StorageUsedMb,
		FormFlags: domain.ThresholdFlags{
			Notified80:  row.FormsNotified80,
			Notified100: row.FormsNotified100,
		},
		SubmissionFlags: domain.ThresholdFlags{
			Notified80:  row.SubmissionsNotified80,
			Notified100: row.SubmissionsNotified100,
		},
		StorageFlags: domain.ThresholdFlags{
			Notified80:  row.StorageNotified80,
			Notified100: row.StorageNotified100,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toUpdateParams(c *domain.UsageCounter) repository.UpdateUsageCounterParams {
	return repository.UpdateUsageCounterParams{
		UserID:                 c.UserID,
		Month:                  c.Month,
		FormCount:              c.FormCount,
		SubmissionCount:        c.SubmissionCount,
		StorageUsedMb:          c.StorageUsedMB,
		FormsNotified80:        c.FormFlags.Notified80,
		FormsNotified100:       c.FormFlags.Notified100,
		SubmissionsNotified80:  c.SubmissionFlags.Notified80,
		SubmissionsNotified100: c.SubmissionFlags.Notified100,
		StorageNotified80:      c.StorageFlags.Notified80,
		StorageNotified100:     c.StorageFlags.Notified100,
	}
}
