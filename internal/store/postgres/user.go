package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/google/uuid"
)

// UserStore reads and creates users.
type UserStore struct {
	queries *repository.Queries
}

// NewUserStore creates a UserStore.
func NewUserStore(queries *repository.Queries) *UserStore {
	return &UserStore{queries: queries}
}

// GetUser returns a user by ID.
func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "user.get"

	row, err := s.queries.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "user", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to get user")
	}
	return toDomainUser(row), nil
}

// CreateUser inserts a user. A duplicate email is reported as ECONFLICT.
func (s *UserStore) CreateUser(ctx context.Context, email, name string) (*domain.User, error) {
	const op = "user.create"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.Invalid(op, "email is required")
	}

	row, err := s.queries.CreateUser(ctx, repository.CreateUserParams{
		Email: email,
		Name:  domain.ToNullString(strings.TrimSpace(name)),
	})
	if err != nil {
		if isPgError(err, codeUniqueViolation) {
			return nil, domain.Errorf(domain.ECONFLICT, op, "a user with email %s already exists", email)
		}
		return nil, domain.Internal(err, op, "failed to create user")
	}
	return toDomainUser(row), nil
}

func toDomainUser(row repository.User) *domain.User {
	return &domain.User{
		ID:        row.ID,
		Email:     row.Email,
		Name:      domain.NullStringValue(row.Name),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
