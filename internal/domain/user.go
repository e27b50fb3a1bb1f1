package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is an account owner. Usage is always charged to a user.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the identity a verified bearer token carries.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// Repository rows use sql.Null* types; domain types use zero values and
// pointers. These convert at the store boundary.

func NullStringValue(ns sql.NullString) string {
	return ns.String
}

func NullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func ToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
