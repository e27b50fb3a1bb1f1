package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/email"
	"github.com/DukeRupert/formwell/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	users map[uuid.UUID]*domain.User
	err   error
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, domain.NotFound("user.get", "user", id.String())
	}
	return u, nil
}

type sentEmail struct {
	to, name string
	notice   email.ThresholdNotice
}

type fakeEmail struct {
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendThresholdEmail(_ context.Context, to, name string, notice email.ThresholdNotice) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: to, name: name, notice: notice})
	return nil
}

func newTestHandler(users *fakeUsers, mail *fakeEmail) *QuotaThresholdHandler {
	return NewQuotaThresholdHandler(users, mail, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func payloadFor(t *testing.T, userID uuid.UUID, threshold int) []byte {
	t.Helper()
	b, err := json.Marshal(worker.QuotaThresholdPayload{
		UserID:    userID,
		Month:     "2026-03",
		Dimension: string(domain.DimensionSubmissions),
		Threshold: threshold,
		Usage:     8000,
		Limit:     10000,
		PlanName:  "starter",
	})
	require.NoError(t, err)
	return b
}

func TestQuotaThresholdHandler_SendsEmail(t *testing.T) {
	user := &domain.User{ID: uuid.New(), Email: "ada@example.com", Name: "Ada"}
	mail := &fakeEmail{}
	h := newTestHandler(&fakeUsers{users: map[uuid.UUID]*domain.User{user.ID: user}}, mail)

	require.NoError(t, h.Handle(context.Background(), payloadFor(t, user.ID, 80)))

	require.Len(t, mail.sent, 1)
	got := mail.sent[0]
	assert.Equal(t, "ada@example.com", got.to)
	assert.Equal(t, "Ada", got.name)
	assert.Equal(t, 80, got.notice.Threshold)
	assert.Equal(t, "submissions", got.notice.Dimension)
	assert.Equal(t, "2026-03", got.notice.Month)
	assert.Contains(t, got.notice.Message, "8,000 of 10,000 submissions")
	assert.Contains(t, got.notice.Message, "Starter")
}

func TestQuotaThresholdHandler_PermanentFailures(t *testing.T) {
	h := newTestHandler(&fakeUsers{users: map[uuid.UUID]*domain.User{}}, &fakeEmail{})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed payload", []byte(`{"user_id":`)},
		{"bad month", []byte(`{"user_id":"` + uuid.NewString() + `","month":"March"}`)},
		{"unknown user", payloadFor(t, uuid.New(), 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(context.Background(), tt.payload)
			require.Error(t, err)
			assert.True(t, worker.IsPermanent(err), "want permanent error, got %v", err)
		})
	}
}

func TestQuotaThresholdHandler_RetriesTransientFailures(t *testing.T) {
	user := &domain.User{ID: uuid.New(), Email: "ada@example.com"}

	t.Run("user lookup", func(t *testing.T) {
		h := newTestHandler(&fakeUsers{err: errors.New("connection reset")}, &fakeEmail{})
		err := h.Handle(context.Background(), payloadFor(t, user.ID, 80))
		require.Error(t, err)
		assert.False(t, worker.IsPermanent(err))
	})

	t.Run("smtp", func(t *testing.T) {
		users := &fakeUsers{users: map[uuid.UUID]*domain.User{user.ID: user}}
		h := newTestHandler(users, &fakeEmail{err: errors.New("421 try again")})
		err := h.Handle(context.Background(), payloadFor(t, user.ID, 80))
		require.Error(t, err)
		assert.False(t, worker.IsPermanent(err))
	})
}

func TestQuotaThresholdHandler_Type(t *testing.T) {
	h := newTestHandler(&fakeUsers{}, &fakeEmail{})
	assert.Equal(t, worker.JobTypeQuotaThreshold, h.Type())
}
